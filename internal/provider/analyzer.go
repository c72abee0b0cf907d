package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
)

const defaultAnalyzerTimeout = 30 * time.Second

type analyzeRequest struct {
	ItemRef       string         `json:"itemRef"`
	OperationType string         `json:"operationType"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

type partialResponse struct {
	Results []map[string]any `json:"results"`
	Failed  int              `json:"failed"`
	Message string           `json:"message"`
}

type processingFailureResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// HTTPAnalyzer calls an image analysis service over HTTP, one endpoint per operation type.
type HTTPAnalyzer struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPAnalyzer(baseURL string, timeout time.Duration) (*HTTPAnalyzer, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultAnalyzerTimeout
	}
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewHTTPAnalyzerWithClient(baseURL, client)
}

func NewHTTPAnalyzerWithClient(baseURL string, client *resty.Client) (*HTTPAnalyzer, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("analyzer url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid analyzer url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAnalyzerTimeout)
	}
	// Retries are owned by the batch orchestrator.
	client.SetRetryCount(0)

	return &HTTPAnalyzer{
		client:  client,
		baseURL: trimmed,
	}, nil
}

// Handler binds the analyzer to a single operation type.
func (a *HTTPAnalyzer) Handler(opType domain.OperationType) Handler {
	return HandlerFunc(func(ctx context.Context, itemRef string, parameters map[string]any) (any, error) {
		return a.Analyze(ctx, opType, itemRef, parameters)
	})
}

func (a *HTTPAnalyzer) Analyze(
	ctx context.Context,
	opType domain.OperationType,
	itemRef string,
	parameters map[string]any,
) (any, error) {
	if a == nil || a.client == nil {
		return nil, fmt.Errorf("analyzer is not initialized")
	}

	reqBody := analyzeRequest{
		ItemRef:       itemRef,
		OperationType: opType.String(),
		Parameters:    parameters,
	}

	response, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(reqBody).
		Post(a.endpoint(opType))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		code := CodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeDeadlineExceeded
		}
		return nil, &ServiceError{
			Code:    code,
			Message: "analyzer request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &ServiceError{
			Code:    CodeUnavailable,
			Message: "analyzer returned empty response",
		}
	}

	statusCode := response.StatusCode()
	body := response.Body()

	switch {
	case statusCode == http.StatusMultiStatus:
		return nil, decodePartial(body)
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return decodeResult(body)
	case statusCode == http.StatusUnprocessableEntity:
		return nil, decodeProcessingFailure(body)
	}

	return nil, &ServiceError{
		Code:       codeForStatus(statusCode),
		StatusCode: statusCode,
		Message:    analyzerErrorMessage(statusCode, strings.TrimSpace(string(body))),
		RetryAfter: parseRetryAfter(response.Header().Get("Retry-After")),
	}
}

func (a *HTTPAnalyzer) endpoint(opType domain.OperationType) string {
	return fmt.Sprintf("%s/v1/operations/%s", a.baseURL, url.PathEscape(opType.String()))
}

// NewHTTPDispatcher registers the analyzer for every built-in operation type.
func NewHTTPDispatcher(analyzer *HTTPAnalyzer) *Dispatcher {
	handlers := make(map[domain.OperationType]Handler)
	for _, opType := range domain.OperationTypes() {
		handlers[opType] = analyzer.Handler(opType)
	}
	return NewDispatcher(handlers)
}

func decodeResult(body []byte) (any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return map[string]any{}, nil
	}
	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ProcessingError{
			Message: "analyzer returned malformed json",
			Cause:   err,
		}
	}
	return result, nil
}

func decodePartial(body []byte) error {
	var payload partialResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return &ProcessingError{
			Message: "analyzer returned malformed partial response",
			Cause:   err,
		}
	}
	return &PartialError{
		Message: payload.Message,
		Results: payload.Results,
		Failed:  payload.Failed,
	}
}

func decodeProcessingFailure(body []byte) error {
	var payload processingFailureResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return &ProcessingError{
			Message: strings.TrimSpace(string(body)),
		}
	}
	return &ProcessingError{
		Message:     payload.Error,
		Recoverable: payload.Retryable,
	}
}

func codeForStatus(statusCode int) ServiceErrorCode {
	switch statusCode {
	case http.StatusTooManyRequests:
		return CodeQuotaExceeded
	case http.StatusUnauthorized:
		return CodeUnauthenticated
	case http.StatusForbidden:
		return CodePermissionDenied
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return CodeUnavailable
	case http.StatusGatewayTimeout:
		return CodeDeadlineExceeded
	}
	if statusCode >= http.StatusInternalServerError {
		return CodeInternal
	}
	return CodeInvalidArgument
}

func analyzerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("analyzer returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func parseRetryAfter(value string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
