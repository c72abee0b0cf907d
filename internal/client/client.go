// Package client is a thin HTTP client for the batch engine API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/service"
)

const DefaultTimeout = 15 * time.Second

// APIError is returned for every non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

type CreateBatchRequest struct {
	Operations              []service.OperationRequest `json:"operations"`
	CallbackURL             string                     `json:"callbackUrl,omitempty"`
	MaxConcurrentOperations int                        `json:"maxConcurrentOperations,omitempty"`
	AutoStart               bool                       `json:"autoStart,omitempty"`
}

type CreateBatchResponse struct {
	BatchID         string        `json:"batchId"`
	Status          domain.Status `json:"status"`
	TotalOperations int           `json:"totalOperations"`
}

type BatchState struct {
	BatchID string        `json:"batchId"`
	Status  domain.Status `json:"status"`
}

type Client struct {
	http *resty.Client
}

type Option func(c *resty.Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *resty.Client) {
		if timeout > 0 {
			c.SetTimeout(timeout)
		}
	}
}

// WithRequestID sends a fixed X-Request-ID with every call.
func WithRequestID(id string) Option {
	return func(c *resty.Client) {
		if id = strings.TrimSpace(id); id != "" {
			c.SetHeader("X-Request-ID", id)
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.ParseRequestURI(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}

	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(rc)
	}

	return &Client{http: rc}, nil
}

func (c *Client) CreateBatch(ctx context.Context, req CreateBatchRequest) (*CreateBatchResponse, error) {
	var out CreateBatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/batches", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StartBatch(ctx context.Context, batchID string) (*BatchState, error) {
	var out BatchState
	if err := c.do(ctx, http.MethodPost, batchPath(batchID, "start"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CancelBatch(ctx context.Context, batchID string) (*BatchState, error) {
	var out BatchState
	if err := c.do(ctx, http.MethodPost, batchPath(batchID, "cancel"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetStatus(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
	var out domain.BatchSnapshot
	if err := c.do(ctx, http.MethodGet, batchPath(batchID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetResults(ctx context.Context, batchID string) (*service.BatchResults, error) {
	var out service.BatchResults
	if err := c.do(ctx, http.MethodGet, batchPath(batchID, "results"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Statistics(ctx context.Context) (*service.Statistics, error) {
	var out service.Statistics
	if err := c.do(ctx, http.MethodGet, "/v1/statistics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AttemptsResponse is the audit trail of a batch.
type AttemptsResponse struct {
	BatchID  string                `json:"batchId"`
	Attempts []service.AttemptView `json:"attempts"`
}

// ListAttempts fetches recorded handler invocations. operationID may be empty.
func (c *Client) ListAttempts(ctx context.Context, batchID string, operationID string) (*AttemptsResponse, error) {
	path := batchPath(batchID, "attempts")
	if operationID = strings.TrimSpace(operationID); operationID != "" {
		path += "?" + url.Values{"operationId": {operationID}}.Encode()
	}

	var out AttemptsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	} else {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return apiErr
}

func batchPath(batchID string, action string) string {
	p := "/v1/batches/" + url.PathEscape(strings.TrimSpace(batchID))
	if action != "" {
		p += "/" + action
	}
	return p
}
