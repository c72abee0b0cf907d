package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 10 * time.Second

// Transport delivers a completion payload to a caller-supplied endpoint.
type Transport interface {
	Post(ctx context.Context, endpoint string, payload any) error
}

// DeliveryError is returned when the endpoint could not be reached or answered non-2xx.
type DeliveryError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("callback to %s failed", e.Endpoint)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s with status %d", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = msg + ": " + e.Message
	}
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// WebhookTransport makes exactly one POST attempt per delivery.
type WebhookTransport struct {
	client *resty.Client
}

func NewWebhookTransport(timeout time.Duration) *WebhookTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	transport, _ := NewWebhookTransportWithClient(client)
	return transport
}

func NewWebhookTransportWithClient(client *resty.Client) (*WebhookTransport, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(DefaultTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookTransport{client: client}, nil
}

func (t *WebhookTransport) Post(ctx context.Context, endpoint string, payload any) error {
	if t == nil || t.client == nil {
		return fmt.Errorf("callback transport is not initialized")
	}

	target := strings.TrimSpace(endpoint)
	if err := ValidateEndpoint(target); err != nil {
		return err
	}

	response, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(target)
	if err != nil {
		return &DeliveryError{Endpoint: target, Message: "request failed", Cause: err}
	}
	if response == nil {
		return &DeliveryError{Endpoint: target, Message: "empty response"}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &DeliveryError{
		Endpoint:   target,
		StatusCode: statusCode,
		Message:    strings.TrimSpace(response.String()),
	}
}

// ValidateEndpoint accepts absolute http and https URLs only.
func ValidateEndpoint(endpoint string) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return errors.New("callback endpoint is required")
	}

	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("invalid callback endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid callback endpoint scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("invalid callback endpoint: missing host")
	}
	return nil
}
