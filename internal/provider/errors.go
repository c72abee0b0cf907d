package provider

import (
	"fmt"
	"strings"
	"time"
)

// ServiceErrorCode names the failure reported by an external analysis service.
type ServiceErrorCode string

const (
	CodeQuotaExceeded    ServiceErrorCode = "QUOTA_EXCEEDED"
	CodeUnavailable      ServiceErrorCode = "UNAVAILABLE"
	CodeInternal         ServiceErrorCode = "INTERNAL"
	CodeDeadlineExceeded ServiceErrorCode = "DEADLINE_EXCEEDED"
	CodeUnauthenticated  ServiceErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ServiceErrorCode = "PERMISSION_DENIED"
	CodeInvalidArgument  ServiceErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ServiceErrorCode = "NOT_FOUND"
)

// Recoverable reports whether the code signals a transient condition.
func (c ServiceErrorCode) Recoverable() bool {
	switch c {
	case CodeQuotaExceeded, CodeUnavailable, CodeInternal, CodeDeadlineExceeded:
		return true
	}
	return false
}

// ServiceError is raised when the external service rejects or fails a call.
type ServiceError struct {
	Code       ServiceErrorCode
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "service error")

	if e.Code != "" {
		parts = append(parts, strings.ToLower(string(e.Code)))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ProcessingError is a local transformation failure. Handlers set Recoverable
// when a retry may succeed.
type ProcessingError struct {
	Message     string
	Recoverable bool
	Cause       error
}

func NewProcessingError(recoverable bool, format string, args ...any) *ProcessingError {
	return &ProcessingError{
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverable,
	}
}

func (e *ProcessingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "processing error"
	if m := strings.TrimSpace(e.Message); m != "" {
		msg += ": " + m
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ProcessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// PartialError reports a call where some items succeeded and some failed.
type PartialError struct {
	Message string
	Results []map[string]any
	Failed  int
	Cause   error
}

func (e *PartialError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("partial failure: %d succeeded, %d failed", len(e.Results), e.Failed)
	if m := strings.TrimSpace(e.Message); m != "" {
		msg += ": " + m
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PartialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}
