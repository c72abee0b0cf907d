package failure

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/provider"
)

// Kind is the coarse failure category used to select retry behavior.
type Kind string

const (
	KindExternalService Kind = "external-service-error"
	KindProcessing      Kind = "processing-error"
	KindBatch           Kind = "batch-error"
	KindUnknown         Kind = "unknown"
)

func (k Kind) String() string { return string(k) }

const defaultTransientRetryAfter = time.Second

// Context identifies the operation a failure belongs to.
type Context struct {
	BatchID       string
	OperationID   string
	OperationType domain.OperationType
	ItemRef       string
	Attempt       int
}

// Classification is the structured view of a failure.
type Classification struct {
	Kind           Kind
	Recoverable    bool
	RetryAfterHint time.Duration
	Reason         string
	Partial        []map[string]any
	Context        Context
	Err            error
}

// Classify inspects err and reports its kind and retry eligibility.
func Classify(err error, c Context) Classification {
	out := Classification{
		Kind:    KindUnknown,
		Context: c,
		Err:     err,
	}
	if err == nil {
		return out
	}
	out.Reason = err.Error()

	var serviceErr *provider.ServiceError
	var processingErr *provider.ProcessingError
	var partialErr *provider.PartialError
	var netErr net.Error

	switch {
	case errors.As(err, &partialErr):
		out.Kind = KindBatch
		out.Partial = partialErr.Results
		out.Recoverable = len(partialErr.Results) > 0
	case errors.As(err, &serviceErr):
		out.Kind = KindExternalService
		out.Recoverable = serviceErr.Code.Recoverable()
		if out.Recoverable {
			out.RetryAfterHint = serviceErr.RetryAfter
			if out.RetryAfterHint <= 0 {
				out.RetryAfterHint = defaultTransientRetryAfter
			}
		}
	case errors.As(err, &processingErr):
		out.Kind = KindProcessing
		out.Recoverable = processingErr.Recoverable
	case errors.Is(err, context.Canceled):
		out.Kind = KindUnknown
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindExternalService
		out.Recoverable = true
		out.RetryAfterHint = defaultTransientRetryAfter
	case errors.As(err, &netErr) && netErr.Timeout():
		out.Kind = KindExternalService
		out.Recoverable = true
		out.RetryAfterHint = defaultTransientRetryAfter
	}

	return out
}
