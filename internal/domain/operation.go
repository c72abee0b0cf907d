package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status represents the lifecycle state of a batch or one of its operations.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the state can never be left again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// OperationType tags the collaborator an operation is dispatched to.
type OperationType string

const (
	OperationDetectObjects          OperationType = "detect-objects"
	OperationExtractRegion          OperationType = "extract-region"
	OperationAnalyzeLabels          OperationType = "analyze-labels"
	OperationAnalyzeNaturalElements OperationType = "analyze-natural-elements"
	OperationAnnotateImage          OperationType = "annotate-image"
)

var operationTypes = []OperationType{
	OperationDetectObjects,
	OperationExtractRegion,
	OperationAnalyzeLabels,
	OperationAnalyzeNaturalElements,
	OperationAnnotateImage,
}

func (t OperationType) String() string { return string(t) }

func (t OperationType) IsValid() bool {
	for _, known := range operationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// OperationTypes returns every built-in operation type in lexical order.
func OperationTypes() []OperationType {
	types := make([]OperationType, len(operationTypes))
	copy(types, operationTypes)
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func ParseOperationTypeFromString(s string) (OperationType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	if normalized == "" {
		return "", fmt.Errorf("%w: operation type is required", ErrValidation)
	}
	t := OperationType(strings.ReplaceAll(normalized, "_", "-"))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown operation type %q", ErrValidation, s)
	}
	return t, nil
}

// Retry and sizing limits.
const (
	DefaultMaxRetries = 2
	MaxRetriesCeiling = 5

	MinBatchOperations = 1
	MaxBatchOperations = 50

	MinConcurrentOperations     = 1
	MaxConcurrentOperations     = 10
	DefaultConcurrentOperations = MaxConcurrentOperations
)

// Operation is one independently retried unit of work within a batch.
type Operation struct {
	ID         string
	BatchID    string
	Type       OperationType
	ItemRef    string
	Parameters map[string]any

	Status       Status
	Result       map[string]any
	ErrorMessage string
	ErrorKind    string
	Fallback     map[string]any

	RetryCount int
	MaxRetries int

	StartedAt      *time.Time
	FinishedAt     *time.Time
	ProcessingTime time.Duration

	dispatched bool
}

func (o *Operation) Validate() error {
	if strings.TrimSpace(o.ItemRef) == "" {
		return fmt.Errorf("%w: itemRef is required", ErrValidation)
	}
	if !o.Type.IsValid() {
		return fmt.Errorf("%w: invalid operation type %q", ErrValidation, o.Type)
	}
	if o.MaxRetries < 0 || o.MaxRetries > MaxRetriesCeiling {
		return fmt.Errorf("%w: maxRetries must be between 0 and %d", ErrValidation, MaxRetriesCeiling)
	}
	return nil
}

// MarkRunning moves a pending operation into Running. The first start time is kept
// across retries so that elapsed time covers every attempt.
func (o *Operation) MarkRunning(now time.Time) bool {
	if o.Status != StatusPending {
		return false
	}
	o.Status = StatusRunning
	o.dispatched = true
	if o.StartedAt == nil {
		started := now
		o.StartedAt = &started
	}
	return true
}

func (o *Operation) MarkCompleted(result map[string]any, now time.Time) bool {
	if o.Status != StatusRunning {
		return false
	}
	o.Status = StatusCompleted
	o.Result = result
	o.ErrorMessage = ""
	o.ErrorKind = ""
	o.finish(now)
	return true
}

func (o *Operation) MarkFailed(message string, kind string, now time.Time) bool {
	if o.Status.IsTerminal() {
		return false
	}
	o.Status = StatusFailed
	o.Result = nil
	o.ErrorMessage = message
	o.ErrorKind = kind
	o.finish(now)
	return true
}

// ScheduleRetry records a retry and returns the operation to Pending.
func (o *Operation) ScheduleRetry() bool {
	if o.Status != StatusRunning || o.RetryCount >= o.MaxRetries {
		return false
	}
	o.RetryCount++
	o.Status = StatusPending
	return true
}

// Dispatched reports whether the operation has been handed to its handler at
// least once. A dispatched operation stays Pending between retries.
func (o *Operation) Dispatched() bool {
	return o.dispatched
}

// MarkCancelled cancels an operation that was never dispatched. Once an
// operation has started it runs its retry loop to Completed or Failed.
func (o *Operation) MarkCancelled(now time.Time) bool {
	if o.Status != StatusPending || o.dispatched {
		return false
	}
	o.Status = StatusCancelled
	o.finish(now)
	return true
}

func (o *Operation) finish(now time.Time) {
	if o.StartedAt != nil && now.Before(*o.StartedAt) {
		now = *o.StartedAt
	}
	finished := now
	o.FinishedAt = &finished
	if o.StartedAt != nil {
		o.ProcessingTime = finished.Sub(*o.StartedAt)
	}
}
