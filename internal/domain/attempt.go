package domain

import "time"

// AttemptOutcome is what happened to one handler invocation.
type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "SUCCEEDED"
	AttemptRetrying  AttemptOutcome = "RETRYING"
	AttemptFailed    AttemptOutcome = "FAILED"
)

// Attempt records a single handler invocation for an operation.
type Attempt struct {
	ID            string
	BatchID       string
	OperationID   string
	OperationType OperationType
	AttemptNumber int
	Outcome       AttemptOutcome
	ErrorKind     string
	Error         *string
	Duration      time.Duration
	CreatedAt     time.Time
}
