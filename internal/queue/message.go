package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// SubmissionOperation describes one operation inside a queued submission.
type SubmissionOperation struct {
	Type       string         `json:"type"`
	ItemRef    string         `json:"itemRef"`
	Parameters map[string]any `json:"parameters,omitempty"`
	MaxRetries *int           `json:"maxRetries,omitempty"`
}

// SubmissionMessage is the broker payload that asks the service to create a batch.
type SubmissionMessage struct {
	CorrelationID           string                `json:"correlationId,omitempty"`
	Operations              []SubmissionOperation `json:"operations"`
	CallbackURL             string                `json:"callbackUrl,omitempty"`
	MaxConcurrentOperations int                   `json:"maxConcurrentOperations,omitempty"`
	AutoStart               bool                  `json:"autoStart"`
}

// Validate checks the envelope shape only. Operation types and limits are
// checked again when the batch is created.
func (m SubmissionMessage) Validate() error {
	if len(m.Operations) == 0 {
		return fmt.Errorf("operations are required")
	}
	if len(m.Operations) > domain.MaxBatchOperations {
		return fmt.Errorf("too many operations: %d", len(m.Operations))
	}
	for i, op := range m.Operations {
		if strings.TrimSpace(op.Type) == "" {
			return fmt.Errorf("operations[%d].type is required", i)
		}
		if strings.TrimSpace(op.ItemRef) == "" {
			return fmt.Errorf("operations[%d].itemRef is required", i)
		}
	}
	return nil
}

// BatchEvent is published when a batch reaches a terminal status.
type BatchEvent struct {
	BatchID             string        `json:"batchId"`
	Status              domain.Status `json:"status"`
	TotalOperations     int           `json:"totalOperations"`
	CompletedOperations int           `json:"completedOperations"`
	FailedOperations    int           `json:"failedOperations"`
	CancelledOperations int           `json:"cancelledOperations"`
	ErrorMessage        string        `json:"errorMessage,omitempty"`
	FinishedAt          *time.Time    `json:"finishedAt,omitempty"`
	OccurredAt          time.Time     `json:"occurredAt"`
}

func (e BatchEvent) Validate() error {
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if !e.Status.IsTerminal() {
		return fmt.Errorf("event status must be terminal, got %q", e.Status)
	}
	return nil
}

// EventFromSnapshot builds the lifecycle event for a finished batch.
func EventFromSnapshot(s *domain.BatchSnapshot, occurredAt time.Time) BatchEvent {
	if s == nil {
		return BatchEvent{OccurredAt: occurredAt.UTC()}
	}
	return BatchEvent{
		BatchID:             s.BatchID,
		Status:              s.Status,
		TotalOperations:     s.TotalOperations,
		CompletedOperations: s.CompletedOperations,
		FailedOperations:    s.FailedOperations,
		CancelledOperations: s.CancelledOperations,
		ErrorMessage:        s.ErrorMessage,
		FinishedAt:          s.FinishedAt,
		OccurredAt:          occurredAt.UTC(),
	}
}
