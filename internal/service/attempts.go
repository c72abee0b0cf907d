package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

// AttemptView is one recorded handler invocation as exposed to callers.
type AttemptView struct {
	OperationID   string                `json:"operationId"`
	OperationType domain.OperationType  `json:"operationType"`
	AttemptNumber int                   `json:"attemptNumber"`
	Outcome       domain.AttemptOutcome `json:"outcome"`
	ErrorKind     string                `json:"errorKind,omitempty"`
	Error         string                `json:"error,omitempty"`
	DurationMs    int64                 `json:"durationMs"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// ListAttempts returns the audit trail of a batch, optionally narrowed to one
// operation. Without an attempt store the trail is empty.
func (s *BatchService) ListAttempts(ctx context.Context, batchID string, operationID string) ([]AttemptView, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	snapshot, ok := s.registrySnapshot(batchID)
	if !ok {
		archived, err := s.archivedSnapshot(ctx, batchID)
		if err != nil {
			return nil, err
		}
		snapshot = archived
	}

	operationID = strings.TrimSpace(operationID)
	if operationID != "" && !slices.ContainsFunc(snapshot.Operations, func(op domain.OperationSnapshot) bool {
		return op.OperationID == operationID
	}) {
		return nil, fmt.Errorf("%w: operation %s in batch %s", domain.ErrNotFound, operationID, batchID)
	}

	views := make([]AttemptView, 0)
	if s.attempts == nil {
		return views, nil
	}

	var (
		attempts []domain.Attempt
		err      error
	)
	if operationID != "" {
		attempts, err = s.attempts.ListByOperationID(ctx, operationID)
	} else {
		attempts, err = s.attempts.ListByBatchID(ctx, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts for batch %s: %w", batchID, err)
	}

	for _, a := range attempts {
		view := AttemptView{
			OperationID:   a.OperationID,
			OperationType: a.OperationType,
			AttemptNumber: a.AttemptNumber,
			Outcome:       a.Outcome,
			ErrorKind:     a.ErrorKind,
			DurationMs:    a.Duration.Milliseconds(),
			CreatedAt:     a.CreatedAt,
		}
		if a.Error != nil {
			view.Error = *a.Error
		}
		views = append(views, view)
	}
	return views, nil
}
