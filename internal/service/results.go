package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"go.uber.org/zap"
)

type OperationResult struct {
	OperationID      string         `json:"operationId"`
	ItemRef          string         `json:"itemRef"`
	Status           domain.Status  `json:"status"`
	Result           map[string]any `json:"result,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	ErrorKind        string         `json:"errorKind,omitempty"`
	Fallback         map[string]any `json:"fallback,omitempty"`
	RetryCount       int            `json:"retryCount"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

type ResultSummary struct {
	TotalOperations         int     `json:"totalOperations"`
	CompletedOperations     int     `json:"completedOperations"`
	FailedOperations        int     `json:"failedOperations"`
	CancelledOperations     int     `json:"cancelledOperations"`
	SuccessRate             float64 `json:"successRate"`
	TotalProcessingTimeMs   int64   `json:"totalProcessingTimeMs"`
	AverageProcessingTimeMs float64 `json:"averageProcessingTimeMs"`
}

type ResultTiming struct {
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	DurationMs int64      `json:"durationMs"`
}

// BatchResults is the aggregated outcome of a completed batch.
type BatchResults struct {
	BatchID       string                                      `json:"batchId"`
	Status        domain.Status                               `json:"status"`
	ResultsByType map[domain.OperationType][]OperationResult `json:"resultsByType"`
	Summary       ResultSummary                               `json:"summary"`
	Timing        ResultTiming                                `json:"timing"`
}

// GetResults aggregates a Completed batch. Batches that already left the
// registry are served from the archive when one is configured.
func (s *BatchService) GetResults(ctx context.Context, batchID string) (*BatchResults, error) {
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

	if snapshot.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: batch %s is %s", domain.ErrNotReady, batchID, snapshot.Status)
	}
	return AggregateResults(snapshot), nil
}

func (s *BatchService) archivedSnapshot(ctx context.Context, batchID string) (*domain.BatchSnapshot, error) {
	notFound := fmt.Errorf("%w: batch %s", domain.ErrNotFound, batchID)
	if s.archive == nil {
		return nil, notFound
	}

	snapshot, err := s.archive.GetByID(ctx, batchID)
	if err != nil {
		s.logger.Debug("archived batch lookup failed",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return nil, notFound
	}
	if snapshot == nil {
		return nil, notFound
	}
	return snapshot, nil
}

// AggregateResults groups every operation of a snapshot by type and computes
// the summary figures.
func AggregateResults(snapshot *domain.BatchSnapshot) *BatchResults {
	results := &BatchResults{
		BatchID:       snapshot.BatchID,
		Status:        snapshot.Status,
		ResultsByType: make(map[domain.OperationType][]OperationResult),
		Timing: ResultTiming{
			CreatedAt:  snapshot.CreatedAt,
			StartedAt:  snapshot.StartedAt,
			FinishedAt: snapshot.FinishedAt,
		},
	}

	summary := ResultSummary{TotalOperations: len(snapshot.Operations)}
	finished := 0
	for _, op := range snapshot.Operations {
		results.ResultsByType[op.OperationType] = append(results.ResultsByType[op.OperationType], OperationResult{
			OperationID:      op.OperationID,
			ItemRef:          op.ItemRef,
			Status:           op.Status,
			Result:           op.Result,
			ErrorMessage:     op.ErrorMessage,
			ErrorKind:        op.ErrorKind,
			Fallback:         op.Fallback,
			RetryCount:       op.RetryCount,
			ProcessingTimeMs: op.ProcessingTimeMs,
		})

		switch op.Status {
		case domain.StatusCompleted:
			summary.CompletedOperations++
		case domain.StatusFailed:
			summary.FailedOperations++
		case domain.StatusCancelled:
			summary.CancelledOperations++
		}
		if op.Status == domain.StatusCompleted || op.Status == domain.StatusFailed {
			summary.TotalProcessingTimeMs += op.ProcessingTimeMs
			finished++
		}
	}

	if summary.TotalOperations > 0 {
		summary.SuccessRate = float64(summary.CompletedOperations) / float64(summary.TotalOperations) * 100
	}
	if finished > 0 {
		summary.AverageProcessingTimeMs = float64(summary.TotalProcessingTimeMs) / float64(finished)
	}
	results.Summary = summary

	if snapshot.StartedAt != nil && snapshot.FinishedAt != nil {
		results.Timing.DurationMs = snapshot.FinishedAt.Sub(*snapshot.StartedAt).Milliseconds()
	}
	return results
}
