package service

import (
	"testing"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
)

func TestAggregateResults(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	started := created.Add(time.Second)
	finished := started.Add(4 * time.Second)

	snapshot := &domain.BatchSnapshot{
		BatchID:    "b-1",
		Status:     domain.StatusCompleted,
		CreatedAt:  created,
		StartedAt:  &started,
		FinishedAt: &finished,
		Operations: []domain.OperationSnapshot{
			{OperationID: "o-1", OperationType: domain.OperationDetectObjects, ItemRef: "a", Status: domain.StatusCompleted, ProcessingTimeMs: 100, Result: map[string]any{"objects": 2}},
			{OperationID: "o-2", OperationType: domain.OperationDetectObjects, ItemRef: "b", Status: domain.StatusFailed, ProcessingTimeMs: 300, ErrorKind: "processing-error", RetryCount: 1},
			{OperationID: "o-3", OperationType: domain.OperationAnalyzeLabels, ItemRef: "c", Status: domain.StatusCompleted, ProcessingTimeMs: 200},
			{OperationID: "o-4", OperationType: domain.OperationAnnotateImage, ItemRef: "d", Status: domain.StatusCancelled, ProcessingTimeMs: 0},
		},
	}

	results := AggregateResults(snapshot)

	if got := len(results.ResultsByType[domain.OperationDetectObjects]); got != 2 {
		t.Fatalf("detect-objects results = %d, want 2", got)
	}
	if got := len(results.ResultsByType[domain.OperationAnalyzeLabels]); got != 1 {
		t.Fatalf("analyze-labels results = %d, want 1", got)
	}
	if got := results.ResultsByType[domain.OperationDetectObjects][1]; got.OperationID != "o-2" || got.RetryCount != 1 || got.ErrorKind != "processing-error" {
		t.Fatalf("second detect-objects result = %+v", got)
	}

	summary := results.Summary
	if summary.TotalOperations != 4 || summary.CompletedOperations != 2 || summary.FailedOperations != 1 || summary.CancelledOperations != 1 {
		t.Fatalf("summary counts = %+v", summary)
	}
	if summary.SuccessRate != 50 {
		t.Fatalf("successRate = %v, want 50", summary.SuccessRate)
	}
	if summary.TotalProcessingTimeMs != 600 {
		t.Fatalf("totalProcessingTimeMs = %d, want 600", summary.TotalProcessingTimeMs)
	}
	if summary.AverageProcessingTimeMs != 200 {
		t.Fatalf("averageProcessingTimeMs = %v, want 200", summary.AverageProcessingTimeMs)
	}
	if results.Timing.DurationMs != 4000 {
		t.Fatalf("durationMs = %d, want 4000", results.Timing.DurationMs)
	}
}

func TestAggregateResultsWithoutTiming(t *testing.T) {
	t.Parallel()

	results := AggregateResults(&domain.BatchSnapshot{BatchID: "b-2", Status: domain.StatusCompleted})

	if results.Summary.SuccessRate != 0 || results.Summary.AverageProcessingTimeMs != 0 {
		t.Fatalf("summary = %+v, want zero rates", results.Summary)
	}
	if results.Timing.DurationMs != 0 {
		t.Fatalf("durationMs = %d, want 0", results.Timing.DurationMs)
	}
	if results.ResultsByType == nil {
		t.Fatalf("resultsByType = nil, want empty map")
	}
}
