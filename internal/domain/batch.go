package domain

import (
	"fmt"
	"time"
)

// Batch groups operations submitted and tracked together.
type Batch struct {
	ID                      string
	Operations              []*Operation
	Status                  Status
	MaxConcurrentOperations int
	CallbackURL             string
	ErrorMessage            string

	CompletedOperations int
	FailedOperations    int
	CancelledOperations int

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

func (b *Batch) Validate() error {
	n := len(b.Operations)
	if n < MinBatchOperations {
		return fmt.Errorf("%w: batch must include at least %d operation", ErrValidation, MinBatchOperations)
	}
	if n > MaxBatchOperations {
		return fmt.Errorf("%w: batch size exceeds %d operations (got %d)", ErrValidation, MaxBatchOperations, n)
	}
	for i, op := range b.Operations {
		if op == nil {
			return fmt.Errorf("%w: operation %d is required", ErrValidation, i)
		}
		if err := op.Validate(); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

func (b *Batch) TotalOperations() int { return len(b.Operations) }

// ProgressPercentage is the share of operations that completed or failed.
func (b *Batch) ProgressPercentage() float64 {
	total := b.TotalOperations()
	if total == 0 {
		return 0
	}
	return float64(b.CompletedOperations+b.FailedOperations) / float64(total) * 100
}

// AllTerminal reports whether every operation reached a terminal state.
func (b *Batch) AllTerminal() bool {
	for _, op := range b.Operations {
		if !op.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// RecountOperations rebuilds the aggregate counters from operation states.
func (b *Batch) RecountOperations() {
	b.CompletedOperations, b.FailedOperations, b.CancelledOperations = 0, 0, 0
	for _, op := range b.Operations {
		switch op.Status {
		case StatusCompleted:
			b.CompletedOperations++
		case StatusFailed:
			b.FailedOperations++
		case StatusCancelled:
			b.CancelledOperations++
		}
	}
}

func (b *Batch) MarkRunning(now time.Time) bool {
	if b.Status != StatusPending {
		return false
	}
	b.Status = StatusRunning
	started := now
	b.StartedAt = &started
	return true
}

func (b *Batch) MarkCompleted(now time.Time) bool {
	if b.Status != StatusRunning || !b.AllTerminal() {
		return false
	}
	b.Status = StatusCompleted
	b.finish(now)
	return true
}

// MarkFailed records a whole-batch infrastructure failure.
func (b *Batch) MarkFailed(message string, now time.Time) bool {
	if b.Status.IsTerminal() {
		return false
	}
	b.Status = StatusFailed
	b.ErrorMessage = message
	b.finish(now)
	return true
}

// Cancel moves every operation that has not started yet to Cancelled and the
// batch to Cancelled. Operations already dispatched, including those waiting
// to retry, are left to finish on their own.
func (b *Batch) Cancel(now time.Time) bool {
	if b.Status.IsTerminal() {
		return false
	}
	for _, op := range b.Operations {
		op.MarkCancelled(now)
	}
	b.Status = StatusCancelled
	b.finish(now)
	b.RecountOperations()
	return true
}

func (b *Batch) finish(now time.Time) {
	if b.StartedAt != nil && now.Before(*b.StartedAt) {
		now = *b.StartedAt
	}
	finished := now
	b.FinishedAt = &finished
}
