package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"github.com/kursadbilgin/batch-engine/internal/failure"
	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/provider"
	"github.com/kursadbilgin/batch-engine/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxRetryAfterHint caps how long a collaborator can ask us to wait.
const maxRetryAfterHint = time.Minute

// runBatch executes every operation of a started batch and finalizes it.
func (s *BatchService) runBatch(jobCtx context.Context, batch *domain.Batch) {
	defer s.wg.Done()

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("batch execution panicked: %v", r)
		}
		s.finalize(batch, runErr)
	}()

	limiter := semaphore.NewWeighted(int64(batch.MaxConcurrentOperations))
	var g errgroup.Group
	for _, op := range batch.Operations {
		op := op
		g.Go(func() error {
			return s.runUnit(jobCtx, limiter, batch, op)
		})
	}
	runErr = g.Wait()
}

// runUnit waits for a limiter slot, executes one operation and republishes
// the batch snapshot. A returned error means the orchestration itself broke.
func (s *BatchService) runUnit(jobCtx context.Context, limiter *semaphore.Weighted, batch *domain.Batch, op *domain.Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s: execution panicked: %v", op.ID, r)
		}
	}()

	if err := limiter.Acquire(jobCtx, 1); err != nil {
		s.settleInterrupted(batch, op)
		return nil
	}
	defer limiter.Release(1)

	s.executeOperation(batch, op)

	s.mu.Lock()
	batch.RecountOperations()
	snapshot, rev := s.snapshotLocked(batch)
	s.mu.Unlock()

	ctx, cancel := s.backgroundContext()
	defer cancel()
	s.storeSnapshot(ctx, snapshot, rev)
	return nil
}

// executeOperation runs the attempt loop for one operation. Once dispatched an
// operation is no longer affected by batch cancellation; only shutdown cuts a
// backoff wait short.
func (s *BatchService) executeOperation(batch *domain.Batch, op *domain.Operation) {
	logger := observability.OperationLogger(s.logger, batch.ID, op.ID, op.Type.String())

	for {
		s.mu.Lock()
		if !op.MarkRunning(s.now().UTC()) {
			s.mu.Unlock()
			return
		}
		attempt := op.RetryCount + 1
		s.mu.Unlock()

		s.waitRateLimit(op, logger)

		result, elapsed, err := s.invoke(op)
		if err == nil {
			s.mu.Lock()
			op.MarkCompleted(result, s.now().UTC())
			s.noteOperationFinished(op)
			s.mu.Unlock()

			s.recordAttempt(op, attempt, domain.AttemptSucceeded, "", nil, elapsed)
			s.metrics.IncOperationCompleted(op.Type.String())
			logger.Debug("operation completed", zap.Int("attempt", attempt), zap.Duration("elapsed", elapsed))
			return
		}

		classification := failure.Classify(err, failure.Context{
			BatchID:       batch.ID,
			OperationID:   op.ID,
			OperationType: op.Type,
			ItemRef:       op.ItemRef,
			Attempt:       attempt,
		})
		fallback, recovered := s.recovery.Recover(classification)
		policy := s.retryPolicyFor(classification)
		budget := min(op.MaxRetries, retry.RetriesAllowed(policy))

		s.mu.Lock()
		if recovered {
			op.Fallback = fallback
		}
		retrying := policy != nil && op.RetryCount < budget && op.ScheduleRetry()
		retryNumber := op.RetryCount
		if !retrying {
			op.MarkFailed(classification.Reason, classification.Kind.String(), s.now().UTC())
			s.noteOperationFinished(op)
		}
		s.mu.Unlock()

		kind := classification.Kind.String()
		if !retrying {
			s.recordAttempt(op, attempt, domain.AttemptFailed, kind, err, elapsed)
			s.metrics.IncOperationFailed(op.Type.String(), kind)
			logger.Warn("operation failed",
				zap.Int("attempt", attempt),
				zap.String("errorKind", kind),
				zap.Bool("recoverable", classification.Recoverable),
				zap.Bool("fallback", recovered),
				zap.Error(err),
			)
			return
		}

		delay := retryDelay(policy, retryNumber, classification)
		s.recordAttempt(op, attempt, domain.AttemptRetrying, kind, err, elapsed)
		s.metrics.IncRetryScheduled(op.Type.String(), kind)
		logger.Info("operation retry scheduled",
			zap.Int("attempt", attempt),
			zap.Int("retryCount", retryNumber),
			zap.String("errorKind", kind),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := s.sleep(s.ctx, delay); err != nil {
			s.settleInterrupted(batch, op)
			return
		}
	}
}

// settleInterrupted resolves an operation that can no longer run because its
// job context ended: Cancelled on batch cancellation if it never started,
// Failed on shutdown.
func (s *BatchService) settleInterrupted(batch *domain.Batch, op *domain.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.Status != domain.StatusPending {
		return
	}
	now := s.now().UTC()
	if s.ctx.Err() != nil {
		op.MarkFailed(shuttingDownMessage, failure.KindUnknown.String(), now)
		s.noteOperationFinished(op)
	} else {
		op.MarkCancelled(now)
	}
	batch.RecountOperations()
}

// invoke calls the handler under the service context. Handler panics and
// non-map results are turned into errors.
func (s *BatchService) invoke(op *domain.Operation) (result map[string]any, elapsed time.Duration, err error) {
	handler, ok := s.dispatcher.Handler(op.Type)
	if !ok {
		// CreateBatch rejects types without a handler. This guards batches
		// added to the store directly.
		return nil, 0, provider.NewProcessingError(false, "no handler registered for operation type %q", op.Type)
	}

	opType := op.Type.String()
	s.metrics.IncInFlight(opType)
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
		elapsed = s.now().Sub(started)
		s.metrics.DecInFlight(opType)
		s.metrics.ObserveOperationDuration(opType, elapsed)
	}()

	raw, err := handler.Execute(s.ctx, op.ItemRef, op.Parameters)
	if err != nil {
		return nil, 0, err
	}

	structured, ok := raw.(map[string]any)
	if !ok || structured == nil {
		return nil, 0, provider.NewProcessingError(false, "handler returned %T, want a structured result", raw)
	}
	return structured, 0, nil
}

func (s *BatchService) waitRateLimit(op *domain.Operation, logger *zap.Logger) {
	if s.rateLimiter == nil {
		return
	}
	if err := s.rateLimiter.Wait(s.ctx, op.Type.String()); err != nil && s.ctx.Err() == nil {
		logger.Warn("rate limiter unavailable; proceeding without limit", zap.Error(err))
	}
}

// retryPolicyFor picks the backoff for a failure, or nil when it must not be retried.
func (s *BatchService) retryPolicyFor(c failure.Classification) retry.Policy {
	switch c.Kind {
	case failure.KindExternalService:
		if c.Recoverable {
			return s.external
		}
	case failure.KindProcessing:
		if c.Recoverable {
			return s.processing
		}
	case failure.KindUnknown:
		if !isShutdownError(s.ctx, c.Err) {
			return s.unknown
		}
	}
	return nil
}

func retryDelay(policy retry.Policy, retryNumber int, c failure.Classification) time.Duration {
	delay := policy.Delay(retryNumber)
	if c.Kind == failure.KindExternalService {
		hint := min(c.RetryAfterHint, maxRetryAfterHint)
		delay = max(delay, hint)
	}
	return delay
}

// noteOperationFinished updates the process counters. Callers hold s.mu.
func (s *BatchService) noteOperationFinished(op *domain.Operation) {
	switch op.Status {
	case domain.StatusCompleted:
		s.stats.TotalOperationsProcessed++
	case domain.StatusFailed:
		s.stats.TotalOperationsProcessed++
		s.stats.TotalOperationsFailed++
	}
}

func (s *BatchService) recordAttempt(
	op *domain.Operation,
	attemptNumber int,
	outcome domain.AttemptOutcome,
	kind string,
	attemptErr error,
	elapsed time.Duration,
) {
	if s.attempts == nil {
		return
	}

	attempt := &domain.Attempt{
		ID:            s.newID(),
		BatchID:       op.BatchID,
		OperationID:   op.ID,
		OperationType: op.Type,
		AttemptNumber: attemptNumber,
		Outcome:       outcome,
		ErrorKind:     kind,
		Duration:      elapsed,
		CreatedAt:     s.now().UTC(),
	}
	if attemptErr != nil {
		message := attemptErr.Error()
		attempt.Error = &message
	}

	ctx, cancel := s.backgroundContext()
	defer cancel()
	if err := s.attempts.Create(ctx, attempt); err != nil {
		s.logger.Warn("failed to record operation attempt",
			zap.String("operationId", op.ID),
			zap.Int("attempt", attemptNumber),
			zap.Error(err),
		)
	}
}

// finalize settles the batch once every unit returned.
func (s *BatchService) finalize(batch *domain.Batch, runErr error) {
	s.mu.Lock()
	if cancel, ok := s.jobs[batch.ID]; ok {
		cancel()
		delete(s.jobs, batch.ID)
	}

	now := s.now().UTC()
	if runErr != nil {
		for _, op := range batch.Operations {
			if !op.Status.IsTerminal() {
				op.MarkFailed("batch aborted: "+runErr.Error(), failure.KindUnknown.String(), now)
				s.noteOperationFinished(op)
			}
		}
		batch.MarkFailed(runErr.Error(), now)
	} else if batch.MarkCompleted(now) {
		s.stats.TotalJobsCompleted++
	}
	batch.RecountOperations()
	snapshot, rev := s.snapshotLocked(batch)
	s.mu.Unlock()

	logger := s.logger.With(zap.String("batchId", batch.ID))
	if runErr != nil {
		logger.Error("batch failed", zap.Error(runErr))
	} else {
		logger.Info("batch finished",
			zap.String("status", snapshot.Status.String()),
			zap.Int("completedOperations", snapshot.CompletedOperations),
			zap.Int("failedOperations", snapshot.FailedOperations),
			zap.Int("cancelledOperations", snapshot.CancelledOperations),
		)
	}

	ctx, cancel := s.backgroundContext()
	s.storeSnapshot(ctx, snapshot, rev)
	cancel()

	s.publishTerminal(snapshot)

	if snapshot.Status == domain.StatusCompleted && snapshot.CallbackURL != "" {
		s.deliverCallback(snapshot)
	}
}

// deliverCallback makes a single fire-and-forget delivery attempt.
func (s *BatchService) deliverCallback(snapshot *domain.BatchSnapshot) {
	logger := s.logger.With(
		zap.String("batchId", snapshot.BatchID),
		zap.String("callbackUrl", snapshot.CallbackURL),
	)
	if s.callback == nil {
		s.metrics.IncCallback("skipped")
		logger.Warn("callback requested but no transport configured")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.callbackTimeout)
		defer cancel()

		if err := s.callback.Post(ctx, snapshot.CallbackURL, snapshot); err != nil {
			s.metrics.IncCallback("failed")
			logger.Warn("callback delivery failed", zap.Error(err))
			return
		}
		s.metrics.IncCallback("delivered")
		logger.Info("callback delivered")
	}()
}
