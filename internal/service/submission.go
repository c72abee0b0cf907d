package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/batch-engine/internal/observability"
	"github.com/kursadbilgin/batch-engine/internal/queue"
	"go.uber.org/zap"
)

// HandleSubmission creates a batch from a queued submission and starts it
// when the message asks for it. Validation failures wrap domain.ErrValidation.
func (s *BatchService) HandleSubmission(ctx context.Context, msg queue.SubmissionMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	req := CreateBatchRequest{
		CallbackURL:             msg.CallbackURL,
		MaxConcurrentOperations: msg.MaxConcurrentOperations,
		Operations:              make([]OperationRequest, 0, len(msg.Operations)),
	}
	for _, op := range msg.Operations {
		req.Operations = append(req.Operations, OperationRequest{
			Type:       op.Type,
			ItemRef:    op.ItemRef,
			Parameters: op.Parameters,
			MaxRetries: op.MaxRetries,
		})
	}

	batchID, err := s.CreateBatch(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to create batch from submission: %w", err)
	}

	if msg.AutoStart && !s.Start(ctx, batchID) {
		observability.BatchLogger(s.logger, ctx, batchID).Warn("submitted batch could not be started")
		return nil
	}

	observability.BatchLogger(s.logger, ctx, batchID).Info("batch submitted from queue",
		zap.Bool("autoStart", msg.AutoStart),
	)
	return nil
}
