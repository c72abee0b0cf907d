package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	queue    string
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	consumer := &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
	if client != nil {
		consumer.queue = client.topology.SubmissionQueue
	}
	return consumer
}

// Consume blocks until ctx is done, reconnecting with backoff when the channel drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler SubmissionHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if c.queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("submission handler is required")
	}

	failures := 0
	for {
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			failures = 0
			continue
		}

		failures++
		wait := reconnectPolicy.Delay(failures)
		c.logger.Warn("submission consumer interrupted",
			zap.Error(err),
			zap.Int("consecutiveFailures", failures),
			zap.Duration("backoff", wait),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler SubmissionHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

type settlement int

const (
	settleAck settlement = iota
	settleDeadLetter
	settleRequeue
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleDeadLetter:
		return "dead-letter"
	default:
		return "requeue"
	}
}

// handleDelivery settles every delivery exactly once. Malformed payloads are
// dead-lettered, refused submissions are acked, infrastructure errors requeue.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler SubmissionHandler) error {
	outcome, reason := c.process(ctx, d, handler)
	if reason != nil {
		fields := []zap.Field{
			zap.Error(reason),
			zap.String("messageId", d.MessageId),
			zap.String("correlationId", d.CorrelationId),
			zap.Stringer("settlement", outcome),
		}
		if outcome == settleRequeue {
			c.logger.Error("submission handling failed", fields...)
		} else {
			c.logger.Warn("submission not accepted", fields...)
		}
	}

	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleDeadLetter:
		err = d.Reject(false)
	case settleRequeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", outcome, err)
	}
	return nil
}

// process decodes and hands the submission over. reason is nil only for a
// clean ack.
func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler SubmissionHandler) (settlement, error) {
	var msg SubmissionMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return settleDeadLetter, fmt.Errorf("invalid JSON: %w", err)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	if err := msg.Validate(); err != nil {
		return settleDeadLetter, err
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		return settleAck, nil
	case errors.Is(err, domain.ErrValidation):
		return settleAck, err
	default:
		return settleRequeue, err
	}
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
