package queue

import (
	"context"
	"fmt"
	"strings"
)

// Publisher publishes batch lifecycle events.
type Publisher interface {
	PublishEvent(ctx context.Context, event BatchEvent) error
	Close() error
}

// SubmissionHandler handles a consumed batch submission.
type SubmissionHandler func(ctx context.Context, msg SubmissionMessage) error

// Consumer consumes batch submissions.
type Consumer interface {
	Consume(ctx context.Context, handler SubmissionHandler) error
	Close() error
}

const (
	DefaultSubmissionQueue = "batch.submissions"
	DefaultEventsQueue     = "batch.events"
	DefaultEventsExchange  = "batch.lifecycle"

	dlxExchangeName  = "batch.dlx"
	eventsBindingKey = "batch.#"
)

// Topology names the queues and exchange the service declares and uses.
// Events are published to EventsExchange with routing key batch.<status>.
type Topology struct {
	SubmissionQueue string
	EventsQueue     string
	EventsExchange  string
}

func DefaultTopology() Topology {
	return Topology{
		SubmissionQueue: DefaultSubmissionQueue,
		EventsQueue:     DefaultEventsQueue,
		EventsExchange:  DefaultEventsExchange,
	}
}

func (t Topology) normalized() Topology {
	if strings.TrimSpace(t.SubmissionQueue) == "" {
		t.SubmissionQueue = DefaultSubmissionQueue
	}
	if strings.TrimSpace(t.EventsQueue) == "" {
		t.EventsQueue = DefaultEventsQueue
	}
	if strings.TrimSpace(t.EventsExchange) == "" {
		t.EventsExchange = DefaultEventsExchange
	}
	return t
}

// EventRoutingKey is the routing key for an event in the given status,
// e.g. batch.completed.
func EventRoutingKey(status string) string {
	return "batch." + strings.ToLower(strings.TrimSpace(status))
}

// DLQName returns the dead-letter queue for a work queue, e.g. dlq.batch.submissions.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
