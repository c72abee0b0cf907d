package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 15 * time.Second

// reconnectPolicy paces redials and consumer restarts.
var reconnectPolicy = retry.Exponential{Base: time.Second, Max: 30 * time.Second, Jitter: true}

// RabbitMQ owns one broker connection, redialing it on demand. Topology is
// declared once per connection.
type RabbitMQ struct {
	url      string
	topology Topology
	dial     func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
	closed   bool
}

func NewRabbitMQ(url string, topology Topology) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, topology: topology.normalized(), dial: amqp.Dial}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ch, err := r.channel(ctx)
	if err != nil {
		return nil, err
	}
	_ = ch.Close()
	return r, nil
}

// Close drops the connection. Later channel requests fail.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.closed = true
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel on a live connection. A failed open discards the
// connection and tries once more on a fresh one.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			lastErr = err
			r.discard(conn)
			continue
		}

		if err := r.declareOnce(conn, ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}
	return nil, fmt.Errorf("failed to open rabbitmq channel: %w", lastErr)
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if r.closed {
			return nil, fmt.Errorf("rabbitmq client is closed")
		}
		if r.conn != nil && !r.conn.IsClosed() {
			return r.conn, nil
		}

		conn, err := r.dial(r.url)
		if err == nil {
			r.conn = conn
			r.declared = false
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(reconnectPolicy.Delay(attempt)):
		}
	}
}

func (r *RabbitMQ) discard(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
	}
	r.mu.Unlock()
	_ = conn.Close()
}

func (r *RabbitMQ) declareOnce(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared && r.conn == conn {
		return nil
	}
	if err := declareTopology(ch, r.topology); err != nil {
		return err
	}
	r.declared = r.conn == conn
	return nil
}

// declareTopology declares the submission queue with its dead-letter queue,
// the lifecycle exchange and the events queue bound to it. Declarations are
// idempotent.
func declareTopology(ch *amqp.Channel, topology Topology) error {
	for _, ex := range exchangeDeclarations(topology) {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %q: %w", ex.name, err)
		}
	}

	for _, q := range queueDeclarations(topology) {
		if _, err := ch.QueueDeclare(q.name, true, false, false, false, q.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", q.name, err)
		}
		if q.exchange == "" {
			continue
		}
		if err := ch.QueueBind(q.name, q.bindingKey, q.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q to %q: %w", q.name, q.exchange, err)
		}
	}
	return nil
}

type exchangeDeclaration struct {
	name string
	kind string
}

func exchangeDeclarations(topology Topology) []exchangeDeclaration {
	return []exchangeDeclaration{
		{name: dlxExchangeName, kind: amqp.ExchangeDirect},
		{name: topology.EventsExchange, kind: amqp.ExchangeTopic},
	}
}

type queueDeclaration struct {
	name       string
	args       amqp.Table
	exchange   string
	bindingKey string
}

func queueDeclarations(topology Topology) []queueDeclaration {
	return []queueDeclaration{
		{
			name:       DLQName(topology.SubmissionQueue),
			exchange:   dlxExchangeName,
			bindingKey: topology.SubmissionQueue,
		},
		{
			name: topology.SubmissionQueue,
			args: amqp.Table{
				"x-dead-letter-exchange":    dlxExchangeName,
				"x-dead-letter-routing-key": topology.SubmissionQueue,
			},
		},
		{
			name:       topology.EventsQueue,
			exchange:   topology.EventsExchange,
			bindingKey: eventsBindingKey,
		},
	}
}
