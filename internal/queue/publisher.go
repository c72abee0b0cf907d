package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Publisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher sends lifecycle events to the topic exchange so consumers
// can bind to the statuses they care about.
type RabbitMQPublisher struct {
	client   *RabbitMQ
	exchange string
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	publisher := &RabbitMQPublisher{client: client}
	if client != nil {
		publisher.exchange = client.topology.EventsExchange
	}
	return publisher
}

func (p *RabbitMQPublisher) PublishEvent(ctx context.Context, event BatchEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if p.exchange == "" {
		return fmt.Errorf("events exchange is required")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid batch event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal batch event: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	routingKey := EventRoutingKey(event.Status.String())
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    event.BatchID,
		Type:         routingKey,
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", routingKey, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
