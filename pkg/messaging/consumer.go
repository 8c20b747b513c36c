package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/stockline/stockline-backend/pkg/logger"
)

// maxRedeliveries is how many times a failing message is retried before it is dead-lettered.
// A nack with requeue does not add an x-death entry, so the redelivered flag counts as one.
const maxRedeliveries = 1

// MessageHandler is a function that handles a message
type MessageHandler func(ctx context.Context, event *Event) error

// Disposition is what the consumer does with a delivery after handling it.
type Disposition int

const (
	Ack Disposition = iota
	Requeue
	DeadLetter
)

// Consumer handles consuming events from RabbitMQ
type Consumer struct {
	rmq       *RabbitMQ
	queueName string
	handlers  map[string]MessageHandler
	logger    *logger.Logger
}

// NewConsumer declares queueName and returns a consumer for it
func NewConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) (*Consumer, error) {
	if _, err := rmq.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	return newConsumer(rmq, queueName, log), nil
}

func newConsumer(rmq *RabbitMQ, queueName string, log *logger.Logger) *Consumer {
	return &Consumer{
		rmq:       rmq,
		queueName: queueName,
		handlers:  make(map[string]MessageHandler),
		logger:    log,
	}
}

// Subscribe subscribes to an exchange with a routing key pattern
func (c *Consumer) Subscribe(exchange, routingKeyPattern string) error {
	if err := c.rmq.DeclareExchange(exchange); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.rmq.BindQueue(c.queueName, exchange, routingKeyPattern); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	c.logger.Info().
		Str("queue", c.queueName).
		Str("exchange", exchange).
		Str("routing_key", routingKeyPattern).
		Msg("subscribed to exchange")

	return nil
}

// RegisterHandler registers a handler for a specific event type
func (c *Consumer) RegisterHandler(eventType string, handler MessageHandler) {
	c.handlers[eventType] = handler
}

// Start consumes in a background goroutine until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.Channel().Consume(
		c.queueName, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info().Str("queue", c.queueName).Msg("consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info().Str("queue", c.queueName).Msg("consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn().Msg("message channel closed")
					return
				}
				c.settle(msg, c.Dispatch(ctx, msg.Body, redeliveries(msg)))
			}
		}
	}()

	return nil
}

func (c *Consumer) settle(msg amqp.Delivery, d Disposition) {
	var err error
	switch d {
	case Ack:
		err = msg.Ack(false)
	case Requeue:
		err = msg.Nack(false, true)
	case DeadLetter:
		err = msg.Reject(false)
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to settle delivery")
	}
}

// Dispatch decodes body, runs the registered handler and decides the
// delivery's fate. Malformed bodies are dead-lettered, unknown types acked.
func (c *Consumer) Dispatch(ctx context.Context, body []byte, redelivered int) Disposition {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error().Err(err).Msg("failed to unmarshal event")
		return DeadLetter
	}

	ctx = WithCorrelationID(ctx, event.CorrelationID)

	handler, ok := c.handlers[event.Type]
	if !ok {
		c.logger.Debug().Str("event_type", event.Type).Msg("no handler registered for event type")
		return Ack
	}

	if err := handler(ctx, &event); err != nil {
		log := c.logger.Error().
			Err(err).
			Str("event_type", event.Type).
			Str("event_id", event.ID)
		if redelivered >= maxRedeliveries {
			log.Int("retry_count", redelivered).Msg("max retries exceeded, sending to DLQ")
			return DeadLetter
		}
		log.Msg("failed to process event")
		return Requeue
	}

	return Ack
}

func redeliveries(msg amqp.Delivery) int {
	n := 0
	if msg.Redelivered {
		n++
	}
	deaths, ok := msg.Headers["x-death"].([]interface{})
	if !ok {
		return n
	}
	for _, death := range deaths {
		if d, ok := death.(amqp.Table); ok {
			if count, ok := d["count"].(int64); ok {
				return n + int(count)
			}
		}
	}
	return n
}
