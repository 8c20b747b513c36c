package consumers

import (
	"context"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/messaging"
)

// OrderEventsQueue is the durable queue the inventory service reads order events from.
const OrderEventsQueue = "inventory-service.order-events"

// OrderEventConsumer releases or consumes holds as orders change state
type OrderEventConsumer struct {
	consumer     *messaging.Consumer
	reservations *service.ReservationService
	logger       *logger.Logger
}

// NewOrderEventConsumer declares the queue, binds it to the order exchange
// and registers the handlers.
func NewOrderEventConsumer(rmq *messaging.RabbitMQ, reservations *service.ReservationService, log *logger.Logger) (*OrderEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, OrderEventsQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeOrderEvents, "order.#"); err != nil {
		return nil, err
	}

	c := newOrderEventConsumer(reservations, log)
	c.consumer = consumer
	c.register(consumer)
	return c, nil
}

func newOrderEventConsumer(reservations *service.ReservationService, log *logger.Logger) *OrderEventConsumer {
	return &OrderEventConsumer{
		reservations: reservations,
		logger:       log.WithComponent("order-consumer"),
	}
}

func (c *OrderEventConsumer) register(consumer *messaging.Consumer) {
	consumer.RegisterHandler(messaging.EventOrderCancelled, c.handleOrderCancelled)
	consumer.RegisterHandler(messaging.EventOrderPaid, c.handleOrderPaid)
	consumer.RegisterHandler(messaging.EventOrderExpired, c.handleOrderExpired)
}

// Start starts consuming messages
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *OrderEventConsumer) handleOrderCancelled(ctx context.Context, event *messaging.Event) error {
	return c.closeAll(ctx, event, domain.ReasonCancelled)
}

func (c *OrderEventConsumer) handleOrderPaid(ctx context.Context, event *messaging.Event) error {
	return c.closeAll(ctx, event, domain.ReasonFulfilled)
}

func (c *OrderEventConsumer) handleOrderExpired(ctx context.Context, event *messaging.Event) error {
	return c.closeAll(ctx, event, domain.ReasonExpired)
}

// closeAll closes every active reservation of the order. Redelivered events
// find nothing active and are acked.
func (c *OrderEventConsumer) closeAll(ctx context.Context, event *messaging.Event, reason domain.ReleaseReason) error {
	var data messaging.OrderEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	ref := data.Reference()
	if ref == "" {
		c.logger.Warn().Str("event_id", event.ID).Msg("order event without order id, skipping")
		return nil
	}

	results, err := c.reservations.ReleaseByReference(ctx, ref, reason)
	if err != nil && errors.CodeOf(err) == errors.CodeValidation {
		c.logger.Warn().Err(err).Str("reference_id", ref).Msg("invalid order event, skipping")
		return nil
	}

	closed := 0
	for _, r := range results {
		if r.Released {
			closed++
		}
	}
	c.logger.Info().
		Str("event_type", event.Type).
		Str("reference_id", ref).
		Str("reason", string(reason)).
		Int("closed", closed).
		Msg("processed order event")
	return err
}
