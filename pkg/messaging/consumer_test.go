package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/pkg/logger"
)

func mustEvent(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	event, err := NewEvent(eventType, "order-service", "corr-1", data)
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestConsumer_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed body is dead-lettered", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		assert.Equal(t, DeadLetter, c.Dispatch(ctx, []byte("{"), 0))
	})

	t.Run("unknown event type is acked", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		assert.Equal(t, Ack, c.Dispatch(ctx, mustEvent(t, "order.shipped", OrderEvent{OrderID: "o-1"}), 0))
	})

	t.Run("handler sees payload and correlation id", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		var got OrderEvent
		var corr string
		c.RegisterHandler(EventOrderCancelled, func(ctx context.Context, e *Event) error {
			corr = CorrelationID(ctx)
			return e.UnmarshalData(&got)
		})

		d := c.Dispatch(ctx, mustEvent(t, EventOrderCancelled, OrderEvent{OrderID: "o-1"}), 0)
		assert.Equal(t, Ack, d)
		assert.Equal(t, "o-1", got.Reference())
		assert.Equal(t, "corr-1", corr)
	})

	t.Run("failure is requeued then dead-lettered", func(t *testing.T) {
		c := newConsumer(nil, "q", logger.Nop())
		c.RegisterHandler(EventOrderPaid, func(context.Context, *Event) error {
			return errors.New("db down")
		})
		body := mustEvent(t, EventOrderPaid, OrderEvent{OrderID: "o-1"})

		assert.Equal(t, Requeue, c.Dispatch(ctx, body, 0))
		assert.Equal(t, DeadLetter, c.Dispatch(ctx, body, maxRedeliveries))
	})
}

func TestRedeliveries(t *testing.T) {
	assert.Equal(t, 0, redeliveries(amqp.Delivery{}))
	assert.Equal(t, 1, redeliveries(amqp.Delivery{Redelivered: true}))
	assert.Equal(t, 2, redeliveries(amqp.Delivery{Headers: amqp.Table{
		"x-death": []interface{}{amqp.Table{"count": int64(2)}},
	}}))
}

func TestOrderEvent_Reference(t *testing.T) {
	e := OrderEvent{OrderID: "o-1", ReferenceID: "cart-9"}
	assert.Equal(t, "cart-9", e.Reference())
}
