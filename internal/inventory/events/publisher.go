package events

import (
	"context"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/messaging"
)

// Source is the event source stamped on every inventory event.
const Source = "inventory-service"

// InventoryEventPublisher publishes inventory-related events. A nil
// publisher is valid and drops everything. Publish failures are logged, not
// returned: events are at-least-once notifications, never part of a ledger write.
type InventoryEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewInventoryEventPublisher declares the inventory exchange on rmq and returns a publisher for it
func NewInventoryEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*InventoryEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeInventoryEvents, Source, log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps any EventPublisher.
func NewWithPublisher(p messaging.EventPublisher, log *logger.Logger) *InventoryEventPublisher {
	return &InventoryEventPublisher{publisher: p, logger: log}
}

// PublishReserved announces a hold placed by a reservation
func (p *InventoryEventPublisher) PublishReserved(ctx context.Context, res *domain.Reservation, h *domain.Hold) {
	p.publishHold(ctx, messaging.EventInventoryReserved, res, h)
}

// PublishReleased announces a hold returned to available stock
func (p *InventoryEventPublisher) PublishReleased(ctx context.Context, res *domain.Reservation, h *domain.Hold) {
	p.publishHold(ctx, messaging.EventInventoryReleased, res, h)
}

// PublishFulfilled announces a hold consumed by fulfilment
func (p *InventoryEventPublisher) PublishFulfilled(ctx context.Context, res *domain.Reservation, h *domain.Hold) {
	p.publishHold(ctx, messaging.EventInventoryFulfilled, res, h)
}

func (p *InventoryEventPublisher) publishHold(ctx context.Context, eventType string, res *domain.Reservation, h *domain.Hold) {
	if p == nil {
		return
	}
	var reason string
	if res.ReleaseReason != nil {
		reason = string(*res.ReleaseReason)
	}
	p.publish(ctx, eventType, messaging.StockEvent{
		ProductID:     h.ProductID,
		VariantID:     h.VariantID,
		LocationID:    h.LocationID,
		Quantity:      h.Quantity,
		ReferenceID:   res.ReferenceID,
		ReservationID: res.ID,
		Reason:        reason,
	})
}

// PublishLowStock announces that available stock crossed the low-stock threshold
func (p *InventoryEventPublisher) PublishLowStock(ctx context.Context, rec *domain.StockRecord, referenceID string) {
	if p == nil {
		return
	}
	available, threshold := rec.Available(), rec.LowStockThreshold
	p.publish(ctx, messaging.EventInventoryLow, messaging.StockEvent{
		ProductID:   rec.ProductID,
		VariantID:   rec.VariantID,
		LocationID:  rec.LocationID,
		Quantity:    available,
		ReferenceID: referenceID,
		Available:   &available,
		Threshold:   &threshold,
	})
}

// PublishOutOfStock announces that available stock reached zero
func (p *InventoryEventPublisher) PublishOutOfStock(ctx context.Context, rec *domain.StockRecord, referenceID string) {
	if p == nil {
		return
	}
	var zero int64
	p.publish(ctx, messaging.EventInventoryOutOfStock, messaging.StockEvent{
		ProductID:   rec.ProductID,
		VariantID:   rec.VariantID,
		LocationID:  rec.LocationID,
		ReferenceID: referenceID,
		Available:   &zero,
	})
}

// PublishAdjusted announces a manual on-hand adjustment
func (p *InventoryEventPublisher) PublishAdjusted(ctx context.Context, change *domain.StockChange, meta domain.MovementMeta) {
	if p == nil {
		return
	}
	available := change.Record.Available()
	p.publish(ctx, messaging.EventInventoryAdjusted, messaging.StockEvent{
		ProductID:   change.Record.ProductID,
		VariantID:   change.Record.VariantID,
		LocationID:  change.Record.LocationID,
		Quantity:    change.Applied,
		ReferenceID: meta.ReferenceID,
		Available:   &available,
		Reason:      meta.Reason,
	})
}

// PublishTransferred announces one successfully moved transfer line
func (p *InventoryEventPublisher) PublishTransferred(ctx context.Context, t *domain.Transfer, item *domain.TransferItem) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventInventoryTransferred, messaging.StockEvent{
		ProductID:   item.ProductID,
		VariantID:   item.VariantID,
		LocationID:  t.DestinationLocationID,
		Quantity:    item.Transferred,
		ReferenceID: t.ID,
		Reason:      "from " + t.SourceLocationID,
	})
}

func (p *InventoryEventPublisher) publish(ctx context.Context, eventType string, data messaging.StockEvent) {
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Str("product_id", data.ProductID).
			Str("location_id", data.LocationID).
			Msg("failed to publish inventory event")
	}
}
