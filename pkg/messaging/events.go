package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Inventory events published by this service
const (
	EventInventoryReserved    = "inventory.reserved"
	EventInventoryReleased    = "inventory.released"
	EventInventoryFulfilled   = "inventory.fulfilled"
	EventInventoryLow         = "inventory.low"
	EventInventoryOutOfStock  = "inventory.out_of_stock"
	EventInventoryAdjusted    = "inventory.adjusted"
	EventInventoryTransferred = "inventory.transferred"
)

// Order events consumed from the order service
const (
	EventOrderCancelled = "order.cancelled"
	EventOrderPaid      = "order.paid"
	EventOrderExpired   = "order.expired"
)

// Exchange names
const (
	ExchangeInventoryEvents = "inventory.events"
	ExchangeOrderEvents     = "order.events"
	ExchangeDeadLetter      = "dlx.events"
)

// Event is the envelope every message travels in
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// StockEvent is the payload of every inventory.* event.
type StockEvent struct {
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id,omitempty"`
	LocationID    string `json:"location_id"`
	Quantity      int64  `json:"quantity"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	Available     *int64 `json:"available,omitempty"`
	Threshold     *int64 `json:"threshold,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// OrderEvent is the subset of order.* payloads the inventory service reads.
type OrderEvent struct {
	OrderID     string `json:"order_id"`
	ReferenceID string `json:"reference_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Reference returns the reservation reference the order was placed under.
// Orders that do not carry an explicit reference use their own id.
func (e *OrderEvent) Reference() string {
	if e.ReferenceID != "" {
		return e.ReferenceID
	}
	return e.OrderID
}
