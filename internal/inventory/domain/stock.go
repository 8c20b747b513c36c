// Package domain holds the inventory model shared by the ledger, the
// reservation manager, the pool allocator and the transfer coordinator.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StockKey identifies one stock record. An empty VariantID means the
// product has no variant.
type StockKey struct {
	ProductID  string `json:"product_id" db:"product_id" validate:"required"`
	VariantID  string `json:"variant_id,omitempty" db:"variant_id"`
	LocationID string `json:"location_id" db:"location_id" validate:"required"`
}

func (k StockKey) String() string {
	if k.VariantID == "" {
		return fmt.Sprintf("%s@%s", k.ProductID, k.LocationID)
	}
	return fmt.Sprintf("%s/%s@%s", k.ProductID, k.VariantID, k.LocationID)
}

// StockRecord is the on-hand and reserved count for one key.
// Invariant: 0 <= ReservedQuantity <= QuantityOnHand.
type StockRecord struct {
	ID                string     `json:"id" db:"id"`
	ProductID         string     `json:"product_id" db:"product_id"`
	VariantID         string     `json:"variant_id,omitempty" db:"variant_id"`
	LocationID        string     `json:"location_id" db:"location_id"`
	QuantityOnHand    int64      `json:"quantity_on_hand" db:"quantity_on_hand"`
	ReservedQuantity  int64      `json:"reserved_quantity" db:"reserved_quantity"`
	ReorderPoint      int64      `json:"reorder_point" db:"reorder_point"`
	ReorderQuantity   int64      `json:"reorder_quantity" db:"reorder_quantity"`
	LowStockThreshold int64      `json:"low_stock_threshold" db:"low_stock_threshold"`
	LastRestockAt     *time.Time `json:"last_restock_at,omitempty" db:"last_restock_at"`
	Version           int64      `json:"version" db:"version"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Key returns the record's identity.
func (r *StockRecord) Key() StockKey {
	return StockKey{ProductID: r.ProductID, VariantID: r.VariantID, LocationID: r.LocationID}
}

// Available is what can still be reserved.
func (r *StockRecord) Available() int64 {
	return r.QuantityOnHand - r.ReservedQuantity
}

// NeedsReorder reports whether available stock is at or below the reorder point.
func (r *StockRecord) NeedsReorder() bool {
	return r.ReorderPoint > 0 && r.Available() <= r.ReorderPoint
}

// MarshalJSON adds the derived available quantity.
func (r StockRecord) MarshalJSON() ([]byte, error) {
	type plain StockRecord
	return json.Marshal(struct {
		plain
		QuantityAvailable int64 `json:"quantity_available"`
		NeedsReorder      bool  `json:"needs_reorder"`
	}{plain(r), r.Available(), r.NeedsReorder()})
}

// StockSettings are the replenishment fields an operator can tune per record.
type StockSettings struct {
	ReorderPoint      int64 `json:"reorder_point" validate:"gte=0"`
	ReorderQuantity   int64 `json:"reorder_quantity" validate:"gte=0"`
	LowStockThreshold int64 `json:"low_stock_threshold" validate:"gte=0"`
}

// StockChange is the outcome of one ledger mutation.
type StockChange struct {
	Record            StockRecord `json:"record"`
	PreviousAvailable int64       `json:"previous_available"`
	// Applied is the quantity that actually moved: the granted amount for a
	// reserve, the clamped amount for release and fulfill, the delta for an adjust.
	Applied int64 `json:"applied"`
}

// Crossing describes which stock thresholds a change crossed downward.
type Crossing struct {
	Low        bool
	OutOfStock bool
}

// Crossings reports low-stock and out-of-stock transitions. Each fires only
// on the change that crosses the boundary, never while stock stays below it.
// Low-stock is disabled when the record's threshold is zero.
func (c *StockChange) Crossings() Crossing {
	prev, now := c.PreviousAvailable, c.Record.Available()
	threshold := c.Record.LowStockThreshold
	return Crossing{
		Low:        threshold > 0 && prev > threshold && now <= threshold,
		OutOfStock: prev > 0 && now == 0,
	}
}

// MovementType classifies a ledger audit row.
type MovementType string

const (
	MovementAdjust      MovementType = "adjust"
	MovementReserve     MovementType = "reserve"
	MovementRelease     MovementType = "release"
	MovementFulfill     MovementType = "fulfill"
	MovementTransferOut MovementType = "transfer_out"
	MovementTransferIn  MovementType = "transfer_in"
)

// MovementMeta describes why an adjustment happened.
type MovementMeta struct {
	Type        MovementType
	Reason      string
	ReferenceID string
}

// StockMovement is an append-only audit row written for every ledger mutation.
type StockMovement struct {
	ID            string       `json:"id" db:"id"`
	ProductID     string       `json:"product_id" db:"product_id"`
	VariantID     string       `json:"variant_id,omitempty" db:"variant_id"`
	LocationID    string       `json:"location_id" db:"location_id"`
	Type          MovementType `json:"type" db:"movement_type"`
	Quantity      int64        `json:"quantity" db:"quantity"`
	OnHandAfter   int64        `json:"on_hand_after" db:"on_hand_after"`
	ReservedAfter int64        `json:"reserved_after" db:"reserved_after"`
	Reason        string       `json:"reason,omitempty" db:"reason"`
	ReferenceID   string       `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}
