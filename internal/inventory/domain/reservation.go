package domain

import (
	"time"

	"github.com/stockline/stockline-backend/pkg/errors"
)

// ReservationStatus is the lifecycle state of a reservation. Every status
// except active is terminal.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
)

// IsTerminal reports whether no further transition is possible.
func (s ReservationStatus) IsTerminal() bool {
	return s != ReservationActive
}

// ReleaseReason is why a reservation left the active state.
type ReleaseReason string

const (
	ReasonReleased  ReleaseReason = "released"
	ReasonCancelled ReleaseReason = "cancelled"
	ReasonExpired   ReleaseReason = "expired"
	ReasonFulfilled ReleaseReason = "fulfilled"
)

// Valid reports whether r is a known reason.
func (r ReleaseReason) Valid() bool {
	switch r {
	case ReasonReleased, ReasonCancelled, ReasonExpired, ReasonFulfilled:
		return true
	}
	return false
}

// TargetStatus maps a reason to the terminal status it produces.
func (r ReleaseReason) TargetStatus() ReservationStatus {
	switch r {
	case ReasonExpired:
		return ReservationExpired
	case ReasonFulfilled:
		return ReservationFulfilled
	default:
		return ReservationReleased
	}
}

// Hold is the quantity a reservation keeps on one stock record.
type Hold struct {
	ID            string `json:"id" db:"id"`
	ReservationID string `json:"reservation_id" db:"reservation_id"`
	ProductID     string `json:"product_id" db:"product_id"`
	VariantID     string `json:"variant_id,omitempty" db:"variant_id"`
	LocationID    string `json:"location_id" db:"location_id"`
	Quantity      int64  `json:"quantity" db:"quantity"`

	// SettledAt is set once the ledger reflects the reservation's closure.
	SettledAt *time.Time `json:"settled_at,omitempty" db:"settled_at"`
}

// Settled reports whether the hold was already returned or consumed.
func (h *Hold) Settled() bool {
	return h.SettledAt != nil
}

// Key returns the stock record the hold sits on.
func (h *Hold) Key() StockKey {
	return StockKey{ProductID: h.ProductID, VariantID: h.VariantID, LocationID: h.LocationID}
}

// Reservation is a time-bounded set of holds taken for one reference (order, cart).
type Reservation struct {
	ID            string            `json:"id" db:"id"`
	ReferenceID   string            `json:"reference_id" db:"reference_id"`
	Status        ReservationStatus `json:"status" db:"status"`
	ReleaseReason *ReleaseReason    `json:"release_reason,omitempty" db:"release_reason"`
	ExpiresAt     time.Time         `json:"expires_at" db:"expires_at"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at" db:"updated_at"`
	Holds         []Hold            `json:"holds" db:"-"`
}

// Total is the sum of all held quantities.
func (r *Reservation) Total() int64 {
	var n int64
	for _, h := range r.Holds {
		n += h.Quantity
	}
	return n
}

// HasUnsettledHolds reports whether a closed reservation still has
// holds the ledger does not reflect.
func (r *Reservation) HasUnsettledHolds() bool {
	if !r.Status.IsTerminal() {
		return false
	}
	for i := range r.Holds {
		if !r.Holds[i].Settled() {
			return true
		}
	}
	return false
}

// IsExpired reports whether an active reservation has passed its deadline.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationActive && now.After(r.ExpiresAt)
}

// Close moves an active reservation to the status implied by reason.
func (r *Reservation) Close(reason ReleaseReason, now time.Time) error {
	if r.Status.IsTerminal() {
		return errors.ReservationNotActive(r.ID, string(r.Status))
	}
	r.Status = reason.TargetStatus()
	r.ReleaseReason = &reason
	r.ClosedAt = &now
	r.UpdatedAt = now
	return nil
}

// Extend pushes the deadline to now+ttl. Only active, unexpired reservations can be extended.
func (r *Reservation) Extend(ttl time.Duration, now time.Time) error {
	if r.Status.IsTerminal() {
		return errors.ReservationNotActive(r.ID, string(r.Status))
	}
	if r.IsExpired(now) {
		return errors.ReservationNotActive(r.ID, string(ReservationExpired))
	}
	r.ExpiresAt = now.Add(ttl)
	r.UpdatedAt = now
	return nil
}
