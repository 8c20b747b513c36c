package service

import (
	"context"
	"time"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
)

// StockLedger owns the per-key on-hand and reserved counters. Every
// mutation is one atomic step on one key and returns the resulting change.
// Implementations surface errors.ErrConcurrencyConflict only after their own
// bounded retries.
type StockLedger interface {
	Adjust(ctx context.Context, key domain.StockKey, delta int64, meta domain.MovementMeta) (*domain.StockChange, error)
	Reserve(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error)
	Release(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error)
	Fulfill(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error)
	// Settle releases the hold's quantity, or consumes it when consume is
	// set, at most once per hold id. A hold that was already settled
	// yields a nil change and no error.
	Settle(ctx context.Context, hold domain.Hold, consume bool, referenceID string) (*domain.StockChange, error)

	Get(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error)
	ListByProduct(ctx context.Context, productID string) ([]*domain.StockRecord, error)
	UpdateSettings(ctx context.Context, key domain.StockKey, settings domain.StockSettings) (*domain.StockRecord, error)
	ListMovements(ctx context.Context, key domain.StockKey, limit int) ([]*domain.StockMovement, error)
}

// ReservationStore persists reservations and their holds.
type ReservationStore interface {
	Create(ctx context.Context, res *domain.Reservation) error
	Get(ctx context.Context, id string) (*domain.Reservation, error)
	ListByReference(ctx context.Context, referenceID string, activeOnly bool) ([]*domain.Reservation, error)
	// Close moves an active reservation to reason's terminal status. It
	// reports false when the reservation was no longer active; only the
	// caller that gets true may touch the ledger.
	Close(ctx context.Context, id string, reason domain.ReleaseReason, now time.Time) (bool, error)
	// Extend sets a new deadline if the reservation is active and its
	// current deadline has not passed.
	Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)
	// MarkSettled stamps a hold once the ledger has applied it.
	MarkSettled(ctx context.Context, reservationID, holdID string, at time.Time) error
	// ListUnsettled returns terminal reservations that still have holds
	// the ledger does not reflect, oldest closure first.
	ListUnsettled(ctx context.Context, limit int) ([]*domain.Reservation, error)
}

// PoolStore persists pools and their members.
type PoolStore interface {
	Create(ctx context.Context, pool *domain.Pool) error
	Get(ctx context.Context, id string) (*domain.Pool, error)
	List(ctx context.Context) ([]*domain.Pool, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// LocationRegistry is the read side of the location registry plus the
// admin writes the HTTP API exposes.
type LocationRegistry interface {
	Create(ctx context.Context, loc *domain.Location) error
	Update(ctx context.Context, loc *domain.Location) error
	Get(ctx context.Context, id string) (*domain.Location, error)
	GetMany(ctx context.Context, ids []string) (map[string]*domain.Location, error)
	List(ctx context.Context) ([]*domain.Location, error)
}

// AllocationStore persists allocation results.
type AllocationStore interface {
	Create(ctx context.Context, alloc *domain.Allocation) error
	Get(ctx context.Context, id string) (*domain.Allocation, error)
	// MarkReleased flips a non-released allocation to released and reports
	// whether this call did it.
	MarkReleased(ctx context.Context, id string, now time.Time) (bool, error)
}

// TransferStore persists transfer results.
type TransferStore interface {
	Create(ctx context.Context, t *domain.Transfer) error
	Get(ctx context.Context, id string) (*domain.Transfer, error)
}

// Stores bundles every persistence dependency so a backend can be swapped as a unit.
type Stores struct {
	Ledger       StockLedger
	Reservations ReservationStore
	Pools        PoolStore
	Locations    LocationRegistry
	Allocations  AllocationStore
	Transfers    TransferStore
}
