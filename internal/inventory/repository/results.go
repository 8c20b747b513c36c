package repository

import (
	"context"
	"time"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/database"
)

// AllocationRepository is the PostgreSQL AllocationStore. Lines are kept as JSONB.
type AllocationRepository struct {
	db *database.DB
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db *database.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// Create persists an allocation result
func (r *AllocationRepository) Create(ctx context.Context, a *domain.Allocation) error {
	query := `
		INSERT INTO allocations (
			id, pool_id, reference_id, strategy, reservation_policy, status, fully_allocated, lines, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.PoolID, a.ReferenceID, a.Strategy, a.Policy, a.Status, a.FullyAllocated, a.Lines, a.CreatedAt,
	)
	return mapError(err, "allocation")
}

// Get returns one allocation
func (r *AllocationRepository) Get(ctx context.Context, id string) (*domain.Allocation, error) {
	var a domain.Allocation
	query := `
		SELECT id, pool_id, reference_id, strategy, reservation_policy, status, fully_allocated,
			lines, created_at, released_at
		FROM allocations WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &a, query, id); err != nil {
		return nil, mapError(err, "allocation")
	}
	return &a, nil
}

// MarkReleased flips an allocation to released. It reports false when the
// allocation was already released.
func (r *AllocationRepository) MarkReleased(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE allocations SET status = 'released', released_at = $2 WHERE id = $1 AND status <> 'released'`,
		id, now)
	if err != nil {
		return false, mapError(err, "allocation")
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// TransferRepository is the PostgreSQL TransferStore. Items are kept as JSONB.
type TransferRepository struct {
	db *database.DB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *database.DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Create persists a transfer with its per-line results
func (r *TransferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (
			id, source_location_id, destination_location_id, reason, status, all_transferred, items, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.SourceLocationID, t.DestinationLocationID, t.Reason, t.Status, t.AllTransferred, t.Items, t.CreatedAt,
	)
	return mapError(err, "transfer")
}

// Get returns one transfer
func (r *TransferRepository) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	var t domain.Transfer
	query := `
		SELECT id, source_location_id, destination_location_id, reason, status, all_transferred, items, created_at
		FROM transfers WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, mapError(err, "transfer")
	}
	return &t, nil
}
