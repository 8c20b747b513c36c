package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/database"
	"github.com/stockline/stockline-backend/pkg/errors"
)

const poolColumns = `id, name, allocation_strategy, reservation_policy, is_active, created_at, updated_at`

// PoolRepository is the PostgreSQL PoolStore
type PoolRepository struct {
	db *database.DB
}

// NewPoolRepository creates a new pool repository
func NewPoolRepository(db *database.DB) *PoolRepository {
	return &PoolRepository{db: db}
}

// Create inserts a pool with its members
func (r *PoolRepository) Create(ctx context.Context, pool *domain.Pool) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO pools (id, name, allocation_strategy, reservation_policy, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.ExecContext(ctx, query,
			pool.ID, pool.Name, pool.Strategy, pool.Policy, pool.IsActive, pool.CreatedAt, pool.UpdatedAt,
		); err != nil {
			return err
		}
		for _, m := range pool.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO pool_members (pool_id, location_id, priority) VALUES ($1, $2, $3)`,
				pool.ID, m.LocationID, m.Priority,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err, "pool")
}

// Get returns a pool with its members
func (r *PoolRepository) Get(ctx context.Context, id string) (*domain.Pool, error) {
	var pool domain.Pool
	if err := r.db.GetContext(ctx, &pool, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id); err != nil {
		return nil, mapError(err, "pool")
	}
	if err := r.attachMembers(ctx, []*domain.Pool{&pool}); err != nil {
		return nil, err
	}
	return &pool, nil
}

// List returns every pool ordered by name
func (r *PoolRepository) List(ctx context.Context) ([]*domain.Pool, error) {
	pools := []*domain.Pool{}
	if err := r.db.SelectContext(ctx, &pools, `SELECT `+poolColumns+` FROM pools ORDER BY name, id`); err != nil {
		return nil, mapError(err, "pool")
	}
	if err := r.attachMembers(ctx, pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// SetActive activates or deactivates a pool
func (r *PoolRepository) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pools SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return mapError(err, "pool")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFound("pool")
	}
	return nil
}

func (r *PoolRepository) attachMembers(ctx context.Context, pools []*domain.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	ids := make([]string, len(pools))
	byID := make(map[string]*domain.Pool, len(pools))
	for i, p := range pools {
		ids[i] = p.ID
		p.Members = []domain.PoolMember{}
		byID[p.ID] = p
	}

	var members []domain.PoolMember
	query := `
		SELECT pool_id, location_id, priority
		FROM pool_members
		WHERE pool_id = ANY($1)
		ORDER BY pool_id, priority, location_id
	`
	if err := r.db.SelectContext(ctx, &members, query, pq.Array(ids)); err != nil {
		return mapError(err, "pool member")
	}
	for _, m := range members {
		p := byID[m.PoolID]
		p.Members = append(p.Members, m)
	}
	return nil
}
