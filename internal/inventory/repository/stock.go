package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/database"
	"github.com/stockline/stockline-backend/pkg/errors"
)

const stockColumns = `id, product_id, variant_id, location_id, quantity_on_hand, reserved_quantity,
	reorder_point, reorder_quantity, low_stock_threshold, last_restock_at, version, created_at, updated_at`

const returningStock = `RETURNING s.id, s.product_id, s.variant_id, s.location_id, s.quantity_on_hand,
	s.reserved_quantity, s.reorder_point, s.reorder_quantity, s.low_stock_threshold, s.last_restock_at,
	s.version, s.created_at, s.updated_at`

// mutateTemplate locks the record, computes the applied quantity from the
// locked values and updates in one statement. The three verbs are the
// applied expression over (on_hand, reserved, $4) and the new on-hand and
// reserved expressions over op.
const mutateTemplate = `
	WITH cur AS (
		SELECT id, quantity_on_hand AS on_hand, reserved_quantity AS reserved
		FROM stock_records
		WHERE product_id = $1 AND variant_id = $2 AND location_id = $3
		FOR UPDATE
	), op AS (
		SELECT id, on_hand, reserved, %s AS applied FROM cur
	)
	UPDATE stock_records s
	SET quantity_on_hand = %s,
		reserved_quantity = %s,
		version = s.version + 1,
		updated_at = NOW()
	FROM op
	WHERE s.id = op.id %s
	` + returningStock + `, op.on_hand - op.reserved AS previous_available, op.applied`

var (
	reserveQuery = fmt.Sprintf(mutateTemplate,
		"GREATEST(LEAST($4::bigint, on_hand - reserved), 0)", "op.on_hand", "op.reserved + op.applied", "")
	releaseQuery = fmt.Sprintf(mutateTemplate,
		"LEAST($4::bigint, reserved)", "op.on_hand", "op.reserved - op.applied", "")
	fulfillQuery = fmt.Sprintf(mutateTemplate,
		"LEAST($4::bigint, reserved)", "op.on_hand - op.applied", "op.reserved - op.applied", "")
	decrementQuery = fmt.Sprintf(mutateTemplate,
		"$4::bigint", "op.on_hand + op.applied", "op.reserved", "AND op.on_hand + op.applied >= op.reserved")
)

const restockQuery = `
	INSERT INTO stock_records AS s (id, product_id, variant_id, location_id, quantity_on_hand, last_restock_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (product_id, variant_id, location_id) DO UPDATE
	SET quantity_on_hand = s.quantity_on_hand + EXCLUDED.quantity_on_hand,
		last_restock_at = NOW(),
		version = s.version + 1,
		updated_at = NOW()
	` + returningStock

// claimHoldQuery stamps a hold as settled. It matches no row when the hold
// was settled before, which makes Settle a no-op.
const claimHoldQuery = `UPDATE reservation_holds SET settled_at = NOW() WHERE id = $1 AND settled_at IS NULL`

const insertMovementQuery = `
	INSERT INTO stock_movements (
		id, product_id, variant_id, location_id, movement_type, quantity,
		on_hand_after, reserved_after, reason, reference_id
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// changeRow is a mutated record plus the values computed from its locked state.
type changeRow struct {
	domain.StockRecord
	PreviousAvailable int64 `db:"previous_available"`
	Applied           int64 `db:"applied"`
}

// StockRepository is the PostgreSQL StockLedger. Each mutation is one
// conditional statement plus its movement row in a single transaction, so
// concurrent writers on the same key serialize on the row lock. The
// database's retry policy bounds how often a mutation is re-run.
type StockRepository struct {
	db *database.DB
}

// NewStockRepository creates a new stock repository
func NewStockRepository(db *database.DB) *StockRepository {
	return &StockRepository{db: db}
}

// Adjust changes on-hand by delta. A positive delta upserts the record.
func (r *StockRepository) Adjust(ctx context.Context, key domain.StockKey, delta int64, meta domain.MovementMeta) (*domain.StockChange, error) {
	if delta > 0 {
		return r.restock(ctx, key, delta, meta)
	}

	var change *domain.StockChange
	err := r.mutate(ctx, func(tx *sqlx.Tx) error {
		row, err := mutateRow(ctx, tx, decrementQuery, key, delta)
		if stderrors.Is(err, sql.ErrNoRows) {
			return r.explainDecrement(ctx, tx, key, delta)
		}
		if err != nil {
			return err
		}
		change = row.change()
		return insertMovement(ctx, tx, &change.Record, meta, delta)
	})
	if err != nil {
		return nil, mapError(err, "stock record")
	}
	return change, nil
}

func (r *StockRepository) restock(ctx context.Context, key domain.StockKey, delta int64, meta domain.MovementMeta) (*domain.StockChange, error) {
	var change *domain.StockChange
	err := r.mutate(ctx, func(tx *sqlx.Tx) error {
		var rec domain.StockRecord
		if err := tx.GetContext(ctx, &rec, restockQuery,
			uuid.New().String(), key.ProductID, key.VariantID, key.LocationID, delta,
		); err != nil {
			return err
		}
		change = &domain.StockChange{Record: rec, PreviousAvailable: rec.Available() - delta, Applied: delta}
		return insertMovement(ctx, tx, &rec, meta, delta)
	})
	if err != nil {
		return nil, mapError(err, "stock record")
	}
	return change, nil
}

// explainDecrement runs after a guarded decrement matched no row and tells
// a missing record apart from one that would drop below its reservations.
func (r *StockRepository) explainDecrement(ctx context.Context, tx *sqlx.Tx, key domain.StockKey, delta int64) error {
	var rec domain.StockRecord
	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1 AND variant_id = $2 AND location_id = $3`
	if err := tx.GetContext(ctx, &rec, query, key.ProductID, key.VariantID, key.LocationID); err != nil {
		return err
	}
	return errors.NegativeQuantity(rec.QuantityOnHand, rec.ReservedQuantity, delta)
}

// Reserve holds min(qty, available) units.
func (r *StockRepository) Reserve(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error) {
	return r.apply(ctx, reserveQuery, key, qty, domain.MovementMeta{Type: domain.MovementReserve, ReferenceID: referenceID})
}

// Release returns up to qty reserved units to available.
func (r *StockRepository) Release(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error) {
	return r.apply(ctx, releaseQuery, key, qty, domain.MovementMeta{Type: domain.MovementRelease, ReferenceID: referenceID})
}

// Fulfill consumes up to qty reserved units.
func (r *StockRepository) Fulfill(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error) {
	return r.apply(ctx, fulfillQuery, key, qty, domain.MovementMeta{Type: domain.MovementFulfill, ReferenceID: referenceID})
}

// Settle stamps the hold and moves its quantity in the same transaction,
// so a hold is applied to the ledger exactly once however often it is retried.
func (r *StockRepository) Settle(ctx context.Context, hold domain.Hold, consume bool, referenceID string) (*domain.StockChange, error) {
	query, meta := releaseQuery, domain.MovementMeta{Type: domain.MovementRelease, ReferenceID: referenceID}
	if consume {
		query, meta.Type = fulfillQuery, domain.MovementFulfill
	}

	var change *domain.StockChange
	err := r.mutate(ctx, func(tx *sqlx.Tx) error {
		change = nil
		result, err := tx.ExecContext(ctx, claimHoldQuery, hold.ID)
		if err != nil {
			return err
		}
		if n, err := result.RowsAffected(); err != nil || n == 0 {
			return err
		}
		row, err := mutateRow(ctx, tx, query, hold.Key(), hold.Quantity)
		if err != nil {
			return err
		}
		change = row.change()
		return insertMovement(ctx, tx, &change.Record, meta, change.Applied)
	})
	if err != nil {
		return nil, mapError(err, "stock record")
	}
	return change, nil
}

func (r *StockRepository) apply(ctx context.Context, query string, key domain.StockKey, qty int64, meta domain.MovementMeta) (*domain.StockChange, error) {
	var change *domain.StockChange
	err := r.mutate(ctx, func(tx *sqlx.Tx) error {
		row, err := mutateRow(ctx, tx, query, key, qty)
		if err != nil {
			return err
		}
		change = row.change()
		return insertMovement(ctx, tx, &change.Record, meta, change.Applied)
	})
	if err != nil {
		return nil, mapError(err, "stock record")
	}
	return change, nil
}

func (r *StockRepository) mutate(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return r.db.RetryTransaction(ctx, fn)
}

func mutateRow(ctx context.Context, tx *sqlx.Tx, query string, key domain.StockKey, qty int64) (*changeRow, error) {
	var row changeRow
	if err := tx.GetContext(ctx, &row, query, key.ProductID, key.VariantID, key.LocationID, qty); err != nil {
		return nil, err
	}
	return &row, nil
}

func (c *changeRow) change() *domain.StockChange {
	return &domain.StockChange{Record: c.StockRecord, PreviousAvailable: c.PreviousAvailable, Applied: c.Applied}
}

func insertMovement(ctx context.Context, tx *sqlx.Tx, rec *domain.StockRecord, meta domain.MovementMeta, qty int64) error {
	if qty == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, insertMovementQuery,
		uuid.New().String(), rec.ProductID, rec.VariantID, rec.LocationID, meta.Type, qty,
		rec.QuantityOnHand, rec.ReservedQuantity, meta.Reason, meta.ReferenceID,
	)
	if err != nil {
		return fmt.Errorf("failed to record movement: %w", err)
	}
	return nil
}

// Get returns one stock record
func (r *StockRepository) Get(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1 AND variant_id = $2 AND location_id = $3`
	if err := r.db.GetContext(ctx, &rec, query, key.ProductID, key.VariantID, key.LocationID); err != nil {
		return nil, mapError(err, "stock record")
	}
	return &rec, nil
}

// ListByProduct returns every record of a product ordered by variant and location
func (r *StockRepository) ListByProduct(ctx context.Context, productID string) ([]*domain.StockRecord, error) {
	recs := []*domain.StockRecord{}
	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1 ORDER BY variant_id, location_id`
	if err := r.db.SelectContext(ctx, &recs, query, productID); err != nil {
		return nil, mapError(err, "stock record")
	}
	return recs, nil
}

// UpdateSettings changes the replenishment fields of an existing record
func (r *StockRepository) UpdateSettings(ctx context.Context, key domain.StockKey, settings domain.StockSettings) (*domain.StockRecord, error) {
	var rec domain.StockRecord
	query := `
		UPDATE stock_records
		SET reorder_point = $4, reorder_quantity = $5, low_stock_threshold = $6,
			version = version + 1, updated_at = NOW()
		WHERE product_id = $1 AND variant_id = $2 AND location_id = $3
		RETURNING ` + stockColumns
	err := r.db.GetContext(ctx, &rec, query,
		key.ProductID, key.VariantID, key.LocationID,
		settings.ReorderPoint, settings.ReorderQuantity, settings.LowStockThreshold,
	)
	if err != nil {
		return nil, mapError(err, "stock record")
	}
	return &rec, nil
}

// ListMovements returns the newest movements of a record first
func (r *StockRepository) ListMovements(ctx context.Context, key domain.StockKey, limit int) ([]*domain.StockMovement, error) {
	moves := []*domain.StockMovement{}
	query := `
		SELECT id, product_id, variant_id, location_id, movement_type, quantity,
			on_hand_after, reserved_after, reason, reference_id, created_at
		FROM stock_movements
		WHERE product_id = $1 AND variant_id = $2 AND location_id = $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	if err := r.db.SelectContext(ctx, &moves, query, key.ProductID, key.VariantID, key.LocationID, limit); err != nil {
		return nil, mapError(err, "stock movement")
	}
	return moves, nil
}

// mapError turns driver errors into AppErrors. AppErrors pass through.
func mapError(err error, resource string) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	// An id that is not even a valid UUID cannot name an existing row.
	if stderrors.Is(err, sql.ErrNoRows) || database.IsInvalidInput(err) {
		return errors.NotFound(resource)
	}
	if mapped := database.MapPQError(err); mapped != nil {
		return mapped
	}
	return err
}
