package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/database"
	"github.com/stockline/stockline-backend/pkg/errors"
)

const reservationColumns = `id, reference_id, status, release_reason, expires_at, closed_at, created_at, updated_at`

// ReservationRepository is the PostgreSQL ReservationStore
type ReservationRepository struct {
	db *database.DB
}

// NewReservationRepository creates a new reservation repository
func NewReservationRepository(db *database.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// Create inserts a reservation and its holds in one transaction
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	err := r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO reservations (id, reference_id, status, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.ExecContext(ctx, query,
			res.ID, res.ReferenceID, res.Status, res.ExpiresAt, res.CreatedAt, res.UpdatedAt,
		); err != nil {
			return err
		}

		holdQuery := `
			INSERT INTO reservation_holds (id, reservation_id, product_id, variant_id, location_id, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for _, h := range res.Holds {
			if _, err := tx.ExecContext(ctx, holdQuery,
				h.ID, res.ID, h.ProductID, h.VariantID, h.LocationID, h.Quantity,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return mapError(err, "reservation")
}

// Get returns a reservation with its holds
func (r *ReservationRepository) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	var res domain.Reservation
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`
	if err := r.db.GetContext(ctx, &res, query, id); err != nil {
		return nil, mapError(err, "reservation")
	}
	if err := r.attachHolds(ctx, []*domain.Reservation{&res}); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListByReference returns the reservations of a reference, oldest first
func (r *ReservationRepository) ListByReference(ctx context.Context, referenceID string, activeOnly bool) ([]*domain.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE reference_id = $1`
	if activeOnly {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY created_at, id`
	return r.list(ctx, query, referenceID)
}

// ListExpired returns active reservations past their deadline, earliest first
func (r *ReservationRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

// MarkSettled stamps a hold. Settle on the stock repository already does
// this inside its own transaction, so here it only fills a missing stamp.
func (r *ReservationRepository) MarkSettled(ctx context.Context, reservationID, holdID string, at time.Time) error {
	query := `
		UPDATE reservation_holds
		SET settled_at = $3
		WHERE id = $2 AND reservation_id = $1 AND settled_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, reservationID, holdID, at); err != nil {
		return mapError(err, "reservation hold")
	}
	return nil
}

// ListUnsettled returns closed reservations that still have unsettled holds
func (r *ReservationRepository) ListUnsettled(ctx context.Context, limit int) ([]*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status <> 'active'
			AND EXISTS (
				SELECT 1 FROM reservation_holds h
				WHERE h.reservation_id = reservations.id AND h.settled_at IS NULL
			)
		ORDER BY closed_at, id
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

func (r *ReservationRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Reservation, error) {
	out := []*domain.Reservation{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapError(err, "reservation")
	}
	if err := r.attachHolds(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ReservationRepository) attachHolds(ctx context.Context, rs []*domain.Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	ids := make([]string, len(rs))
	byID := make(map[string]*domain.Reservation, len(rs))
	for i, res := range rs {
		ids[i] = res.ID
		res.Holds = []domain.Hold{}
		byID[res.ID] = res
	}

	var holds []domain.Hold
	query := `
		SELECT id, reservation_id, product_id, variant_id, location_id, quantity, settled_at
		FROM reservation_holds
		WHERE reservation_id = ANY($1)
		ORDER BY reservation_id, product_id, variant_id, location_id
	`
	if err := r.db.SelectContext(ctx, &holds, query, pq.Array(ids)); err != nil {
		return mapError(err, "reservation hold")
	}
	for _, h := range holds {
		res := byID[h.ReservationID]
		res.Holds = append(res.Holds, h)
	}
	return nil
}

// Close claims the active -> terminal transition. Exactly one concurrent
// caller sees true; the others, and callers on a terminal reservation, see false.
func (r *ReservationRepository) Close(ctx context.Context, id string, reason domain.ReleaseReason, now time.Time) (bool, error) {
	query := `
		UPDATE reservations
		SET status = $2, release_reason = $3, closed_at = $4, updated_at = $4
		WHERE id = $1 AND status = 'active'
	`
	result, err := r.db.ExecContext(ctx, query, id, reason.TargetStatus(), reason, now)
	if err != nil {
		return false, mapError(err, "reservation")
	}
	return r.claimed(ctx, id, result.RowsAffected)
}

// Extend moves the deadline of an active, unexpired reservation
func (r *ReservationRepository) Extend(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	query := `
		UPDATE reservations
		SET expires_at = $2, updated_at = $3
		WHERE id = $1 AND status = 'active' AND expires_at >= $3
	`
	result, err := r.db.ExecContext(ctx, query, id, expiresAt, now)
	if err != nil {
		return false, mapError(err, "reservation")
	}
	return r.claimed(ctx, id, result.RowsAffected)
}

// claimed turns a guarded update's row count into a result, reporting
// NotFound when the reservation does not exist at all.
func (r *ReservationRepository) claimed(ctx context.Context, id string, rowsAffected func() (int64, error)) (bool, error) {
	n, err := rowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM reservations WHERE id = $1)`, id); err != nil {
		return false, mapError(err, "reservation")
	}
	if !exists {
		return false, errors.NotFound("reservation")
	}
	return false, nil
}
