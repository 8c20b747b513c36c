package repository

import (
	"context"

	"github.com/lib/pq"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/database"
)

const locationColumns = `id, name, latitude, longitude, is_active, created_at, updated_at`

// LocationRepository is the PostgreSQL LocationRegistry
type LocationRepository struct {
	db *database.DB
}

// NewLocationRepository creates a new location repository
func NewLocationRepository(db *database.DB) *LocationRepository {
	return &LocationRepository{db: db}
}

// Create registers a location
func (r *LocationRepository) Create(ctx context.Context, loc *domain.Location) error {
	query := `
		INSERT INTO locations (id, name, latitude, longitude, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.IsActive,
	).Scan(&loc.CreatedAt, &loc.UpdatedAt)
	return mapError(err, "location")
}

// Update replaces a location's name, coordinates and active flag
func (r *LocationRepository) Update(ctx context.Context, loc *domain.Location) error {
	query := `
		UPDATE locations
		SET name = $2, latitude = $3, longitude = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.IsActive,
	).Scan(&loc.CreatedAt, &loc.UpdatedAt)
	return mapError(err, "location")
}

// Get returns one location
func (r *LocationRepository) Get(ctx context.Context, id string) (*domain.Location, error) {
	var loc domain.Location
	if err := r.db.GetContext(ctx, &loc, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, id); err != nil {
		return nil, mapError(err, "location")
	}
	return &loc, nil
}

// GetMany returns the known locations among ids; unknown ids are omitted
func (r *LocationRepository) GetMany(ctx context.Context, ids []string) (map[string]*domain.Location, error) {
	out := make(map[string]*domain.Location, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var locs []*domain.Location
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = ANY($1)`
	if err := r.db.SelectContext(ctx, &locs, query, pq.Array(ids)); err != nil {
		return nil, mapError(err, "location")
	}
	for _, loc := range locs {
		out[loc.ID] = loc
	}
	return out, nil
}

// List returns every location ordered by id
func (r *LocationRepository) List(ctx context.Context) ([]*domain.Location, error) {
	locs := []*domain.Location{}
	if err := r.db.SelectContext(ctx, &locs, `SELECT `+locationColumns+` FROM locations ORDER BY id`); err != nil {
		return nil, mapError(err, "location")
	}
	return locs, nil
}

