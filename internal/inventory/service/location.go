package service

import (
	"context"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/validation"
)

// LocationInput creates or replaces a location. IsActive defaults to true.
type LocationInput struct {
	ID        string   `json:"id" validate:"required,max=100"`
	Name      string   `json:"name" validate:"required,max=255"`
	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
	IsActive  *bool    `json:"is_active,omitempty"`
}

func (in LocationInput) toLocation() (*domain.Location, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return nil, errors.InvalidField("latitude", "latitude and longitude must be given together")
	}
	loc := &domain.Location{
		ID:        in.ID,
		Name:      in.Name,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		IsActive:  true,
	}
	if in.IsActive != nil {
		loc.IsActive = *in.IsActive
	}
	return loc, nil
}

// LocationService maintains the local view of the location registry
type LocationService struct {
	registry LocationRegistry
	logger   *logger.Logger
}

// NewLocationService creates a new location service
func NewLocationService(registry LocationRegistry, log *logger.Logger) *LocationService {
	return &LocationService{registry: registry, logger: log.WithComponent("location")}
}

// Create registers a location
func (s *LocationService) Create(ctx context.Context, in LocationInput) (*domain.Location, error) {
	loc, err := in.toLocation()
	if err != nil {
		return nil, err
	}
	if err := s.registry.Create(ctx, loc); err != nil {
		return nil, err
	}
	s.logger.Info().Str("location_id", loc.ID).Msg("location registered")
	return loc, nil
}

// Update replaces a location's name, coordinates and active flag
func (s *LocationService) Update(ctx context.Context, in LocationInput) (*domain.Location, error) {
	loc, err := in.toLocation()
	if err != nil {
		return nil, err
	}
	if err := s.registry.Update(ctx, loc); err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, loc.ID)
}

// Get returns one location
func (s *LocationService) Get(ctx context.Context, id string) (*domain.Location, error) {
	return s.registry.Get(ctx, id)
}

// List returns every location
func (s *LocationService) List(ctx context.Context) ([]*domain.Location, error) {
	return s.registry.List(ctx)
}
