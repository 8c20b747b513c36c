package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/errors"
)

// PoolStore is the in-memory PoolStore.
type PoolStore struct {
	opts options
	mu   sync.Mutex
	byID map[string]*domain.Pool
}

// NewPoolStore creates an empty pool store.
func NewPoolStore(opts ...Option) *PoolStore {
	return &PoolStore{opts: buildOptions(opts), byID: make(map[string]*domain.Pool)}
}

func clonePool(p *domain.Pool) *domain.Pool {
	c := *p
	c.Members = append([]domain.PoolMember(nil), p.Members...)
	return &c
}

func (s *PoolStore) Create(_ context.Context, pool *domain.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[pool.ID]; ok {
		return errors.Conflict("pool already exists")
	}
	s.byID[pool.ID] = clonePool(pool)
	return nil
}

func (s *PoolStore) Get(_ context.Context, id string) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("pool")
	}
	return clonePool(p), nil
}

func (s *PoolStore) List(_ context.Context) ([]*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Pool, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, clonePool(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *PoolStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok {
		return errors.NotFound("pool")
	}
	p.IsActive = active
	p.UpdatedAt = s.opts.now()
	return nil
}

// LocationRegistry is the in-memory LocationRegistry.
type LocationRegistry struct {
	opts options
	mu   sync.RWMutex
	byID map[string]domain.Location
}

// NewLocationRegistry creates an empty registry.
func NewLocationRegistry(opts ...Option) *LocationRegistry {
	return &LocationRegistry{opts: buildOptions(opts), byID: make(map[string]domain.Location)}
}

func (r *LocationRegistry) Create(_ context.Context, loc *domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[loc.ID]; ok {
		return errors.Conflict("location already exists")
	}
	now := r.opts.now()
	loc.CreatedAt, loc.UpdatedAt = now, now
	r.byID[loc.ID] = *loc
	return nil
}

func (r *LocationRegistry) Update(_ context.Context, loc *domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[loc.ID]
	if !ok {
		return errors.NotFound("location")
	}
	loc.CreatedAt = existing.CreatedAt
	loc.UpdatedAt = r.opts.now()
	r.byID[loc.ID] = *loc
	return nil
}

func (r *LocationRegistry) Get(_ context.Context, id string) (*domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.byID[id]
	if !ok {
		return nil, errors.NotFound("location")
	}
	return &loc, nil
}

// GetMany returns the known locations among ids; unknown ids are omitted.
func (r *LocationRegistry) GetMany(_ context.Context, ids []string) (map[string]*domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*domain.Location, len(ids))
	for _, id := range ids {
		if loc, ok := r.byID[id]; ok {
			out[id] = &loc
		}
	}
	return out, nil
}

func (r *LocationRegistry) List(_ context.Context) ([]*domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Location, 0, len(r.byID))
	for _, loc := range r.byID {
		loc := loc
		out = append(out, &loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
