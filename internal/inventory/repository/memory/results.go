package memory

import (
	"context"
	"sync"
	"time"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/errors"
)

func cloneAllocation(a domain.Allocation) domain.Allocation {
	lines := make(domain.AllocationLines, len(a.Lines))
	for i, line := range a.Lines {
		line.Picks = append([]domain.Pick(nil), line.Picks...)
		lines[i] = line
	}
	a.Lines = lines
	return a
}

// AllocationStore is the in-memory AllocationStore.
type AllocationStore struct {
	mu   sync.Mutex
	byID map[string]domain.Allocation
}

// NewAllocationStore creates an empty store.
func NewAllocationStore() *AllocationStore {
	return &AllocationStore{byID: make(map[string]domain.Allocation)}
}

func (s *AllocationStore) Create(_ context.Context, alloc *domain.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[alloc.ID]; ok {
		return errors.Conflict("allocation already exists")
	}
	s.byID[alloc.ID] = cloneAllocation(*alloc)
	return nil
}

func (s *AllocationStore) Get(_ context.Context, id string) (*domain.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("allocation")
	}
	a = cloneAllocation(a)
	return &a, nil
}

func (s *AllocationStore) MarkReleased(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return false, errors.NotFound("allocation")
	}
	if a.Status == domain.AllocationReleased {
		return false, nil
	}
	a.Status = domain.AllocationReleased
	a.ReleasedAt = &now
	s.byID[id] = a
	return true, nil
}

// TransferStore is the in-memory TransferStore.
type TransferStore struct {
	mu   sync.Mutex
	byID map[string]domain.Transfer
}

// NewTransferStore creates an empty store.
func NewTransferStore() *TransferStore {
	return &TransferStore{byID: make(map[string]domain.Transfer)}
}

func (s *TransferStore) Create(_ context.Context, t *domain.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; ok {
		return errors.Conflict("transfer already exists")
	}
	c := *t
	c.Items = append(domain.TransferItems(nil), t.Items...)
	s.byID[t.ID] = c
	return nil
}

func (s *TransferStore) Get(_ context.Context, id string) (*domain.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("transfer")
	}
	return &t, nil
}
