package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/errors"
)

// ReservationStore is the in-memory ReservationStore.
type ReservationStore struct {
	mu   sync.Mutex
	byID map[string]*domain.Reservation
}

// NewReservationStore creates an empty store.
func NewReservationStore() *ReservationStore {
	return &ReservationStore{byID: make(map[string]*domain.Reservation)}
}

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	c := *r
	c.Holds = append([]domain.Hold(nil), r.Holds...)
	if r.ReleaseReason != nil {
		reason := *r.ReleaseReason
		c.ReleaseReason = &reason
	}
	if r.ClosedAt != nil {
		closed := *r.ClosedAt
		c.ClosedAt = &closed
	}
	return &c
}

// Create stores a new reservation with its holds.
func (s *ReservationStore) Create(_ context.Context, res *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[res.ID]; ok {
		return errors.Conflict("reservation already exists")
	}
	s.byID[res.ID] = cloneReservation(res)
	return nil
}

// Get returns a reservation by id.
func (s *ReservationStore) Get(_ context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFound("reservation")
	}
	return cloneReservation(r), nil
}

// ListByReference returns the reservations of a reference, oldest first.
func (s *ReservationStore) ListByReference(_ context.Context, referenceID string, activeOnly bool) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Reservation, 0)
	for _, r := range s.byID {
		if r.ReferenceID != referenceID || (activeOnly && r.Status != domain.ReservationActive) {
			continue
		}
		out = append(out, cloneReservation(r))
	}
	sortReservations(out, func(r *domain.Reservation) time.Time { return r.CreatedAt })
	return out, nil
}

// Close claims the active -> terminal transition.
func (s *ReservationStore) Close(_ context.Context, id string, reason domain.ReleaseReason, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return false, errors.NotFound("reservation")
	}
	if err := r.Close(reason, now); err != nil {
		return false, nil
	}
	return true, nil
}

// Extend moves the deadline of an active, unexpired reservation.
func (s *ReservationStore) Extend(_ context.Context, id string, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return false, errors.NotFound("reservation")
	}
	if r.Status != domain.ReservationActive || r.IsExpired(now) {
		return false, nil
	}
	r.ExpiresAt = expiresAt
	r.UpdatedAt = now
	return true, nil
}

// ListExpired returns active reservations past their deadline, earliest first.
func (s *ReservationStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Reservation, 0)
	for _, r := range s.byID {
		if r.IsExpired(now) {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out, func(r *domain.Reservation) time.Time { return r.ExpiresAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSettled stamps one hold of a reservation.
func (s *ReservationStore) MarkSettled(_ context.Context, reservationID, holdID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[reservationID]
	if !ok {
		return errors.NotFound("reservation")
	}
	for i := range r.Holds {
		if r.Holds[i].ID != holdID {
			continue
		}
		if r.Holds[i].SettledAt == nil {
			settled := at
			r.Holds[i].SettledAt = &settled
		}
		return nil
	}
	return errors.NotFound("reservation hold")
}

// ListUnsettled returns closed reservations with holds still to settle.
func (s *ReservationStore) ListUnsettled(_ context.Context, limit int) ([]*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Reservation, 0)
	for _, r := range s.byID {
		if r.HasUnsettledHolds() {
			out = append(out, cloneReservation(r))
		}
	}
	sortReservations(out, func(r *domain.Reservation) time.Time {
		if r.ClosedAt == nil {
			return r.UpdatedAt
		}
		return *r.ClosedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortReservations(rs []*domain.Reservation, by func(*domain.Reservation) time.Time) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := by(rs[i]), by(rs[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return rs[i].ID < rs[j].ID
	})
}
