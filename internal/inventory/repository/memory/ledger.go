package memory

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/errors"
)

type stockEntry struct {
	mu     sync.Mutex
	exists bool
	rec    domain.StockRecord
}

// Ledger is the in-memory StockLedger.
type Ledger struct {
	opts options

	mu      sync.RWMutex
	entries map[domain.StockKey]*stockEntry

	movementsMu sync.Mutex
	movements   []domain.StockMovement

	settledMu sync.Mutex
	settled   map[string]struct{}
}

var errAlreadySettled = stderrors.New("hold already settled")

// NewLedger creates an empty ledger.
func NewLedger(opts ...Option) *Ledger {
	return &Ledger{
		opts:    buildOptions(opts),
		entries: make(map[domain.StockKey]*stockEntry),
		settled: make(map[string]struct{}),
	}
}

// entry returns the lock holder for key, creating an empty one if asked.
func (l *Ledger) entry(key domain.StockKey, create bool) *stockEntry {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if ok || !create {
		return e
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok = l.entries[key]; !ok {
		e = &stockEntry{}
		l.entries[key] = e
	}
	return e
}

// mutate runs fn with key's lock held. fn returns the applied quantity.
func (l *Ledger) mutate(key domain.StockKey, create bool, meta domain.MovementMeta, fn func(rec *domain.StockRecord, exists bool) (int64, error)) (*domain.StockChange, error) {
	e := l.entry(key, create)
	if e == nil {
		return nil, errors.NotFound("stock record")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.rec
	prev := next.Available()
	applied, err := fn(&next, e.exists)
	if err != nil {
		return nil, err
	}

	now := l.opts.now()
	if !e.exists {
		next.ID = uuid.New().String()
		next.ProductID, next.VariantID, next.LocationID = key.ProductID, key.VariantID, key.LocationID
		next.CreatedAt = now
	}
	next.Version++
	next.UpdatedAt = now
	e.rec = next
	e.exists = true

	if applied != 0 {
		l.appendMovement(next, meta, applied, now)
	}
	return &domain.StockChange{Record: next, PreviousAvailable: prev, Applied: applied}, nil
}

// Adjust changes on-hand by delta. A positive delta creates a missing record.
func (l *Ledger) Adjust(_ context.Context, key domain.StockKey, delta int64, meta domain.MovementMeta) (*domain.StockChange, error) {
	if meta.Type == "" {
		meta.Type = domain.MovementAdjust
	}
	return l.mutate(key, delta > 0, meta, func(rec *domain.StockRecord, exists bool) (int64, error) {
		if !exists && delta < 0 {
			return 0, errors.NotFound("stock record")
		}
		if rec.QuantityOnHand+delta < rec.ReservedQuantity {
			return 0, errors.NegativeQuantity(rec.QuantityOnHand, rec.ReservedQuantity, delta)
		}
		rec.QuantityOnHand += delta
		if delta > 0 {
			now := l.opts.now()
			rec.LastRestockAt = &now
		}
		return delta, nil
	})
}

// Reserve holds min(qty, available).
func (l *Ledger) Reserve(_ context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error) {
	meta := domain.MovementMeta{Type: domain.MovementReserve, ReferenceID: referenceID}
	return l.mutate(key, false, meta, func(rec *domain.StockRecord, exists bool) (int64, error) {
		if !exists {
			return 0, errors.NotFound("stock record")
		}
		grant := min(qty, rec.Available())
		if grant < 0 {
			grant = 0
		}
		rec.ReservedQuantity += grant
		return grant, nil
	})
}

// Release returns up to qty reserved units to available.
func (l *Ledger) Release(_ context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error) {
	meta := domain.MovementMeta{Type: domain.MovementRelease, ReferenceID: referenceID}
	return l.mutate(key, false, meta, func(rec *domain.StockRecord, exists bool) (int64, error) {
		if !exists {
			return 0, errors.NotFound("stock record")
		}
		n := min(qty, rec.ReservedQuantity)
		rec.ReservedQuantity -= n
		return n, nil
	})
}

// Fulfill consumes up to qty reserved units from both counters.
func (l *Ledger) Fulfill(_ context.Context, key domain.StockKey, qty int64, referenceID string) (*domain.StockChange, error) {
	meta := domain.MovementMeta{Type: domain.MovementFulfill, ReferenceID: referenceID}
	return l.mutate(key, false, meta, func(rec *domain.StockRecord, exists bool) (int64, error) {
		if !exists {
			return 0, errors.NotFound("stock record")
		}
		n := min(qty, rec.ReservedQuantity)
		rec.ReservedQuantity -= n
		rec.QuantityOnHand -= n
		return n, nil
	})
}

// Settle releases or consumes hold.Quantity once per hold id. The settled
// mark is taken under the key's lock, so it lands together with the counters.
func (l *Ledger) Settle(_ context.Context, hold domain.Hold, consume bool, referenceID string) (*domain.StockChange, error) {
	meta := domain.MovementMeta{Type: domain.MovementRelease, ReferenceID: referenceID}
	if consume {
		meta.Type = domain.MovementFulfill
	}
	change, err := l.mutate(hold.Key(), false, meta, func(rec *domain.StockRecord, exists bool) (int64, error) {
		if !exists {
			return 0, errors.NotFound("stock record")
		}
		if !l.claimSettlement(hold.ID) {
			return 0, errAlreadySettled
		}
		n := min(hold.Quantity, rec.ReservedQuantity)
		rec.ReservedQuantity -= n
		if consume {
			rec.QuantityOnHand -= n
		}
		return n, nil
	})
	if stderrors.Is(err, errAlreadySettled) {
		return nil, nil
	}
	return change, err
}

func (l *Ledger) claimSettlement(holdID string) bool {
	l.settledMu.Lock()
	defer l.settledMu.Unlock()
	if _, ok := l.settled[holdID]; ok {
		return false
	}
	l.settled[holdID] = struct{}{}
	return true
}

// Get returns a copy of the record for key.
func (l *Ledger) Get(_ context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	e := l.entry(key, false)
	if e == nil {
		return nil, errors.NotFound("stock record")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists {
		return nil, errors.NotFound("stock record")
	}
	rec := e.rec
	return &rec, nil
}

// ListByProduct returns every record of a product ordered by variant and location.
func (l *Ledger) ListByProduct(_ context.Context, productID string) ([]*domain.StockRecord, error) {
	l.mu.RLock()
	matched := make([]*stockEntry, 0)
	for key, e := range l.entries {
		if key.ProductID == productID {
			matched = append(matched, e)
		}
	}
	l.mu.RUnlock()

	out := make([]*domain.StockRecord, 0, len(matched))
	for _, e := range matched {
		e.mu.Lock()
		if e.exists {
			rec := e.rec
			out = append(out, &rec)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VariantID != out[j].VariantID {
			return out[i].VariantID < out[j].VariantID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

// UpdateSettings replaces the replenishment fields of an existing record.
func (l *Ledger) UpdateSettings(_ context.Context, key domain.StockKey, settings domain.StockSettings) (*domain.StockRecord, error) {
	e := l.entry(key, false)
	if e == nil {
		return nil, errors.NotFound("stock record")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists {
		return nil, errors.NotFound("stock record")
	}
	e.rec.ReorderPoint = settings.ReorderPoint
	e.rec.ReorderQuantity = settings.ReorderQuantity
	e.rec.LowStockThreshold = settings.LowStockThreshold
	e.rec.Version++
	e.rec.UpdatedAt = l.opts.now()
	rec := e.rec
	return &rec, nil
}

// ListMovements returns the newest movements for key first.
func (l *Ledger) ListMovements(_ context.Context, key domain.StockKey, limit int) ([]*domain.StockMovement, error) {
	l.movementsMu.Lock()
	defer l.movementsMu.Unlock()

	out := make([]*domain.StockMovement, 0)
	for i := len(l.movements) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		m := l.movements[i]
		if m.ProductID == key.ProductID && m.VariantID == key.VariantID && m.LocationID == key.LocationID {
			out = append(out, &m)
		}
	}
	return out, nil
}

func (l *Ledger) appendMovement(rec domain.StockRecord, meta domain.MovementMeta, qty int64, now time.Time) {
	l.movementsMu.Lock()
	defer l.movementsMu.Unlock()
	l.movements = append(l.movements, domain.StockMovement{
		ID:            uuid.New().String(),
		ProductID:     rec.ProductID,
		VariantID:     rec.VariantID,
		LocationID:    rec.LocationID,
		Type:          meta.Type,
		Quantity:      qty,
		OnHandAfter:   rec.QuantityOnHand,
		ReservedAfter: rec.ReservedQuantity,
		Reason:        meta.Reason,
		ReferenceID:   meta.ReferenceID,
		CreatedAt:     now,
	})
}
