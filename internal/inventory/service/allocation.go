package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stockline/stockline-backend/internal/inventory/allocation"
	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/tracing"
	"github.com/stockline/stockline-backend/pkg/validation"
)

// AllocateItem is one requested line.
type AllocateItem struct {
	ProductID           string `json:"product_id" validate:"required"`
	VariantID           string `json:"variant_id,omitempty"`
	Quantity            int64  `json:"quantity" validate:"gt=0"`
	PreferredLocationID string `json:"preferred_location_id,omitempty"`
}

// AllocateRequest distributes items across the members of a pool. An empty
// Strategy uses the pool's own.
type AllocateRequest struct {
	PoolID           string              `json:"pool_id" validate:"required"`
	ReferenceID      string              `json:"reference_id" validate:"required"`
	Items            []AllocateItem      `json:"items" validate:"required,min=1,dive"`
	Strategy         domain.Strategy     `json:"strategy,omitempty" validate:"omitempty,oneof=fifo nearest priority even_split"`
	CustomerLocation *domain.Coordinates `json:"customer_location,omitempty"`
	TTL              time.Duration       `json:"ttl" validate:"gte=0"`
}

// PoolMemberInput is one member of a new pool.
type PoolMemberInput struct {
	LocationID string `json:"location_id" validate:"required"`
	Priority   int    `json:"priority" validate:"gte=0"`
}

// CreatePoolRequest creates a pool. An empty policy means immediate.
type CreatePoolRequest struct {
	Name     string                   `json:"name" validate:"required,max=255"`
	Strategy domain.Strategy          `json:"allocation_strategy" validate:"required,oneof=fifo nearest priority even_split"`
	Policy   domain.ReservationPolicy `json:"reservation_policy,omitempty" validate:"omitempty,oneof=immediate deferred"`
	Members  []PoolMemberInput        `json:"members" validate:"required,min=1,dive"`
}

// AllocationReleaseResult is the outcome of ReleaseAllocation.
type AllocationReleaseResult struct {
	Allocation *domain.Allocation `json:"allocation"`
	Released   bool               `json:"released"`
}

// AllocationService spreads requests across a pool of locations.
type AllocationService struct {
	pools        PoolStore
	locations    LocationRegistry
	allocations  AllocationStore
	stock        *StockService
	reservations *ReservationService
	metrics      *metrics.Metrics
	logger       *logger.Logger
	now          func() time.Time
}

// NewAllocationService creates a new allocation service
func NewAllocationService(
	pools PoolStore,
	locations LocationRegistry,
	allocations AllocationStore,
	stock *StockService,
	reservations *ReservationService,
	m *metrics.Metrics,
	log *logger.Logger,
) *AllocationService {
	return &AllocationService{
		pools:        pools,
		locations:    locations,
		allocations:  allocations,
		stock:        stock,
		reservations: reservations,
		metrics:      m,
		logger:       log.WithComponent("allocation"),
		now:          time.Now,
	}
}

// SetClock replaces the time source.
func (s *AllocationService) SetClock(now func() time.Time) {
	s.now = now
}

// CreatePool validates and stores a new pool
func (s *AllocationService) CreatePool(ctx context.Context, req CreatePoolRequest) (*domain.Pool, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(req.Members))
	now := s.now()
	pool := &domain.Pool{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Strategy:  req.Strategy,
		Policy:    req.Policy,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if pool.Policy == "" {
		pool.Policy = domain.PolicyImmediate
	}
	for _, m := range req.Members {
		if seen[m.LocationID] {
			return nil, errors.InvalidField("members", "location "+m.LocationID+" listed twice")
		}
		seen[m.LocationID] = true
		pool.Members = append(pool.Members, domain.PoolMember{PoolID: pool.ID, LocationID: m.LocationID, Priority: m.Priority})
	}

	if err := s.pools.Create(ctx, pool); err != nil {
		return nil, err
	}
	s.logger.Info().Str("pool_id", pool.ID).Str("strategy", string(pool.Strategy)).Int("members", len(pool.Members)).Msg("pool created")
	return pool, nil
}

// GetPool returns a pool with its members
func (s *AllocationService) GetPool(ctx context.Context, id string) (*domain.Pool, error) {
	return s.pools.Get(ctx, id)
}

// ListPools returns every pool
func (s *AllocationService) ListPools(ctx context.Context) ([]*domain.Pool, error) {
	return s.pools.List(ctx)
}

// SetPoolActive activates or deactivates a pool
func (s *AllocationService) SetPoolActive(ctx context.Context, id string, active bool) (*domain.Pool, error) {
	if err := s.pools.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.pools.Get(ctx, id)
}

// Get returns a persisted allocation
func (s *AllocationService) Get(ctx context.Context, id string) (*domain.Allocation, error) {
	return s.allocations.Get(ctx, id)
}

// Allocate distributes every line over the pool's members. Each line is
// settled independently; whatever cannot be placed is reported as
// shortfall. Under the immediate policy every pick is its own reservation.
func (s *AllocationService) Allocate(ctx context.Context, req AllocateRequest) (alloc *domain.Allocation, err error) {
	ctx, span := tracer.Start(ctx, "AllocationService.Allocate")
	defer tracing.End(span, &err)
	span.SetAttributes(
		attribute.String("allocation.pool_id", req.PoolID),
		attribute.String("allocation.reference_id", req.ReferenceID),
	)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	pool, err := s.pools.Get(ctx, req.PoolID)
	if err != nil {
		return nil, err
	}
	if !pool.IsActive {
		return nil, errors.PoolInactive(pool.ID)
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = pool.Strategy
	}
	span.SetAttributes(attribute.String("allocation.strategy", string(strategy)))

	locations, err := s.locations.GetMany(ctx, pool.MemberIDs())
	if err != nil {
		return nil, err
	}

	alloc = &domain.Allocation{
		ID:             uuid.New().String(),
		PoolID:         pool.ID,
		ReferenceID:    req.ReferenceID,
		Strategy:       strategy,
		Policy:         pool.Policy,
		Status:         domain.AllocationReserved,
		FullyAllocated: true,
		CreatedAt:      s.now(),
	}
	if pool.Policy == domain.PolicyDeferred {
		alloc.Status = domain.AllocationPlanned
	}

	for _, item := range req.Items {
		line := s.allocateLine(ctx, pool, locations, strategy, req, item)
		if line.Shortfall > 0 {
			alloc.FullyAllocated = false
			s.metrics.AllocationShort.WithLabelValues(string(strategy)).Add(float64(line.Shortfall))
		}
		alloc.Lines = append(alloc.Lines, line)
	}

	if err := s.allocations.Create(ctx, alloc); err != nil {
		s.logger.Error().Err(err).Str("pool_id", pool.ID).Msg("failed to persist allocation, releasing its reservations")
		for _, id := range alloc.ReservationIDs() {
			if _, relErr := s.reservations.Release(ctx, id, domain.ReasonReleased); relErr != nil {
				s.logger.Error().Err(relErr).Str("reservation_id", id).Msg("failed to release reservation")
			}
		}
		return nil, err
	}

	s.logger.Info().
		Str("allocation_id", alloc.ID).
		Str("pool_id", pool.ID).
		Str("strategy", string(strategy)).
		Bool("fully_allocated", alloc.FullyAllocated).
		Msg("allocation completed")
	return alloc, nil
}

func (s *AllocationService) allocateLine(
	ctx context.Context,
	pool *domain.Pool,
	locations map[string]*domain.Location,
	strategy domain.Strategy,
	req AllocateRequest,
	item AllocateItem,
) domain.AllocationLine {
	line := domain.AllocationLine{
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Requested: item.Quantity,
		Picks:     []domain.Pick{},
	}

	candidates, err := s.candidates(ctx, pool, locations, item)
	if err != nil {
		s.logger.Warn().Err(err).Str("product_id", item.ProductID).Msg("failed to load pool stock")
		line.Error = err.Error()
	} else {
		p := &picker{svc: s, req: req, item: item, pool: pool, line: &line}
		opts := allocation.Options{PreferredLocationID: item.PreferredLocationID, Origin: req.CustomerLocation}

		if strategy == domain.StrategyEvenSplit {
			short := make(map[string]bool)
			for _, t := range allocation.EvenSplit(item.Quantity, candidates) {
				if got := p.take(ctx, t.LocationID, t.Quantity); got < t.Quantity {
					short[t.LocationID] = true
				}
			}
			// Stock can move between the snapshot and the reservation; top up
			// from locations that still had room.
			for _, c := range allocation.Order(domain.StrategyPriority, candidates, opts) {
				if p.remaining() == 0 {
					break
				}
				if short[c.LocationID] {
					continue
				}
				if room := c.Available - p.taken[c.LocationID]; room > 0 {
					p.take(ctx, c.LocationID, min(room, p.remaining()))
				}
			}
		} else {
			for _, c := range allocation.Order(strategy, candidates, opts) {
				if p.remaining() == 0 {
					break
				}
				p.take(ctx, c.LocationID, min(c.Available, p.remaining()))
			}
		}
	}

	line.Shortfall = line.Requested - line.Allocated
	line.Outcome = domain.OutcomeOf(line.Requested, line.Allocated)
	return line
}

// candidates are the active member locations holding available stock of the item.
func (s *AllocationService) candidates(ctx context.Context, pool *domain.Pool, locations map[string]*domain.Location, item AllocateItem) ([]allocation.Candidate, error) {
	records, err := s.stock.ListByProduct(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}

	priority := make(map[string]int, len(pool.Members))
	for _, m := range pool.Members {
		priority[m.LocationID] = m.Priority
	}

	var out []allocation.Candidate
	for _, rec := range records {
		prio, member := priority[rec.LocationID]
		if !member || rec.VariantID != item.VariantID || rec.Available() <= 0 {
			continue
		}
		loc, ok := locations[rec.LocationID]
		if !ok || !loc.IsActive {
			continue
		}
		c := allocation.Candidate{
			LocationID: rec.LocationID,
			Available:  rec.Available(),
			Priority:   prio,
			CreatedAt:  rec.CreatedAt,
		}
		if coords, ok := loc.Coordinates(); ok {
			c.Coordinates = coords
		}
		out = append(out, c)
	}
	return out, nil
}

// picker applies picks for one line, reserving them under the immediate policy.
type picker struct {
	svc   *AllocationService
	req   AllocateRequest
	item  AllocateItem
	pool  *domain.Pool
	line  *domain.AllocationLine
	taken map[string]int64
}

func (p *picker) remaining() int64 {
	return p.line.Requested - p.line.Allocated
}

// take places up to qty at locationID and returns what it got.
func (p *picker) take(ctx context.Context, locationID string, qty int64) int64 {
	if qty <= 0 {
		return 0
	}
	if p.taken == nil {
		p.taken = make(map[string]int64)
	}

	pick := domain.Pick{LocationID: locationID, Quantity: qty}
	if p.pool.Policy == domain.PolicyImmediate {
		result, err := p.svc.reservations.Reserve(ctx, ReserveRequest{
			ReferenceID: p.req.ReferenceID,
			Items: []ReserveItem{{
				ProductID:           p.item.ProductID,
				VariantID:           p.item.VariantID,
				Quantity:            qty,
				PreferredLocationID: locationID,
			}},
			TTL: p.req.TTL,
		})
		if err != nil {
			p.svc.logger.Warn().Err(err).Str("location_id", locationID).Msg("allocation pick failed")
			return 0
		}
		if result.Reservation == nil {
			return 0
		}
		pick.Quantity = result.Items[0].Reserved
		pick.ReservationID = result.Reservation.ID
	}

	p.line.Picks = append(p.line.Picks, pick)
	p.line.Allocated += pick.Quantity
	p.taken[locationID] += pick.Quantity
	return pick.Quantity
}

// ReleaseAllocation releases every reservation the allocation created.
// Releasing an already released allocation is a no-op.
func (s *AllocationService) ReleaseAllocation(ctx context.Context, id string, reason domain.ReleaseReason) (result *AllocationReleaseResult, err error) {
	ctx, span := tracer.Start(ctx, "AllocationService.ReleaseAllocation")
	defer tracing.End(span, &err)
	span.SetAttributes(attribute.String("allocation.id", id))

	if reason == "" {
		reason = domain.ReasonReleased
	}
	if !reason.Valid() || reason == domain.ReasonFulfilled {
		return nil, errors.InvalidField("reason", "must be one of: released cancelled expired")
	}

	won, err := s.allocations.MarkReleased(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	alloc, err := s.allocations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return &AllocationReleaseResult{Allocation: alloc, Released: false}, nil
	}

	var errs []error
	for _, rid := range alloc.ReservationIDs() {
		if _, err := s.reservations.Release(ctx, rid, reason); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Info().Str("allocation_id", id).Int("reservations", len(alloc.ReservationIDs())).Msg("allocation released")
	return &AllocationReleaseResult{Allocation: alloc, Released: true}, stderrors.Join(errs...)
}
