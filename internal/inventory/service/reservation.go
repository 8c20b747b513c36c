package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/events"
	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/tracing"
	"github.com/stockline/stockline-backend/pkg/validation"
)

// ReserveItem is one requested line.
type ReserveItem struct {
	ProductID           string `json:"product_id" validate:"required"`
	VariantID           string `json:"variant_id,omitempty"`
	Quantity            int64  `json:"quantity" validate:"gt=0"`
	PreferredLocationID string `json:"preferred_location_id,omitempty"`
}

// ReserveRequest asks for holds on behalf of one reference. A zero TTL
// means the configured default.
type ReserveRequest struct {
	ReferenceID string        `json:"reference_id" validate:"required"`
	Items       []ReserveItem `json:"items" validate:"required,min=1,dive"`
	TTL         time.Duration `json:"ttl" validate:"gte=0"`
}

// ReservedLine reports what one line obtained. Available is what remained
// at the location right after the reservation.
type ReservedLine struct {
	ProductID       string             `json:"product_id"`
	VariantID       string             `json:"variant_id,omitempty"`
	LocationID      string             `json:"location_id"`
	Requested       int64              `json:"requested"`
	Reserved        int64              `json:"reserved"`
	Available       int64              `json:"available"`
	IsFullyReserved bool               `json:"is_fully_reserved"`
	Outcome         domain.LineOutcome `json:"outcome"`
	Error           string             `json:"error,omitempty"`
}

// ReserveResult is the outcome of Reserve. Reservation is nil when no
// line reserved anything.
type ReserveResult struct {
	Reservation *domain.Reservation `json:"reservation"`
	Items       []ReservedLine      `json:"items"`
	AllReserved bool                `json:"all_reserved"`
}

// ReleaseResult is the outcome of closing one reservation. Released is
// false when the reservation was already terminal.
type ReleaseResult struct {
	Reservation *domain.Reservation `json:"reservation"`
	Released    bool                `json:"released"`
}

// ReservationService manages time-bounded holds.
type ReservationService struct {
	stock     *StockService
	store     ReservationStore
	publisher *events.InventoryEventPublisher
	cfg       config.ReservationConfig
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewReservationService creates a new reservation service
func NewReservationService(
	stock *StockService,
	store ReservationStore,
	publisher *events.InventoryEventPublisher,
	cfg config.ReservationConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *ReservationService {
	return &ReservationService{
		stock:     stock,
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    log.WithComponent("reservation"),
		now:       time.Now,
	}
}

// SetClock replaces the time source.
func (s *ReservationService) SetClock(now func() time.Time) {
	s.now = now
}

// Reserve places a hold for every line at its preferred location, or the
// default one. Lines are independent: a short or failed line never undoes
// another. Only the lines that reserved something become holds.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (result *ReserveResult, err error) {
	ctx, span := tracer.Start(ctx, "ReservationService.Reserve")
	defer tracing.End(span, &err)
	span.SetAttributes(attribute.String("reservation.reference_id", req.ReferenceID))

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	ttl := req.TTL
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	now := s.now()
	res := &domain.Reservation{
		ID:          uuid.New().String(),
		ReferenceID: req.ReferenceID,
		Status:      domain.ReservationActive,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result = &ReserveResult{Items: make([]ReservedLine, 0, len(req.Items)), AllReserved: true}
	for _, item := range req.Items {
		line := s.reserveLine(ctx, res, item)
		if !line.IsFullyReserved {
			result.AllReserved = false
		}
		result.Items = append(result.Items, line)
	}

	if len(res.Holds) == 0 {
		return result, nil
	}

	if err := s.store.Create(ctx, res); err != nil {
		s.logger.Error().Err(err).Str("reference_id", req.ReferenceID).Msg("failed to persist reservation, returning holds")
		s.returnHolds(ctx, res)
		return nil, err
	}

	for i := range res.Holds {
		s.publisher.PublishReserved(ctx, res, &res.Holds[i])
	}
	result.Reservation = res

	s.logger.Info().
		Str("reservation_id", res.ID).
		Str("reference_id", res.ReferenceID).
		Int64("total", res.Total()).
		Bool("all_reserved", result.AllReserved).
		Msg("reservation created")
	return result, nil
}

func (s *ReservationService) reserveLine(ctx context.Context, res *domain.Reservation, item ReserveItem) ReservedLine {
	locationID := item.PreferredLocationID
	if locationID == "" {
		locationID = s.cfg.DefaultLocationID
	}
	line := ReservedLine{
		ProductID:  item.ProductID,
		VariantID:  item.VariantID,
		LocationID: locationID,
		Requested:  item.Quantity,
	}

	if locationID == "" {
		line.Error = "no location given and no default location configured"
	} else {
		key := domain.StockKey{ProductID: item.ProductID, VariantID: item.VariantID, LocationID: locationID}
		change, err := s.stock.Reserve(ctx, key, item.Quantity, res.ReferenceID)
		if err != nil {
			s.logger.Warn().Err(err).Str("stock_key", key.String()).Msg("reservation line failed")
			line.Error = err.Error()
		} else {
			line.Reserved = change.Applied
			line.Available = change.Record.Available()
			if change.Applied > 0 {
				res.Holds = append(res.Holds, domain.Hold{
					ID:            uuid.New().String(),
					ReservationID: res.ID,
					ProductID:     key.ProductID,
					VariantID:     key.VariantID,
					LocationID:    key.LocationID,
					Quantity:      change.Applied,
				})
			}
		}
	}

	line.IsFullyReserved = line.Reserved == line.Requested
	line.Outcome = domain.OutcomeOf(line.Requested, line.Reserved)
	return line
}

// returnHolds undoes granted holds of a reservation that could not be
// persisted. It runs detached from ctx so a cancelled caller cannot strand units.
func (s *ReservationService) returnHolds(ctx context.Context, res *domain.Reservation) {
	ctx = context.WithoutCancel(ctx)
	for _, h := range res.Holds {
		if _, err := s.stock.Release(ctx, h.Key(), h.Quantity, res.ReferenceID); err != nil {
			s.logger.Error().Err(err).Str("stock_key", h.Key().String()).Int64("quantity", h.Quantity).Msg("failed to return hold")
		}
	}
}

// Release closes a reservation with reason and returns its holds to the
// ledger, or consumes them when reason is fulfilled. Releasing a terminal
// reservation reports Released=false and only finishes any settlement an
// earlier close left behind.
func (s *ReservationService) Release(ctx context.Context, id string, reason domain.ReleaseReason) (result *ReleaseResult, err error) {
	ctx, span := tracer.Start(ctx, "ReservationService.Release")
	defer tracing.End(span, &err)
	span.SetAttributes(
		attribute.String("reservation.id", id),
		attribute.String("reservation.reason", string(reason)),
	)

	if id == "" {
		return nil, errors.InvalidField("reservation_id", "this field is required")
	}
	if !reason.Valid() {
		return nil, errors.InvalidField("reason", "must be one of: released cancelled expired fulfilled")
	}

	won, err := s.store.Close(ctx, id, reason, s.now())
	if err != nil {
		return nil, err
	}

	// Once closed, the holds must reach the ledger whatever happens to the
	// caller. A reservation left with unsettled holds is picked up again by
	// a later Release or by the sweeper.
	ctx = context.WithoutCancel(ctx)
	res, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if won {
		s.metrics.ReservationsClosed.WithLabelValues(string(res.Status)).Inc()
	}

	settleErr := s.SettleHolds(ctx, res)

	if won {
		s.logger.Info().
			Str("reservation_id", id).
			Str("reference_id", res.ReferenceID).
			Str("status", string(res.Status)).
			Msg("reservation closed")
	}

	result = &ReleaseResult{Reservation: res, Released: won}
	if settleErr != nil {
		return result, fmt.Errorf("reservation %s closed with holds not applied: %w", id, settleErr)
	}
	return result, nil
}

// SettleHolds applies every unsettled hold of a closed reservation to the
// ledger and stamps it. Holds already settled are skipped, so it can be
// called any number of times. res is updated in place.
func (s *ReservationService) SettleHolds(ctx context.Context, res *domain.Reservation) (err error) {
	if !res.HasUnsettledHolds() {
		return nil
	}
	ctx, span := tracer.Start(ctx, "ReservationService.SettleHolds")
	defer tracing.End(span, &err)
	span.SetAttributes(attribute.String("reservation.id", res.ID))

	consume := res.Status == domain.ReservationFulfilled
	var errs []error
	for i := range res.Holds {
		h := &res.Holds[i]
		if h.Settled() {
			continue
		}
		change, err := s.stock.Settle(ctx, *h, consume, res.ReferenceID)
		if err != nil {
			s.logger.Error().Err(err).
				Str("reservation_id", res.ID).
				Str("stock_key", h.Key().String()).
				Int64("quantity", h.Quantity).
				Msg("failed to return hold to ledger")
			errs = append(errs, fmt.Errorf("hold %s: %w", h.Key(), err))
			continue
		}

		now := s.now()
		if err := s.store.MarkSettled(ctx, res.ID, h.ID, now); err != nil {
			s.logger.Error().Err(err).Str("reservation_id", res.ID).Str("hold_id", h.ID).Msg("failed to mark hold settled")
			errs = append(errs, fmt.Errorf("hold %s: %w", h.Key(), err))
			continue
		}
		h.SettledAt = &now

		if change == nil {
			continue
		}
		if consume {
			s.publisher.PublishFulfilled(ctx, res, h)
		} else {
			s.publisher.PublishReleased(ctx, res, h)
		}
	}
	return stderrors.Join(errs...)
}

// ReleaseByReference closes every active reservation of a reference.
func (s *ReservationService) ReleaseByReference(ctx context.Context, referenceID string, reason domain.ReleaseReason) ([]*ReleaseResult, error) {
	if referenceID == "" {
		return nil, errors.InvalidField("reference_id", "this field is required")
	}
	if !reason.Valid() {
		return nil, errors.InvalidField("reason", "must be one of: released cancelled expired fulfilled")
	}

	active, err := s.store.ListByReference(ctx, referenceID, true)
	if err != nil {
		return nil, err
	}

	results := make([]*ReleaseResult, 0, len(active))
	var errs []error
	for _, res := range active {
		r, err := s.Release(ctx, res.ID, reason)
		if err != nil {
			errs = append(errs, err)
		}
		if r != nil {
			results = append(results, r)
		}
	}
	return results, stderrors.Join(errs...)
}

// Fulfill consumes the holds of a reservation.
func (s *ReservationService) Fulfill(ctx context.Context, id string) (*ReleaseResult, error) {
	return s.Release(ctx, id, domain.ReasonFulfilled)
}

// Extend moves the deadline to now+ttl. It fails with RESERVATION_NOT_ACTIVE
// once the reservation is terminal or already past its deadline.
func (s *ReservationService) Extend(ctx context.Context, id string, ttl time.Duration) (res *domain.Reservation, err error) {
	ctx, span := tracer.Start(ctx, "ReservationService.Extend")
	defer tracing.End(span, &err)
	span.SetAttributes(attribute.String("reservation.id", id))

	if ttl <= 0 {
		return nil, errors.InvalidField("ttl", "must be greater than 0")
	}

	now := s.now()
	ok, err := s.store.Extend(ctx, id, now.Add(ttl), now)
	if err != nil {
		return nil, err
	}
	res, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		status := string(res.Status)
		if res.IsExpired(now) {
			status = string(domain.ReservationExpired)
		}
		return nil, errors.ReservationNotActive(id, status)
	}
	return res, nil
}

// Get returns one reservation with its holds
func (s *ReservationService) Get(ctx context.Context, id string) (*domain.Reservation, error) {
	return s.store.Get(ctx, id)
}

// ListByReference returns every reservation taken for a reference
func (s *ReservationService) ListByReference(ctx context.Context, referenceID string, activeOnly bool) ([]*domain.Reservation, error) {
	if referenceID == "" {
		return nil, errors.InvalidField("reference_id", "this field is required")
	}
	return s.store.ListByReference(ctx, referenceID, activeOnly)
}
