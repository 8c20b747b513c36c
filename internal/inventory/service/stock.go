package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/events"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/tracing"
	"github.com/stockline/stockline-backend/pkg/validation"
)

// StockService is the only way the rest of the service touches the
// ledger: it validates input, feeds every change to the threshold monitor
// and records metrics.
type StockService struct {
	ledger    StockLedger
	monitor   *ThresholdMonitor
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	ledger StockLedger,
	monitor *ThresholdMonitor,
	publisher *events.InventoryEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *StockService {
	return &StockService{
		ledger:    ledger,
		monitor:   monitor,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("stock"),
	}
}

// Adjust changes on-hand by delta. meta.Type defaults to adjust; transfers
// pass their own movement types.
func (s *StockService) Adjust(ctx context.Context, key domain.StockKey, delta int64, meta domain.MovementMeta) (change *domain.StockChange, err error) {
	ctx, span := tracer.Start(ctx, "StockService.Adjust", keyAttrs(key))
	defer tracing.End(span, &err)
	span.SetAttributes(attribute.Int64("stock.delta", delta))

	if err := validation.Struct(key); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, errors.InvalidField("delta", "must not be zero")
	}
	if meta.Type == "" {
		meta.Type = domain.MovementAdjust
	}

	change, err = s.ledger.Adjust(ctx, key, delta, meta)
	s.record("adjust", err)
	if err != nil {
		return nil, err
	}

	s.monitor.Observe(ctx, change, meta.ReferenceID)
	if meta.Type == domain.MovementAdjust {
		s.publisher.PublishAdjusted(ctx, change, meta)
	}
	return change, nil
}

// Reserve holds min(qty, available) units. Applied on the returned change
// is what was actually granted, possibly zero.
func (s *StockService) Reserve(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (change *domain.StockChange, err error) {
	ctx, span := tracer.Start(ctx, "StockService.Reserve", keyAttrs(key))
	defer tracing.End(span, &err)

	if err := s.validateQty(key, qty); err != nil {
		return nil, err
	}

	change, err = s.ledger.Reserve(ctx, key, qty, referenceID)
	s.record("reserve", err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("stock.granted", change.Applied))
	s.metrics.UnitsReserved.Add(float64(change.Applied))
	s.monitor.Observe(ctx, change, referenceID)
	return change, nil
}

// Release returns up to qty reserved units to available.
func (s *StockService) Release(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (change *domain.StockChange, err error) {
	ctx, span := tracer.Start(ctx, "StockService.Release", keyAttrs(key))
	defer tracing.End(span, &err)

	if err := s.validateQty(key, qty); err != nil {
		return nil, err
	}

	change, err = s.ledger.Release(ctx, key, qty, referenceID)
	s.record("release", err)
	if err != nil {
		return nil, err
	}
	s.monitor.Observe(ctx, change, referenceID)
	return change, nil
}

// Fulfill consumes up to qty reserved units.
func (s *StockService) Fulfill(ctx context.Context, key domain.StockKey, qty int64, referenceID string) (change *domain.StockChange, err error) {
	ctx, span := tracer.Start(ctx, "StockService.Fulfill", keyAttrs(key))
	defer tracing.End(span, &err)

	if err := s.validateQty(key, qty); err != nil {
		return nil, err
	}

	change, err = s.ledger.Fulfill(ctx, key, qty, referenceID)
	s.record("fulfill", err)
	if err != nil {
		return nil, err
	}
	s.monitor.Observe(ctx, change, referenceID)
	return change, nil
}

// Settle applies a closed reservation's hold to the ledger exactly once:
// released back to available, or consumed when consume is set. A nil
// change means the hold had already been settled.
func (s *StockService) Settle(ctx context.Context, hold domain.Hold, consume bool, referenceID string) (change *domain.StockChange, err error) {
	ctx, span := tracer.Start(ctx, "StockService.Settle", keyAttrs(hold.Key()))
	defer tracing.End(span, &err)
	span.SetAttributes(attribute.String("reservation.hold_id", hold.ID), attribute.Bool("stock.consume", consume))

	if err := s.validateQty(hold.Key(), hold.Quantity); err != nil {
		return nil, err
	}

	op := "release"
	if consume {
		op = "fulfill"
	}
	change, err = s.ledger.Settle(ctx, hold, consume, referenceID)
	s.record(op, err)
	if err != nil || change == nil {
		return nil, err
	}
	s.monitor.Observe(ctx, change, referenceID)
	return change, nil
}

// Get returns one stock record
func (s *StockService) Get(ctx context.Context, key domain.StockKey) (*domain.StockRecord, error) {
	if err := validation.Struct(key); err != nil {
		return nil, err
	}
	return s.ledger.Get(ctx, key)
}

// ListByProduct returns every record of a product across variants and locations
func (s *StockService) ListByProduct(ctx context.Context, productID string) ([]*domain.StockRecord, error) {
	if productID == "" {
		return nil, errors.InvalidField("product_id", "this field is required")
	}
	return s.ledger.ListByProduct(ctx, productID)
}

// UpdateSettings changes the replenishment settings of an existing record
func (s *StockService) UpdateSettings(ctx context.Context, key domain.StockKey, settings domain.StockSettings) (*domain.StockRecord, error) {
	if err := validation.Struct(key); err != nil {
		return nil, err
	}
	if err := validation.Struct(settings); err != nil {
		return nil, err
	}
	return s.ledger.UpdateSettings(ctx, key, settings)
}

// ListMovements returns the audit trail of one record, newest first
func (s *StockService) ListMovements(ctx context.Context, key domain.StockKey, limit int) ([]*domain.StockMovement, error) {
	if err := validation.Struct(key); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.ledger.ListMovements(ctx, key, limit)
}

func (s *StockService) validateQty(key domain.StockKey, qty int64) error {
	if err := validation.Struct(key); err != nil {
		return err
	}
	if qty <= 0 {
		return errors.InvalidField("quantity", "must be greater than 0")
	}
	return nil
}

func (s *StockService) record(op string, err error) {
	s.metrics.LedgerOps.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if errors.Is(err, errors.ErrConcurrencyConflict) {
		s.metrics.LedgerConflicts.Inc()
		s.logger.Warn().Err(err).Str("op", op).Msg("ledger retries exhausted")
	}
}
