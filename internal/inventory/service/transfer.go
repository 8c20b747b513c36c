package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/events"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/tracing"
	"github.com/stockline/stockline-backend/pkg/validation"
)

// TransferLine is one product to move.
type TransferLine struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

// TransferRequest moves unreserved stock between two locations.
type TransferRequest struct {
	SourceLocationID      string         `json:"source_location_id" validate:"required"`
	DestinationLocationID string         `json:"destination_location_id" validate:"required,nefield=SourceLocationID"`
	Items                 []TransferLine `json:"items" validate:"required,min=1,dive"`
	Reason                string         `json:"reason,omitempty" validate:"max=500"`
}

// TransferService moves on-hand stock between locations line by line.
type TransferService struct {
	stock     *StockService
	store     TransferStore
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewTransferService creates a new transfer service
func NewTransferService(
	stock *StockService,
	store TransferStore,
	publisher *events.InventoryEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *TransferService {
	return &TransferService{
		stock:     stock,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("transfer"),
		now:       time.Now,
	}
}

// Transfer moves min(requested, available at source) for every line.
// Reserved stock never moves. Lines are independent; the result reports
// each one and whether everything moved.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (t *domain.Transfer, err error) {
	ctx, span := tracer.Start(ctx, "TransferService.Transfer")
	defer tracing.End(span, &err)
	span.SetAttributes(
		attribute.String("transfer.source", req.SourceLocationID),
		attribute.String("transfer.destination", req.DestinationLocationID),
	)

	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	t = &domain.Transfer{
		ID:                    uuid.New().String(),
		SourceLocationID:      req.SourceLocationID,
		DestinationLocationID: req.DestinationLocationID,
		Reason:                req.Reason,
		CreatedAt:             s.now(),
	}
	for _, line := range req.Items {
		item := s.transferLine(ctx, t, line)
		s.metrics.TransferLines.WithLabelValues(string(item.Outcome)).Inc()
		t.Items = append(t.Items, item)
	}
	t.Summarize()

	if err := s.store.Create(ctx, t); err != nil {
		// The stock already moved; the audit row is what is missing.
		s.logger.Error().Err(err).Str("transfer_id", t.ID).Msg("failed to persist transfer")
		return nil, err
	}

	for i := range t.Items {
		if t.Items[i].Transferred > 0 {
			s.publisher.PublishTransferred(ctx, t, &t.Items[i])
		}
	}

	s.logger.Info().
		Str("transfer_id", t.ID).
		Str("source", t.SourceLocationID).
		Str("destination", t.DestinationLocationID).
		Str("status", string(t.Status)).
		Msg("transfer processed")
	return t, nil
}

func (s *TransferService) transferLine(ctx context.Context, t *domain.Transfer, line TransferLine) domain.TransferItem {
	item := domain.TransferItem{
		ProductID: line.ProductID,
		VariantID: line.VariantID,
		Requested: line.Quantity,
	}
	src := domain.StockKey{ProductID: line.ProductID, VariantID: line.VariantID, LocationID: t.SourceLocationID}
	dst := domain.StockKey{ProductID: line.ProductID, VariantID: line.VariantID, LocationID: t.DestinationLocationID}

	fail := func(err error) domain.TransferItem {
		item.Settle(0)
		item.Error = err.Error()
		return item
	}

	var available int64
	rec, err := s.stock.Get(ctx, src)
	switch {
	case errors.Is(err, errors.ErrNotFound):
		// no record at the source means nothing to move
	case err != nil:
		return fail(err)
	default:
		available = rec.Available()
	}

	n := min(line.Quantity, available)
	if n <= 0 {
		return fail(errors.InsufficientStock(line.Quantity, available))
	}

	// The source may have been reserved since the read; the ledger's guard
	// rejects the decrement rather than dipping into reserved stock.
	out := domain.MovementMeta{Type: domain.MovementTransferOut, Reason: t.Reason, ReferenceID: t.ID}
	if _, err := s.stock.Adjust(ctx, src, -n, out); err != nil {
		if errors.Is(err, errors.ErrNegativeQuantity) {
			return fail(errors.InsufficientStock(line.Quantity, 0))
		}
		return fail(err)
	}

	in := domain.MovementMeta{Type: domain.MovementTransferIn, Reason: t.Reason, ReferenceID: t.ID}
	if _, err := s.stock.Adjust(ctx, dst, n, in); err != nil {
		s.logger.Error().Err(err).Str("stock_key", dst.String()).Msg("destination adjust failed, restoring source")
		back := domain.MovementMeta{Type: domain.MovementTransferIn, Reason: "transfer rollback", ReferenceID: t.ID}
		if _, rbErr := s.stock.Adjust(ctx, src, n, back); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("stock_key", src.String()).Int64("quantity", n).Msg("failed to restore source stock")
		}
		return fail(err)
	}

	item.Settle(n)
	if !item.Success {
		item.Error = errors.InsufficientStock(line.Quantity, n).Message
	}
	return item
}

// Get returns a persisted transfer
func (s *TransferService) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	return s.store.Get(ctx, id)
}
