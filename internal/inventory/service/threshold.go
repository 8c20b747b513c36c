package service

import (
	"context"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/events"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
)

// ThresholdMonitor turns ledger changes into low-stock and out-of-stock
// notifications. It never mutates stock.
type ThresholdMonitor struct {
	publisher *events.InventoryEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewThresholdMonitor creates a new threshold monitor
func NewThresholdMonitor(publisher *events.InventoryEventPublisher, m *metrics.Metrics, log *logger.Logger) *ThresholdMonitor {
	return &ThresholdMonitor{
		publisher: publisher,
		metrics:   m,
		logger:    log.WithComponent("threshold-monitor"),
	}
}

// Observe inspects one change. A signal fires only on the change that
// crosses a boundary, so repeated mutations below the threshold stay quiet.
func (m *ThresholdMonitor) Observe(ctx context.Context, change *domain.StockChange, referenceID string) domain.Crossing {
	crossing := change.Crossings()
	rec := &change.Record

	if crossing.Low {
		m.metrics.ThresholdAlerts.WithLabelValues("low").Inc()
		m.logger.Info().
			Str("stock_key", rec.Key().String()).
			Int64("available", rec.Available()).
			Int64("threshold", rec.LowStockThreshold).
			Msg("stock crossed low threshold")
		m.publisher.PublishLowStock(ctx, rec, referenceID)
	}
	if crossing.OutOfStock {
		m.metrics.ThresholdAlerts.WithLabelValues("out_of_stock").Inc()
		m.logger.Warn().
			Str("stock_key", rec.Key().String()).
			Msg("stock is out")
		m.publisher.PublishOutOfStock(ctx, rec, referenceID)
	}
	return crossing
}
