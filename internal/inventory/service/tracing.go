package service

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/pkg/tracing"
)

var tracer = tracing.Tracer("github.com/stockline/stockline-backend/internal/inventory/service")

func keyAttrs(key domain.StockKey) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("stock.product_id", key.ProductID),
		attribute.String("stock.variant_id", key.VariantID),
		attribute.String("stock.location_id", key.LocationID),
	)
}
