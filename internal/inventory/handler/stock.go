package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

const defaultMovementLimit = 50

// StockHandler handles stock ledger endpoints
type StockHandler struct {
	svc    *service.StockService
	logger *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.StockService, log *logger.Logger) *StockHandler {
	return &StockHandler{
		svc:    svc,
		logger: log,
	}
}

// AdjustRequest is a manual on-hand correction.
type AdjustRequest struct {
	ProductID   string `json:"product_id"`
	VariantID   string `json:"variant_id,omitempty"`
	LocationID  string `json:"location_id"`
	Delta       int64  `json:"delta"`
	Reason      string `json:"reason,omitempty" validate:"max=500"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// stockKey reads the record key from the URL; the variant travels as a query parameter.
func stockKey(r *http.Request) domain.StockKey {
	return domain.StockKey{
		ProductID:  chi.URLParam(r, "productID"),
		VariantID:  r.URL.Query().Get("variant_id"),
		LocationID: chi.URLParam(r, "locationID"),
	}
}

func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	key := domain.StockKey{ProductID: req.ProductID, VariantID: req.VariantID, LocationID: req.LocationID}
	change, err := h.svc.Adjust(r.Context(), key, req.Delta, domain.MovementMeta{
		Reason:      req.Reason,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, change)
}

// ListByProduct returns every record of a product across locations
func (h *StockHandler) ListByProduct(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListByProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, records)
}

func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), stockKey(r))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rec)
}

func (h *StockHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.StockSettings
	if err := httputil.DecodeJSON(r, &settings); err != nil {
		httputil.Error(w, err)
		return
	}

	rec, err := h.svc.UpdateSettings(r.Context(), stockKey(r), settings)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rec)
}

// ListMovements returns the newest audit rows first
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	limit := httputil.QueryInt(r, "limit", defaultMovementLimit)
	movements, err := h.svc.ListMovements(r.Context(), stockKey(r), limit)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, movements, &httputil.Meta{Limit: limit, Count: len(movements)})
}
