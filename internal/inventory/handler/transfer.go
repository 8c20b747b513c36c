package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// TransferHandler handles transfer endpoints
type TransferHandler struct {
	svc    *service.TransferService
	logger *logger.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(svc *service.TransferService, log *logger.Logger) *TransferHandler {
	return &TransferHandler{
		svc:    svc,
		logger: log,
	}
}

// Create runs a transfer. The transfer is recorded even when no line moved,
// so the response is always 201 with per-line results.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.TransferRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	t, err := h.svc.Transfer(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, t)
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, t)
}
