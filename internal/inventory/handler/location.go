package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// LocationHandler handles location endpoints
type LocationHandler struct {
	svc    *service.LocationService
	logger *logger.Logger
}

// NewLocationHandler creates a new location handler
func NewLocationHandler(svc *service.LocationService, log *logger.Logger) *LocationHandler {
	return &LocationHandler{
		svc:    svc,
		logger: log,
	}
}

func (h *LocationHandler) List(w http.ResponseWriter, r *http.Request) {
	locations, err := h.svc.List(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, locations)
}

func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, loc)
}

func (h *LocationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in service.LocationInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}

	loc, err := h.svc.Create(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, loc)
}

// Update replaces the location named in the URL; an id in the body is ignored.
func (h *LocationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in service.LocationInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.Error(w, err)
		return
	}
	in.ID = chi.URLParam(r, "id")

	loc, err := h.svc.Update(r.Context(), in)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, loc)
}
