package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// PoolHandler handles pool and allocation endpoints
type PoolHandler struct {
	svc    *service.AllocationService
	logger *logger.Logger
}

// NewPoolHandler creates a new pool handler
func NewPoolHandler(svc *service.AllocationService, log *logger.Logger) *PoolHandler {
	return &PoolHandler{
		svc:    svc,
		logger: log,
	}
}

// SetActiveRequest toggles a pool.
type SetActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// AllocateRequest is the wire form of service.AllocateRequest; the pool
// comes from the URL.
type AllocateRequest struct {
	ReferenceID      string                 `json:"reference_id"`
	Items            []service.AllocateItem `json:"items"`
	Strategy         domain.Strategy        `json:"strategy,omitempty"`
	CustomerLocation *domain.Coordinates    `json:"customer_location,omitempty"`
	TTLSeconds       int64                  `json:"ttl_seconds,omitempty"`
}

func (h *PoolHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreatePoolRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	pool, err := h.svc.CreatePool(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, pool)
}

func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	pools, err := h.svc.ListPools(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, pools)
}

func (h *PoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	pool, err := h.svc.GetPool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, pool)
}

func (h *PoolHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.IsActive == nil {
		httputil.Error(w, errors.InvalidField("is_active", "this field is required"))
		return
	}

	pool, err := h.svc.SetPoolActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, pool)
}

// Allocate spreads the request over the pool's members
func (h *PoolHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.TTLSeconds < 0 {
		httputil.Error(w, errors.InvalidField("ttl_seconds", "must not be negative"))
		return
	}

	alloc, err := h.svc.Allocate(r.Context(), service.AllocateRequest{
		PoolID:           chi.URLParam(r, "id"),
		ReferenceID:      req.ReferenceID,
		Items:            req.Items,
		Strategy:         req.Strategy,
		CustomerLocation: req.CustomerLocation,
		TTL:              seconds(req.TTLSeconds),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.Created(w, alloc)
}

func (h *PoolHandler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, alloc)
}

func (h *PoolHandler) ReleaseAllocation(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	result, err := h.svc.ReleaseAllocation(r.Context(), chi.URLParam(r, "id"), releaseReason(req.Reason))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}
