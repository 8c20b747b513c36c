package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// ReservationHandler handles reservation endpoints
type ReservationHandler struct {
	svc    *service.ReservationService
	logger *logger.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(svc *service.ReservationService, log *logger.Logger) *ReservationHandler {
	return &ReservationHandler{
		svc:    svc,
		logger: log,
	}
}

// ReserveRequest is the wire form of service.ReserveRequest. TTLSeconds of
// zero means the configured default.
type ReserveRequest struct {
	ReferenceID string                `json:"reference_id"`
	Items       []service.ReserveItem `json:"items"`
	TTLSeconds  int64                 `json:"ttl_seconds,omitempty"`
}

// ReleaseRequest closes reservations. An empty reason means released.
type ReleaseRequest struct {
	Reason domain.ReleaseReason `json:"reason,omitempty"`
}

// ReleaseByReferenceRequest closes every active reservation of a reference.
type ReleaseByReferenceRequest struct {
	ReferenceID string               `json:"reference_id"`
	Reason      domain.ReleaseReason `json:"reason,omitempty"`
}

// ExtendRequest moves the deadline to now plus TTLSeconds.
type ExtendRequest struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func releaseReason(reason domain.ReleaseReason) domain.ReleaseReason {
	if reason == "" {
		return domain.ReasonReleased
	}
	return reason
}

// Reserve places holds for a reference. Partial results are a success; the
// body reports what each line obtained.
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if req.TTLSeconds < 0 {
		httputil.Error(w, errors.InvalidField("ttl_seconds", "must not be negative"))
		return
	}

	result, err := h.svc.Reserve(r.Context(), service.ReserveRequest{
		ReferenceID: req.ReferenceID,
		Items:       req.Items,
		TTL:         seconds(req.TTLSeconds),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	if result.Reservation == nil {
		httputil.JSON(w, http.StatusOK, result)
		return
	}
	httputil.Created(w, result)
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}

// ListByReference returns the reservations of ?reference_id=, optionally only active ones.
func (h *ReservationHandler) ListByReference(w http.ResponseWriter, r *http.Request) {
	referenceID := r.URL.Query().Get("reference_id")
	activeOnly := r.URL.Query().Get("active") == "true"

	reservations, err := h.svc.ListByReference(r.Context(), referenceID, activeOnly)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, reservations, &httputil.Meta{Count: len(reservations)})
}

func (h *ReservationHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	result, err := h.svc.Release(r.Context(), chi.URLParam(r, "id"), releaseReason(req.Reason))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

func (h *ReservationHandler) ReleaseByReference(w http.ResponseWriter, r *http.Request) {
	var req ReleaseByReferenceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	results, err := h.svc.ReleaseByReference(r.Context(), req.ReferenceID, releaseReason(req.Reason))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSONWithMeta(w, http.StatusOK, results, &httputil.Meta{Count: len(results)})
}

func (h *ReservationHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Fulfill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, result)
}

func (h *ReservationHandler) Extend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	res, err := h.svc.Extend(r.Context(), chi.URLParam(r, "id"), seconds(req.TTLSeconds))
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, res)
}
