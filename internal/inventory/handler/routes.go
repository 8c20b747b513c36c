package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/httputil"
	"github.com/stockline/stockline-backend/pkg/logger"
)

// Handlers groups the inventory API handlers.
type Handlers struct {
	Stock        *StockHandler
	Reservations *ReservationHandler
	Pools        *PoolHandler
	Transfers    *TransferHandler
	Locations    *LocationHandler
	Sweeps       *SweepHandler
}

// Guards are applied to read and write routes respectively. A nil guard
// lets every request through.
type Guards struct {
	Read  func(http.Handler) http.Handler
	Write func(http.Handler) http.Handler
}

func passthrough(next http.Handler) http.Handler { return next }

func (g Guards) read() func(http.Handler) http.Handler {
	if g.Read == nil {
		return passthrough
	}
	return g.Read
}

func (g Guards) write() func(http.Handler) http.Handler {
	if g.Write == nil {
		return passthrough
	}
	return g.Write
}

// Routes mounts the inventory API on r, normally under /api/v1/inventory.
func (h *Handlers) Routes(g Guards) func(chi.Router) {
	return func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(g.read())

			r.Get("/stock/{productID}", h.Stock.ListByProduct)
			r.Get("/stock/{productID}/locations/{locationID}", h.Stock.Get)
			r.Get("/stock/{productID}/locations/{locationID}/movements", h.Stock.ListMovements)

			r.Get("/reservations", h.Reservations.ListByReference)
			r.Get("/reservations/{id}", h.Reservations.Get)

			r.Get("/pools", h.Pools.List)
			r.Get("/pools/{id}", h.Pools.Get)
			r.Get("/allocations/{id}", h.Pools.GetAllocation)

			r.Get("/transfers/{id}", h.Transfers.Get)

			r.Get("/locations", h.Locations.List)
			r.Get("/locations/{id}", h.Locations.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(g.write())

			r.Post("/stock/adjust", h.Stock.Adjust)
			r.Put("/stock/{productID}/locations/{locationID}/settings", h.Stock.UpdateSettings)

			r.Post("/reservations", h.Reservations.Reserve)
			r.Post("/reservations/release-by-reference", h.Reservations.ReleaseByReference)
			r.Post("/reservations/{id}/release", h.Reservations.Release)
			r.Post("/reservations/{id}/fulfill", h.Reservations.Fulfill)
			r.Post("/reservations/{id}/extend", h.Reservations.Extend)

			r.Post("/pools", h.Pools.Create)
			r.Put("/pools/{id}/active", h.Pools.SetActive)
			r.Post("/pools/{id}/allocate", h.Pools.Allocate)
			r.Post("/allocations/{id}/release", h.Pools.ReleaseAllocation)

			r.Post("/transfers", h.Transfers.Create)

			r.Post("/locations", h.Locations.Create)
			r.Put("/locations/{id}", h.Locations.Update)

			if h.Sweeps != nil {
				r.Post("/sweeps", h.Sweeps.Run)
			}
		})
	}
}

// SweepHandler triggers an out-of-band expiry sweep
type SweepHandler struct {
	sweeper *service.ExpirySweeper
	logger  *logger.Logger
}

// NewSweepHandler creates a new sweep handler
func NewSweepHandler(sweeper *service.ExpirySweeper, log *logger.Logger) *SweepHandler {
	return &SweepHandler{
		sweeper: sweeper,
		logger:  log,
	}
}

// Run sweeps once and reports what was released. A sweep held by another
// replica comes back with skipped set.
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Int("failed", stats.Failed).Msg("manual sweep finished with errors")
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, stats)
}
