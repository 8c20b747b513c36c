package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/events"
	"github.com/stockline/stockline-backend/internal/inventory/repository/memory"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/config"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/metrics"
	"github.com/stockline/stockline-backend/pkg/testutil"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	clock     *testutil.Clock
	published *testutil.RecordingPublisher
	stores    service.Stores
	metrics   *metrics.Metrics
	cfg       config.ReservationConfig

	stock        *service.StockService
	reservations *service.ReservationService
	allocations  *service.AllocationService
	transfers    *service.TransferService
	locations    *service.LocationService
	sweeper      *service.ExpirySweeper
}

type harnessOption func(*harness)

func withReservationStore(store service.ReservationStore) harnessOption {
	return func(h *harness) { h.stores.Reservations = store }
}

func withLedger(wrap func(service.StockLedger) service.StockLedger) harnessOption {
	return func(h *harness) { h.stores.Ledger = wrap(h.stores.Ledger) }
}

func withAllocationStore(store service.AllocationStore) harnessOption {
	return func(h *harness) { h.stores.Allocations = store }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	clock := testutil.NewClock(epoch)
	h := &harness{
		clock:     clock,
		published: testutil.NewRecordingPublisher(),
		stores:    memory.NewStores(memory.WithClock(clock.Now)),
		metrics:   metrics.New("stockline_test"),
		cfg: config.ReservationConfig{
			DefaultTTL:        30 * time.Minute,
			DefaultLocationID: "wh-main",
			SweepInterval:     time.Minute,
			SweepBatchSize:    100,
			SweepConcurrency:  4,
			SweepLockTTL:      30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	log := logger.Nop()
	pub := events.NewWithPublisher(h.published, log)
	monitor := service.NewThresholdMonitor(pub, h.metrics, log)

	h.stock = service.NewStockService(h.stores.Ledger, monitor, pub, h.metrics, log)
	h.reservations = service.NewReservationService(h.stock, h.stores.Reservations, pub, h.cfg, h.metrics, log)
	h.reservations.SetClock(clock.Now)
	h.allocations = service.NewAllocationService(h.stores.Pools, h.stores.Locations, h.stores.Allocations, h.stock, h.reservations, h.metrics, log)
	h.allocations.SetClock(clock.Now)
	h.transfers = service.NewTransferService(h.stock, h.stores.Transfers, pub, h.metrics, log)
	h.locations = service.NewLocationService(h.stores.Locations, log)
	h.sweeper = service.NewExpirySweeper(h.reservations, h.stores.Reservations, nil, h.cfg, h.metrics, log)
	h.sweeper.SetClock(clock.Now)
	return h
}

func key(product, location string) domain.StockKey {
	return domain.StockKey{ProductID: product, LocationID: location}
}

// seed brings the record at product@location to onHand units.
func (h *harness) seed(t *testing.T, product, location string, onHand int64) {
	t.Helper()
	_, err := h.stock.Adjust(context.Background(), key(product, location), onHand, domain.MovementMeta{Reason: "seed"})
	require.NoError(t, err)
}

func (h *harness) record(t *testing.T, product, location string) *domain.StockRecord {
	t.Helper()
	rec, err := h.stock.Get(context.Background(), key(product, location))
	require.NoError(t, err)
	return rec
}

func (h *harness) location(t *testing.T, id string, coords ...float64) {
	t.Helper()
	in := service.LocationInput{ID: id, Name: id}
	if len(coords) == 2 {
		in.Latitude, in.Longitude = &coords[0], &coords[1]
	}
	_, err := h.locations.Create(context.Background(), in)
	require.NoError(t, err)
}

// assertHoldsMatchReserved checks that active holds add up to each record's reserved count.
func (h *harness) assertHoldsMatchReserved(t *testing.T, referenceIDs ...string) {
	t.Helper()
	ctx := context.Background()
	held := make(map[domain.StockKey]int64)
	for _, ref := range referenceIDs {
		active, err := h.reservations.ListByReference(ctx, ref, true)
		require.NoError(t, err)
		for _, res := range active {
			for _, hold := range res.Holds {
				held[hold.Key()] += hold.Quantity
			}
		}
	}
	for k, qty := range held {
		rec, err := h.stock.Get(ctx, k)
		require.NoError(t, err)
		require.Equal(t, qty, rec.ReservedQuantity, "reserved mismatch on %s", k)
		require.LessOrEqual(t, rec.ReservedQuantity, rec.QuantityOnHand)
	}
}
