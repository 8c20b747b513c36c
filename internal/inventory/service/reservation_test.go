package service_test

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/repository/memory"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/logger"
	"github.com/stockline/stockline-backend/pkg/messaging"
)

func reserveOne(ref, product, location string, qty int64) service.ReserveRequest {
	return service.ReserveRequest{
		ReferenceID: ref,
		Items:       []service.ReserveItem{{ProductID: product, Quantity: qty, PreferredLocationID: location}},
	}
}

func TestReservationService_ReserveAndRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 10)

	result, err := h.reservations.Reserve(ctx, reserveOne("O1", "sku-1", "wh-1", 4))
	require.NoError(t, err)
	require.NotNil(t, result.Reservation)
	require.Len(t, result.Items, 1)
	line := result.Items[0]
	assert.EqualValues(t, 4, line.Reserved)
	assert.EqualValues(t, 6, line.Available)
	assert.True(t, line.IsFullyReserved)
	assert.Equal(t, domain.LineSucceeded, line.Outcome)
	assert.True(t, result.AllReserved)
	assert.Equal(t, epoch.Add(30*time.Minute), result.Reservation.ExpiresAt)

	rec := h.record(t, "sku-1", "wh-1")
	assert.EqualValues(t, 4, rec.ReservedQuantity)
	assert.EqualValues(t, 6, rec.Available())
	h.assertHoldsMatchReserved(t, "O1")
	h.published.AssertEventPublished(t, messaging.EventInventoryReserved)

	released, err := h.reservations.ReleaseByReference(ctx, "O1", domain.ReasonReleased)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.True(t, released[0].Released)
	assert.Equal(t, domain.ReservationReleased, released[0].Reservation.Status)

	rec = h.record(t, "sku-1", "wh-1")
	assert.EqualValues(t, 0, rec.ReservedQuantity)
	assert.EqualValues(t, 10, rec.QuantityOnHand)
	h.published.AssertEventPublished(t, messaging.EventInventoryReleased)
}

func TestReservationService_PartialLine(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sku-1", "wh-1", 5)

	result, err := h.reservations.Reserve(context.Background(), reserveOne("O2", "sku-1", "wh-1", 8))
	require.NoError(t, err)
	line := result.Items[0]
	assert.EqualValues(t, 8, line.Requested)
	assert.EqualValues(t, 5, line.Reserved)
	assert.False(t, line.IsFullyReserved)
	assert.Equal(t, domain.LinePartial, line.Outcome)
	assert.False(t, result.AllReserved)
	assert.EqualValues(t, 5, result.Reservation.Total())
}

func TestReservationService_LinesAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sku-1", "wh-1", 3)

	result, err := h.reservations.Reserve(context.Background(), service.ReserveRequest{
		ReferenceID: "O3",
		Items: []service.ReserveItem{
			{ProductID: "sku-1", Quantity: 2, PreferredLocationID: "wh-1"},
			{ProductID: "sku-missing", Quantity: 1, PreferredLocationID: "wh-1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, domain.LineSucceeded, result.Items[0].Outcome)
	assert.Equal(t, domain.LineFailed, result.Items[1].Outcome)
	assert.NotEmpty(t, result.Items[1].Error)
	require.NotNil(t, result.Reservation)
	assert.Len(t, result.Reservation.Holds, 1)
	h.assertHoldsMatchReserved(t, "O3")
}

func TestReservationService_NothingReservedPersistsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 2)
	_, err := h.stock.Reserve(ctx, key("sku-1", "wh-1"), 2, "other")
	require.NoError(t, err)

	result, err := h.reservations.Reserve(ctx, reserveOne("O4", "sku-1", "wh-1", 1))
	require.NoError(t, err)
	assert.Nil(t, result.Reservation)
	assert.Equal(t, domain.LineFailed, result.Items[0].Outcome)

	list, err := h.reservations.ListByReference(ctx, "O4", false)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, h.published.OfType(messaging.EventInventoryReserved))
}

func TestReservationService_DefaultLocation(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sku-1", "wh-main", 4)

	result, err := h.reservations.Reserve(context.Background(), reserveOne("O5", "sku-1", "", 2))
	require.NoError(t, err)
	assert.Equal(t, "wh-main", result.Items[0].LocationID)
	assert.EqualValues(t, 2, h.record(t, "sku-1", "wh-main").ReservedQuantity)
}

func TestReservationService_NoLocationAtAll(t *testing.T) {
	h := newHarness(t)
	h.cfg.DefaultLocationID = ""
	h.reservations = service.NewReservationService(h.stock, h.stores.Reservations, nil, h.cfg, h.metrics, logger.Nop())

	result, err := h.reservations.Reserve(context.Background(), reserveOne("O6", "sku-1", "", 2))
	require.NoError(t, err)
	assert.Nil(t, result.Reservation)
	assert.Contains(t, result.Items[0].Error, "no location")
}

func TestReservationService_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  service.ReserveRequest
	}{
		{"missing reference", reserveOne("", "sku-1", "wh-1", 1)},
		{"no items", service.ReserveRequest{ReferenceID: "O"}},
		{"zero quantity", reserveOne("O", "sku-1", "wh-1", 0)},
		{"missing product", reserveOne("O", "", "wh-1", 1)},
		{"negative ttl", service.ReserveRequest{ReferenceID: "O", TTL: -time.Second, Items: []service.ReserveItem{{ProductID: "p", Quantity: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.reservations.Reserve(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
		})
	}

	_, err := h.reservations.Release(ctx, "some-id", domain.ReleaseReason("lost"))
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
}

func TestReservationService_NoOversellUnderContention(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "sku-hot", "wh-1", 1)

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.reservations.Reserve(context.Background(), reserveOne("race", "sku-hot", "wh-1", 1))
			if err == nil && result.Reservation != nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	rec := h.record(t, "sku-hot", "wh-1")
	assert.EqualValues(t, 1, rec.ReservedQuantity)
	assert.EqualValues(t, 0, rec.Available())
	h.assertHoldsMatchReserved(t, "race")
}

func TestReservationService_ReleaseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 10)
	result, err := h.reservations.Reserve(ctx, reserveOne("O7", "sku-1", "wh-1", 3))
	require.NoError(t, err)
	id := result.Reservation.ID

	first, err := h.reservations.Release(ctx, id, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.True(t, first.Released)
	assert.Equal(t, domain.ReservationReleased, first.Reservation.Status)
	require.NotNil(t, first.Reservation.ReleaseReason)
	assert.Equal(t, domain.ReasonCancelled, *first.Reservation.ReleaseReason)

	moves, err := h.stock.ListMovements(ctx, key("sku-1", "wh-1"), 0)
	require.NoError(t, err)

	second, err := h.reservations.Release(ctx, id, domain.ReasonReleased)
	require.NoError(t, err)
	assert.False(t, second.Released)

	again, err := h.stock.ListMovements(ctx, key("sku-1", "wh-1"), 0)
	require.NoError(t, err)
	assert.Len(t, again, len(moves))
	assert.EqualValues(t, 0, h.record(t, "sku-1", "wh-1").ReservedQuantity)
	assert.Len(t, h.published.OfType(messaging.EventInventoryReleased), 1)
}

func TestReservationService_ConcurrentReleaseAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 10)
	other, err := h.reservations.Reserve(ctx, reserveOne("keep", "sku-1", "wh-1", 2))
	require.NoError(t, err)
	require.NotNil(t, other.Reservation)
	result, err := h.reservations.Reserve(ctx, reserveOne("O8", "sku-1", "wh-1", 5))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var won atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.reservations.Release(ctx, result.Reservation.ID, domain.ReasonReleased)
			if err == nil && r.Released {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, won.Load())
	assert.EqualValues(t, 2, h.record(t, "sku-1", "wh-1").ReservedQuantity)
	h.assertHoldsMatchReserved(t, "keep", "O8")
}

func TestReservationService_Fulfill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 10)
	result, err := h.reservations.Reserve(ctx, reserveOne("O9", "sku-1", "wh-1", 4))
	require.NoError(t, err)

	done, err := h.reservations.Fulfill(ctx, result.Reservation.ID)
	require.NoError(t, err)
	assert.True(t, done.Released)
	assert.Equal(t, domain.ReservationFulfilled, done.Reservation.Status)

	rec := h.record(t, "sku-1", "wh-1")
	assert.EqualValues(t, 6, rec.QuantityOnHand)
	assert.EqualValues(t, 0, rec.ReservedQuantity)
	h.published.AssertEventPublished(t, messaging.EventInventoryFulfilled)

	_, err = h.reservations.Extend(ctx, result.Reservation.ID, time.Hour)
	assert.Equal(t, errors.CodeReservationNotActive, errors.CodeOf(err))
}

func TestReservationService_Extend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 10)
	result, err := h.reservations.Reserve(ctx, reserveOne("O10", "sku-1", "wh-1", 1))
	require.NoError(t, err)
	id := result.Reservation.ID

	h.clock.Advance(10 * time.Minute)
	res, err := h.reservations.Extend(ctx, id, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(70*time.Minute), res.ExpiresAt)

	_, err = h.reservations.Extend(ctx, id, 0)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	h.clock.Advance(2 * time.Hour)
	_, err = h.reservations.Extend(ctx, id, time.Hour)
	require.Error(t, err)
	assert.Equal(t, errors.CodeReservationNotActive, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "expired")

	_, err = h.reservations.Extend(ctx, "missing", time.Hour)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

// failingReservationStore rejects every Create.
type failingReservationStore struct {
	service.ReservationStore
}

func (failingReservationStore) Create(context.Context, *domain.Reservation) error {
	return stderrors.New("disk full")
}

func TestReservationService_PersistFailureReturnsHolds(t *testing.T) {
	base := memory.NewStores()
	h := newHarness(t, withReservationStore(failingReservationStore{base.Reservations}))
	h.seed(t, "sku-1", "wh-1", 10)

	_, err := h.reservations.Reserve(context.Background(), reserveOne("O11", "sku-1", "wh-1", 4))
	require.Error(t, err)

	rec := h.record(t, "sku-1", "wh-1")
	assert.EqualValues(t, 0, rec.ReservedQuantity)
	assert.Empty(t, h.published.OfType(messaging.EventInventoryReserved))
}

// flakyLedger fails the next n settlements and, like a real driver, refuses
// work on a cancelled context.
type flakyLedger struct {
	service.StockLedger
	failures atomic.Int32
}

func (l *flakyLedger) Release(ctx context.Context, k domain.StockKey, qty int64, ref string) (*domain.StockChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.StockLedger.Release(ctx, k, qty, ref)
}

func (l *flakyLedger) Settle(ctx context.Context, hold domain.Hold, consume bool, ref string) (*domain.StockChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.failures.Add(-1) >= 0 {
		return nil, stderrors.New("connection reset")
	}
	return l.StockLedger.Settle(ctx, hold, consume, ref)
}

func newFlakyHarness(t *testing.T, opts ...harnessOption) (*harness, *flakyLedger) {
	t.Helper()
	var flaky *flakyLedger
	opts = append(opts, withLedger(func(l service.StockLedger) service.StockLedger {
		flaky = &flakyLedger{StockLedger: l}
		return flaky
	}))
	return newHarness(t, opts...), flaky
}

func TestReservationService_ReleaseSurvivesCancelledCaller(t *testing.T) {
	h, _ := newFlakyHarness(t)
	h.seed(t, "sku-1", "wh-1", 10)
	result, err := h.reservations.Reserve(context.Background(), reserveOne("O12", "sku-1", "wh-1", 4))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	released, err := h.reservations.Release(ctx, result.Reservation.ID, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.True(t, released.Released)
	assert.False(t, released.Reservation.HasUnsettledHolds())
	assert.EqualValues(t, 0, h.record(t, "sku-1", "wh-1").ReservedQuantity)
}

func TestReservationService_RetriedReleaseFinishesSettlement(t *testing.T) {
	h, flaky := newFlakyHarness(t)
	ctx := context.Background()
	h.seed(t, "sku-1", "wh-1", 10)
	result, err := h.reservations.Reserve(ctx, reserveOne("O13", "sku-1", "wh-1", 4))
	require.NoError(t, err)
	id := result.Reservation.ID

	flaky.failures.Store(1)
	first, err := h.reservations.Release(ctx, id, domain.ReasonCancelled)
	require.Error(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Released)
	assert.True(t, first.Reservation.HasUnsettledHolds())
	assert.EqualValues(t, 4, h.record(t, "sku-1", "wh-1").ReservedQuantity)

	second, err := h.reservations.Release(ctx, id, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.False(t, second.Released)
	assert.False(t, second.Reservation.HasUnsettledHolds())

	rec := h.record(t, "sku-1", "wh-1")
	assert.EqualValues(t, 0, rec.ReservedQuantity)
	assert.EqualValues(t, 10, rec.Available())
	assert.Len(t, h.published.OfType(messaging.EventInventoryReleased), 1)

	third, err := h.reservations.Release(ctx, id, domain.ReasonCancelled)
	require.NoError(t, err)
	assert.False(t, third.Released)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "wh-1").ReservedQuantity)
}

// cancellingReservationStore cancels the caller's context and then fails Create.
type cancellingReservationStore struct {
	service.ReservationStore
	cancel context.CancelFunc
}

func (s cancellingReservationStore) Create(context.Context, *domain.Reservation) error {
	s.cancel()
	return stderrors.New("context canceled")
}

func TestReservationService_PersistFailureReturnsHoldsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	base := memory.NewStores()
	h, _ := newFlakyHarness(t, withReservationStore(cancellingReservationStore{base.Reservations, cancel}))
	h.seed(t, "sku-1", "wh-1", 10)

	_, err := h.reservations.Reserve(ctx, reserveOne("O14", "sku-1", "wh-1", 4))
	require.Error(t, err)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "wh-1").ReservedQuantity)
}
