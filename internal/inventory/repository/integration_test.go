package repository_test

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/repository"
	"github.com/stockline/stockline-backend/pkg/errors"
	"github.com/stockline/stockline-backend/pkg/testutil"
)

var suite *testutil.IntegrationSuite

var allTables = []string{
	"stock_movements", "stock_records", "reservation_holds", "reservations",
	"allocations", "pool_members", "pools", "locations", "transfers",
}

func TestMain(m *testing.M) {
	flag.Parse()
	ctx := context.Background()

	if !testing.Short() {
		var err error
		suite, err = testutil.NewIntegrationSuite(ctx, repository.Migrate)
		if err != nil {
			log.Fatalf("failed to set up integration suite: %v", err)
		}
	}

	code := m.Run()
	if suite != nil {
		suite.Cleanup(ctx)
	}
	os.Exit(code)
}

func integration(t *testing.T) {
	t.Helper()
	testutil.SkipIfShort(t)
	suite.Truncate(t, allTables...)
}

func TestIntegration_ReserveNeverOversells(t *testing.T) {
	integration(t)
	ctx := context.Background()
	repo := repository.NewStockRepository(suite.DB)
	key := domain.StockKey{ProductID: "sku-hot", LocationID: "wh-1"}

	_, err := repo.Adjust(ctx, key, 10, domain.MovementMeta{Type: domain.MovementAdjust})
	require.NoError(t, err)

	var mu sync.Mutex
	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			change, err := repo.Reserve(ctx, key, 1, fmt.Sprintf("order-%d", i))
			if err != nil {
				return
			}
			mu.Lock()
			granted += change.Applied
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	rec, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 10, granted)
	assert.EqualValues(t, 10, rec.ReservedQuantity)
	assert.EqualValues(t, 0, rec.Available())

	moves, err := repo.ListMovements(ctx, key, 100)
	require.NoError(t, err)
	assert.Len(t, moves, 11)
}

func TestIntegration_AdjustGuards(t *testing.T) {
	integration(t)
	ctx := context.Background()
	repo := repository.NewStockRepository(suite.DB)
	key := domain.StockKey{ProductID: "sku-1", VariantID: "red", LocationID: "wh-1"}

	_, err := repo.Adjust(ctx, key, -1, domain.MovementMeta{Type: domain.MovementAdjust})
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = repo.Adjust(ctx, key, 5, domain.MovementMeta{Type: domain.MovementAdjust})
	require.NoError(t, err)
	_, err = repo.Reserve(ctx, key, 4, "order-1")
	require.NoError(t, err)

	_, err = repo.Adjust(ctx, key, -2, domain.MovementMeta{Type: domain.MovementAdjust})
	assert.Equal(t, errors.CodeNegativeQuantity, errors.CodeOf(err))

	change, err := repo.Fulfill(ctx, key, 10, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, change.Applied)
	assert.EqualValues(t, 1, change.Record.QuantityOnHand)
	assert.EqualValues(t, 0, change.Record.ReservedQuantity)
}

func TestIntegration_ReservationCloseIsClaimedOnce(t *testing.T) {
	integration(t)
	ctx := context.Background()
	repo := repository.NewReservationRepository(suite.DB)
	now := time.Now().UTC().Truncate(time.Microsecond)

	res := &domain.Reservation{
		ID: uuid.New().String(), ReferenceID: "order-1", Status: domain.ReservationActive,
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now,
		Holds: []domain.Hold{{ID: uuid.New().String(), ProductID: "sku-1", LocationID: "wh-1", Quantity: 3}},
	}
	require.NoError(t, repo.Create(ctx, res))

	expired, err := repo.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Len(t, expired[0].Holds, 1)

	ok, err := repo.Extend(ctx, res.ID, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, ok, "expired reservations cannot be extended")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := repo.Close(ctx, res.ID, domain.ReasonExpired, now)
			if err == nil && won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := repo.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, got.Status)

	active, err := repo.ListByReference(ctx, "order-1", true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestIntegration_PoolsAllocationsAndTransfers(t *testing.T) {
	integration(t)
	ctx := context.Background()
	locations := repository.NewLocationRepository(suite.DB)
	pools := repository.NewPoolRepository(suite.DB)
	allocations := repository.NewAllocationRepository(suite.DB)
	transfers := repository.NewTransferRepository(suite.DB)

	lat, lng := 52.52, 13.405
	require.NoError(t, locations.Create(ctx, &domain.Location{ID: "berlin", Name: "Berlin", Latitude: &lat, Longitude: &lng, IsActive: true}))
	require.NoError(t, locations.Create(ctx, &domain.Location{ID: "munich", Name: "Munich", IsActive: true}))

	found, err := locations.GetMany(ctx, []string{"berlin", "nowhere"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	coords, ok := found["berlin"].Coordinates()
	require.True(t, ok)
	assert.InDelta(t, 52.52, coords.Latitude, 1e-9)

	now := time.Now().UTC().Truncate(time.Microsecond)
	pool := &domain.Pool{
		ID: uuid.New().String(), Name: "eu", Strategy: domain.StrategyNearest, Policy: domain.PolicyImmediate,
		IsActive: true, CreatedAt: now, UpdatedAt: now,
		Members: []domain.PoolMember{{LocationID: "munich", Priority: 2}, {LocationID: "berlin", Priority: 1}},
	}
	require.NoError(t, pools.Create(ctx, pool))
	require.NoError(t, pools.SetActive(ctx, pool.ID, false))

	got, err := pools.Get(ctx, pool.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, []string{"berlin", "munich"}, got.MemberIDs())

	alloc := &domain.Allocation{
		ID: uuid.New().String(), PoolID: pool.ID, ReferenceID: "order-1",
		Strategy: domain.StrategyNearest, Policy: domain.PolicyImmediate, Status: domain.AllocationReserved,
		Lines: domain.AllocationLines{{
			ProductID: "sku-1", Requested: 3, Allocated: 3, Outcome: domain.LineSucceeded,
			Picks: []domain.Pick{{LocationID: "berlin", Quantity: 3, ReservationID: "r-1"}},
		}},
		FullyAllocated: true, CreatedAt: now,
	}
	require.NoError(t, allocations.Create(ctx, alloc))

	won, err := allocations.MarkReleased(ctx, alloc.ID, now)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = allocations.MarkReleased(ctx, alloc.ID, now)
	require.NoError(t, err)
	assert.False(t, won)

	stored, err := allocations.Get(ctx, alloc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationReleased, stored.Status)
	assert.Equal(t, []string{"r-1"}, stored.ReservationIDs())

	tr := &domain.Transfer{
		ID: uuid.New().String(), SourceLocationID: "berlin", DestinationLocationID: "munich",
		Items:     domain.TransferItems{{ProductID: "sku-1", Requested: 5}},
		CreatedAt: now,
	}
	tr.Items[0].Settle(2)
	tr.Summarize()
	require.NoError(t, transfers.Create(ctx, tr))

	storedTr, err := transfers.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPartial, storedTr.Status)
	assert.Equal(t, domain.LinePartial, storedTr.Items[0].Outcome)

	_, err = transfers.Get(ctx, uuid.New().String())
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestIntegration_SettleAppliesHoldOnce(t *testing.T) {
	integration(t)
	ctx := context.Background()
	stock := repository.NewStockRepository(suite.DB)
	reservations := repository.NewReservationRepository(suite.DB)
	key := domain.StockKey{ProductID: "sku-1", LocationID: "wh-1"}
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := stock.Adjust(ctx, key, 10, domain.MovementMeta{Type: domain.MovementAdjust})
	require.NoError(t, err)
	_, err = stock.Reserve(ctx, key, 4, "order-1")
	require.NoError(t, err)

	hold := domain.Hold{ID: uuid.New().String(), ProductID: key.ProductID, LocationID: key.LocationID, Quantity: 4}
	res := &domain.Reservation{
		ID: uuid.New().String(), ReferenceID: "order-1", Status: domain.ReservationActive,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now, Holds: []domain.Hold{hold},
	}
	require.NoError(t, reservations.Create(ctx, res))
	won, err := reservations.Close(ctx, res.ID, domain.ReasonCancelled, now)
	require.NoError(t, err)
	require.True(t, won)

	unsettled, err := reservations.ListUnsettled(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsettled, 1)
	assert.Equal(t, res.ID, unsettled[0].ID)

	var mu sync.Mutex
	applied := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			change, err := stock.Settle(ctx, hold, false, "order-1")
			if err == nil && change != nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, applied)

	rec, err := stock.Get(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rec.ReservedQuantity)
	assert.EqualValues(t, 10, rec.Available())

	require.NoError(t, reservations.MarkSettled(ctx, res.ID, hold.ID, now))
	unsettled, err = reservations.ListUnsettled(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled)

	_, err = reservations.Get(ctx, "not-a-uuid")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}
