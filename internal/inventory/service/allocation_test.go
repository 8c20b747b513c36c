package service_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockline/stockline-backend/internal/inventory/domain"
	"github.com/stockline/stockline-backend/internal/inventory/repository/memory"
	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/errors"
)

func (h *harness) pool(t *testing.T, strategy domain.Strategy, policy domain.ReservationPolicy, members ...service.PoolMemberInput) *domain.Pool {
	t.Helper()
	for _, m := range members {
		if _, err := h.locations.Get(context.Background(), m.LocationID); err != nil {
			h.location(t, m.LocationID)
		}
	}
	pool, err := h.allocations.CreatePool(context.Background(), service.CreatePoolRequest{
		Name:     "pool-" + string(strategy),
		Strategy: strategy,
		Policy:   policy,
		Members:  members,
	})
	require.NoError(t, err)
	return pool
}

func member(location string, priority int) service.PoolMemberInput {
	return service.PoolMemberInput{LocationID: location, Priority: priority}
}

func allocateOne(poolID, product string, qty int64) service.AllocateRequest {
	return service.AllocateRequest{
		PoolID:      poolID,
		ReferenceID: "order-1",
		Items:       []service.AllocateItem{{ProductID: product, Quantity: qty}},
	}
}

func picked(line domain.AllocationLine) map[string]int64 {
	out := make(map[string]int64)
	for _, p := range line.Picks {
		out[p.LocationID] += p.Quantity
	}
	return out
}

func TestAllocationService_PriorityHonoursPreferredLocation(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyPriority, "", member("L1", 2), member("L2", 1))
	h.seed(t, "sku-1", "L1", 3)
	h.seed(t, "sku-1", "L2", 10)

	req := allocateOne(pool.ID, "sku-1", 5)
	req.Items[0].PreferredLocationID = "L2"
	alloc, err := h.allocations.Allocate(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, alloc.FullyAllocated)
	assert.Equal(t, domain.AllocationReserved, alloc.Status)
	require.Len(t, alloc.Lines, 1)
	assert.Equal(t, map[string]int64{"L2": 5}, picked(alloc.Lines[0]))
	assert.Equal(t, domain.LineSucceeded, alloc.Lines[0].Outcome)

	assert.EqualValues(t, 0, h.record(t, "sku-1", "L1").ReservedQuantity)
	assert.EqualValues(t, 5, h.record(t, "sku-1", "L2").ReservedQuantity)
	h.assertHoldsMatchReserved(t, "order-1")
}

func TestAllocationService_PriorityDrainsInOrder(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyPriority, "", member("L1", 1), member("L2", 2), member("L3", 3))
	h.seed(t, "sku-1", "L1", 2)
	h.seed(t, "sku-1", "L2", 2)
	h.seed(t, "sku-1", "L3", 9)

	alloc, err := h.allocations.Allocate(context.Background(), allocateOne(pool.ID, "sku-1", 5))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"L1": 2, "L2": 2, "L3": 1}, picked(alloc.Lines[0]))
	assert.Len(t, alloc.ReservationIDs(), 3)
}

func TestAllocationService_FIFODrainsOldestStockFirst(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyFIFO, "", member("new", 0), member("old", 0))
	h.seed(t, "sku-1", "old", 3)
	h.clock.Advance(time.Hour)
	h.seed(t, "sku-1", "new", 10)

	alloc, err := h.allocations.Allocate(context.Background(), allocateOne(pool.ID, "sku-1", 4))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"old": 3, "new": 1}, picked(alloc.Lines[0]))
	assert.Equal(t, "old", alloc.Lines[0].Picks[0].LocationID)
}

func TestAllocationService_NearestUsesCustomerLocation(t *testing.T) {
	h := newHarness(t)
	h.location(t, "berlin", 52.52, 13.405)
	h.location(t, "munich", 48.137, 11.575)
	h.location(t, "hamburg", 53.551, 9.993)
	pool := h.pool(t, domain.StrategyNearest, "", member("berlin", 0), member("munich", 0), member("hamburg", 0))
	h.seed(t, "sku-1", "berlin", 2)
	h.seed(t, "sku-1", "munich", 5)
	h.seed(t, "sku-1", "hamburg", 5)

	req := allocateOne(pool.ID, "sku-1", 4)
	req.CustomerLocation = &domain.Coordinates{Latitude: 52.4, Longitude: 13.1} // Potsdam
	alloc, err := h.allocations.Allocate(context.Background(), req)
	require.NoError(t, err)

	picks := alloc.Lines[0].Picks
	require.Len(t, picks, 2)
	assert.Equal(t, "berlin", picks[0].LocationID)
	assert.EqualValues(t, 2, picks[0].Quantity)
	assert.Equal(t, "hamburg", picks[1].LocationID)
	assert.EqualValues(t, 2, picks[1].Quantity)
}

func TestAllocationService_EvenSplitIsProportional(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyEvenSplit, "", member("A", 0), member("B", 0), member("C", 0))
	h.seed(t, "sku-1", "A", 6)
	h.seed(t, "sku-1", "B", 3)
	h.seed(t, "sku-1", "C", 1)

	alloc, err := h.allocations.Allocate(context.Background(), allocateOne(pool.ID, "sku-1", 5))
	require.NoError(t, err)
	assert.True(t, alloc.FullyAllocated)
	assert.Equal(t, map[string]int64{"A": 3, "B": 2}, picked(alloc.Lines[0]))
}

func TestAllocationService_RequestOverridesPoolStrategy(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyPriority, "", member("A", 0), member("B", 1))
	h.seed(t, "sku-1", "A", 4)
	h.seed(t, "sku-1", "B", 4)

	req := allocateOne(pool.ID, "sku-1", 4)
	req.Strategy = domain.StrategyEvenSplit
	alloc, err := h.allocations.Allocate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyEvenSplit, alloc.Strategy)
	assert.Equal(t, map[string]int64{"A": 2, "B": 2}, picked(alloc.Lines[0]))
}

func TestAllocationService_Shortfall(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyPriority, "", member("A", 0), member("B", 1))
	h.seed(t, "sku-1", "A", 2)
	h.seed(t, "sku-1", "B", 1)

	alloc, err := h.allocations.Allocate(context.Background(), service.AllocateRequest{
		PoolID:      pool.ID,
		ReferenceID: "order-1",
		Items: []service.AllocateItem{
			{ProductID: "sku-1", Quantity: 5},
			{ProductID: "sku-none", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.False(t, alloc.FullyAllocated)

	first, second := alloc.Lines[0], alloc.Lines[1]
	assert.EqualValues(t, 3, first.Allocated)
	assert.EqualValues(t, 2, first.Shortfall)
	assert.Equal(t, domain.LinePartial, first.Outcome)
	assert.EqualValues(t, 1, second.Shortfall)
	assert.Equal(t, domain.LineFailed, second.Outcome)
	assert.Empty(t, second.Picks)
}

func TestAllocationService_SkipsInactiveLocationsAndNonMembers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.pool(t, domain.StrategyPriority, "", member("A", 0), member("B", 1))
	h.seed(t, "sku-1", "A", 5)
	h.seed(t, "sku-1", "B", 5)
	h.seed(t, "sku-1", "outsider", 50)

	inactive := false
	_, err := h.locations.Update(ctx, service.LocationInput{ID: "A", Name: "A", IsActive: &inactive})
	require.NoError(t, err)

	alloc, err := h.allocations.Allocate(ctx, allocateOne(pool.ID, "sku-1", 8))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"B": 5}, picked(alloc.Lines[0]))
	assert.EqualValues(t, 0, h.record(t, "sku-1", "A").ReservedQuantity)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "outsider").ReservedQuantity)
}

func TestAllocationService_InactiveOrUnknownPool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.pool(t, domain.StrategyPriority, "", member("A", 0))
	h.seed(t, "sku-1", "A", 5)

	_, err := h.allocations.SetPoolActive(ctx, pool.ID, false)
	require.NoError(t, err)

	_, err = h.allocations.Allocate(ctx, allocateOne(pool.ID, "sku-1", 1))
	require.Error(t, err)
	assert.Equal(t, errors.CodePoolInactive, errors.CodeOf(err))
	assert.EqualValues(t, 0, h.record(t, "sku-1", "A").ReservedQuantity)

	_, err = h.allocations.Allocate(ctx, allocateOne("no-such-pool", "sku-1", 1))
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestAllocationService_DeferredPolicyPlansOnly(t *testing.T) {
	h := newHarness(t)
	pool := h.pool(t, domain.StrategyPriority, domain.PolicyDeferred, member("A", 0), member("B", 1))
	h.seed(t, "sku-1", "A", 2)
	h.seed(t, "sku-1", "B", 5)

	alloc, err := h.allocations.Allocate(context.Background(), allocateOne(pool.ID, "sku-1", 4))
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationPlanned, alloc.Status)
	assert.Equal(t, map[string]int64{"A": 2, "B": 2}, picked(alloc.Lines[0]))
	assert.Empty(t, alloc.ReservationIDs())
	assert.EqualValues(t, 0, h.record(t, "sku-1", "A").ReservedQuantity)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "B").ReservedQuantity)
}

func TestAllocationService_ReleaseAllocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	pool := h.pool(t, domain.StrategyPriority, "", member("A", 0), member("B", 1))
	h.seed(t, "sku-1", "A", 2)
	h.seed(t, "sku-1", "B", 5)

	alloc, err := h.allocations.Allocate(ctx, allocateOne(pool.ID, "sku-1", 4))
	require.NoError(t, err)

	_, err = h.allocations.ReleaseAllocation(ctx, alloc.ID, domain.ReasonFulfilled)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	first, err := h.allocations.ReleaseAllocation(ctx, alloc.ID, "")
	require.NoError(t, err)
	assert.True(t, first.Released)
	assert.Equal(t, domain.AllocationReleased, first.Allocation.Status)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "A").ReservedQuantity)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "B").ReservedQuantity)

	second, err := h.allocations.ReleaseAllocation(ctx, alloc.ID, "")
	require.NoError(t, err)
	assert.False(t, second.Released)

	for _, id := range alloc.ReservationIDs() {
		res, err := h.reservations.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationReleased, res.Status)
	}
}

func TestAllocationService_CreatePoolValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.allocations.CreatePool(ctx, service.CreatePoolRequest{
		Name:     "dup",
		Strategy: domain.StrategyFIFO,
		Members:  []service.PoolMemberInput{member("A", 0), member("A", 1)},
	})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	_, err = h.allocations.CreatePool(ctx, service.CreatePoolRequest{
		Name:     "bad",
		Strategy: domain.Strategy("random"),
		Members:  []service.PoolMemberInput{member("A", 0)},
	})
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))

	pool, err := h.allocations.CreatePool(ctx, service.CreatePoolRequest{
		Name:     "ok",
		Strategy: domain.StrategyFIFO,
		Members:  []service.PoolMemberInput{member("A", 0)},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyImmediate, pool.Policy)
	assert.True(t, pool.IsActive)
}

// failingAllocationStore rejects every Create.
type failingAllocationStore struct {
	service.AllocationStore
}

func (failingAllocationStore) Create(context.Context, *domain.Allocation) error {
	return stderrors.New("connection reset")
}

func TestAllocationService_PersistFailureReleasesReservations(t *testing.T) {
	base := memory.NewStores()
	h := newHarness(t, withAllocationStore(failingAllocationStore{base.Allocations}))
	pool := h.pool(t, domain.StrategyPriority, "", member("A", 0))
	h.seed(t, "sku-1", "A", 5)

	_, err := h.allocations.Allocate(context.Background(), allocateOne(pool.ID, "sku-1", 3))
	require.Error(t, err)
	assert.EqualValues(t, 0, h.record(t, "sku-1", "A").ReservedQuantity)

	active, err := h.reservations.ListByReference(context.Background(), "order-1", true)
	require.NoError(t, err)
	assert.Empty(t, active)
}
