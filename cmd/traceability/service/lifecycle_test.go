package service

import (
	"context"
	"testing"
	"time"

	"github.com/duna/traceability/cmd/traceability/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLots(store *fakeStore) *LotService {
	return NewLotService(store, nil, testLogger())
}

func makeLot(t *testing.T, svc *LotService, lotType models.LotType, seq int) *models.Lot {
	t.Helper()
	lot, err := svc.CreateLot(context.Background(), CreateLotParams{
		LotCode:  models.FormatLotCode(lotType, time.Now(), seq),
		LotType:  lotType,
		WeightKG: 100,
	})
	require.NoError(t, err)
	return lot
}

func TestCreateLot_Validation(t *testing.T) {
	svc := newLots(newFakeStore())
	ctx := context.Background()

	_, err := svc.CreateLot(ctx, CreateLotParams{
		LotCode:  "RAW-20260824-001",
		LotType:  models.LotRaw,
		WeightKG: 0,
	})
	require.Error(t, err)

	_, err = svc.CreateLot(ctx, CreateLotParams{
		LotCode:  "not a lot code",
		LotType:  models.LotRaw,
		WeightKG: 10,
	})
	require.Error(t, err)

	lot, err := svc.CreateLot(ctx, CreateLotParams{
		LotCode:  "RAW-20260824-001",
		LotType:  models.LotRaw,
		WeightKG: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, models.LotCreated, lot.Status)
}

func TestTransition_FollowsTable(t *testing.T) {
	store := newFakeStore()
	svc := newLots(store)
	ctx := context.Background()

	lot := makeLot(t, svc, models.LotRaw, 1)

	lot, err := svc.Transition(ctx, lot.ID, models.LotQuarantine)
	require.NoError(t, err)
	assert.Equal(t, models.LotQuarantine, lot.Status)

	lot, err = svc.Transition(ctx, lot.ID, models.LotReleased)
	require.NoError(t, err)
	assert.Equal(t, models.LotReleased, lot.Status)

	// RELEASED -> QUARANTINE is not in the table.
	_, err = svc.Transition(ctx, lot.ID, models.LotQuarantine)
	var illegal *models.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.LotReleased, illegal.From)

	// State unchanged after the refused transition.
	got, err := svc.Get(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LotReleased, got.Status)
}

func TestTransition_TerminalStatesAreFinal(t *testing.T) {
	store := newFakeStore()
	svc := newLots(store)
	ctx := context.Background()

	lot := makeLot(t, svc, models.LotRaw, 1)
	_, err := svc.Transition(ctx, lot.ID, models.LotQuarantine)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, lot.ID, models.LotRejected)
	require.NoError(t, err)

	for _, to := range []models.LotStatus{models.LotReleased, models.LotHold, models.LotCreated} {
		_, err = svc.Transition(ctx, lot.ID, to)
		var illegal *models.IllegalTransitionError
		require.ErrorAs(t, err, &illegal, "REJECTED -> %s", to)
	}
}

func TestLinkGenealogy_SelfLinkRejected(t *testing.T) {
	store := newFakeStore()
	svc := newLots(store)
	ctx := context.Background()

	lot := makeLot(t, svc, models.LotMix, 1)

	_, err := svc.LinkGenealogy(ctx, []uuid.UUID{lot.ID}, lot.ID, []float64{10}, "evt-1")
	var cycle *models.CycleDetectedError
	require.ErrorAs(t, err, &cycle)
}

func TestLinkGenealogy_CycleRejected(t *testing.T) {
	store := newFakeStore()
	svc := newLots(store)
	ctx := context.Background()

	raw := makeLot(t, svc, models.LotRaw, 1)
	mix := makeLot(t, svc, models.LotMix, 1)

	_, err := svc.LinkGenealogy(ctx, []uuid.UUID{raw.ID}, mix.ID, []float64{50}, "evt-1")
	require.NoError(t, err)

	// mix is downstream of raw; making it raw's parent closes a cycle.
	_, err = svc.LinkGenealogy(ctx, []uuid.UUID{mix.ID}, raw.ID, []float64{10}, "evt-2")
	var cycle *models.CycleDetectedError
	require.ErrorAs(t, err, &cycle)
}

func TestLinkGenealogy_QuantityMismatch(t *testing.T) {
	store := newFakeStore()
	svc := newLots(store)
	ctx := context.Background()

	raw := makeLot(t, svc, models.LotRaw, 1)
	mix := makeLot(t, svc, models.LotMix, 1)

	_, err := svc.LinkGenealogy(ctx, []uuid.UUID{raw.ID}, mix.ID, []float64{10, 20}, "evt-1")
	require.Error(t, err)

	_, err = svc.LinkGenealogy(ctx, nil, mix.ID, nil, "evt-1")
	require.Error(t, err)
}

func TestLinkGenealogy_MultipleParents(t *testing.T) {
	store := newFakeStore()
	svc := newLots(store)
	trace := NewTraceService(store, nil, 0, 10, testLogger())
	ctx := context.Background()

	rawA := makeLot(t, svc, models.LotRaw, 1)
	rawB := makeLot(t, svc, models.LotRaw, 2)
	mix := makeLot(t, svc, models.LotMix, 1)

	edges, err := svc.LinkGenealogy(ctx, []uuid.UUID{rawA.ID, rawB.ID}, mix.ID, []float64{60, 40}, "mix-evt")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, 60.0, edges[0].QuantityUsedKG)

	// Backward from the mix finds both raw parents one level up.
	back, err := trace.TraceBackward(ctx, mix.ID, 5)
	require.NoError(t, err)
	assert.Len(t, back.Nodes, 3)
	assert.Len(t, back.Edges, 2)

	parents := map[uuid.UUID]int{}
	for _, n := range back.Nodes {
		parents[n.Lot.ID] = n.Depth
	}
	assert.Equal(t, 0, parents[mix.ID])
	assert.Equal(t, 1, parents[rawA.ID])
	assert.Equal(t, 1, parents[rawB.ID])

	// Forward from one raw lot reaches the mix.
	fwd, err := trace.TraceForward(ctx, rawA.ID, 5)
	require.NoError(t, err)
	assert.Len(t, fwd.Nodes, 2)
	assert.Len(t, fwd.Edges, 1)
}
