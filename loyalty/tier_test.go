package loyalty_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func seedTierLadder(t *testing.T, mem *store.Memory) {
	t.Helper()
	ctx := context.Background()
	for _, tier := range []loyalty.Tier{
		{ID: "member", BusinessID: "biz-1", Name: "Member", PointsRequired: 0},
		{ID: "regular", BusinessID: "biz-1", Name: "Regular", PointsRequired: 200},
		{ID: "vip", BusinessID: "biz-1", Name: "VIP", PointsRequired: 1000},
	} {
		require.NoError(t, mem.SaveTier(ctx, tier))
	}
}

// =============================================================================
// TIER POINT TESTS
// =============================================================================

func TestAddTierPoints_IndependentOfLedger(t *testing.T) {
	// GIVEN: An account with ledger points
	// WHEN: Crediting tier points
	// THEN: The tier counter moves while the ledger balances do not, and
	//       vice versa

	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")
	ctx := context.Background()

	earn(t, engine, "acct-1", 500)

	result, err := engine.AddTierPoints(ctx, "acct-1", 50, "store visit")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.OldTierPoints)
	assert.Equal(t, int64(50), result.NewTierPoints)

	state, err := engine.GetTierState(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), state.TierPoints)
	assert.Equal(t, int64(50), state.LifetimeTierPoints)

	b, _ := engine.GetBalance(ctx, "acct-1")
	assert.Equal(t, int64(500), b.Available, "ledger untouched by tier points")
}

func TestAddTierPoints_ZeroOrNegativeRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	newTestAccount(t, engine, "acct-1")

	_, err := engine.AddTierPoints(context.Background(), "acct-1", 0, "")
	assert.ErrorIs(t, err, loyalty.ErrZeroOrNegativeAmount)

	_, err = engine.AddTierPoints(context.Background(), "acct-1", -10, "")
	assert.ErrorIs(t, err, loyalty.ErrZeroOrNegativeAmount)
}

func TestAddTierPoints_UnknownAccount(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.AddTierPoints(context.Background(), "nope", 10, "")
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

// =============================================================================
// TIER UPGRADE & HISTORY TESTS
// =============================================================================

func TestTier_UpgradeAppendsAchievement(t *testing.T) {
	// GIVEN: The Member/Regular/VIP ladder
	// WHEN: Tier points cross the Regular threshold
	// THEN: The upgrade is reported and an achievement record is appended

	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")
	ctx := context.Background()

	result, err := engine.AddTierPoints(ctx, "acct-1", 250, "campaign")
	require.NoError(t, err)
	assert.True(t, result.TierUpgraded)
	require.NotNil(t, result.NewTier)
	assert.Equal(t, "regular", result.NewTier.ID)

	state, _ := engine.GetTierState(ctx, "acct-1")
	assert.Equal(t, "regular", state.CurrentTierID)
	// One jump lands directly on the highest qualifying tier.
	require.Len(t, state.History, 1)
	assert.Equal(t, "regular", state.History[0].TierID)
	assert.Empty(t, state.History[0].PreviousTierID)
	assert.Equal(t, int64(250), state.History[0].PointsAtAchievement)
}

func TestTier_FirstCreditLandsOnBaseTier(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")

	result, err := engine.AddTierPoints(context.Background(), "acct-1", 10, "visit")
	require.NoError(t, err)
	assert.True(t, result.TierUpgraded)
	assert.Equal(t, "member", result.NewTier.ID)
}

func TestTier_HistoryAccumulatesAcrossUpgrades(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")
	ctx := context.Background()

	_, err := engine.AddTierPoints(ctx, "acct-1", 300, "first")
	require.NoError(t, err)
	_, err = engine.AddTierPoints(ctx, "acct-1", 800, "second")
	require.NoError(t, err)

	state, _ := engine.GetTierState(ctx, "acct-1")
	assert.Equal(t, "vip", state.CurrentTierID)
	require.Len(t, state.History, 2)
	assert.Equal(t, "regular", state.History[0].TierID)
	assert.Equal(t, "vip", state.History[1].TierID)
	assert.Equal(t, "regular", state.History[1].PreviousTierID)
}

func TestTier_NoUpgradeBelowThreshold(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")
	ctx := context.Background()

	_, err := engine.AddTierPoints(ctx, "acct-1", 50, "visit")
	require.NoError(t, err)

	// Second credit stays inside the same tier: no new history record.
	result, err := engine.AddTierPoints(ctx, "acct-1", 50, "visit")
	require.NoError(t, err)
	assert.False(t, result.TierUpgraded)

	state, _ := engine.GetTierState(ctx, "acct-1")
	require.Len(t, state.History, 1)
}

// =============================================================================
// TIER PROGRESS TESTS
// =============================================================================

func TestTierProgress_MidLadder(t *testing.T) {
	// GIVEN: 600 tier points on the Member(0)/Regular(200)/VIP(1000) ladder
	// WHEN: Asking for progress
	// THEN: Progress is 50% of the 200->1000 gap with 400 points to go

	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")
	ctx := context.Background()

	_, err := engine.AddTierPoints(ctx, "acct-1", 600, "")
	require.NoError(t, err)

	p, err := engine.GetTierProgress(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, p.IsMaxTier)
	assert.Equal(t, "50", p.Progress.String())
	assert.Equal(t, int64(400), p.PointsNeeded)
	require.NotNil(t, p.NextTier)
	assert.Equal(t, "vip", p.NextTier.ID)
}

func TestTierProgress_FreshAccount(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")

	p, err := engine.GetTierProgress(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.False(t, p.IsMaxTier)
	// Zero points against the zero-threshold base tier: 0% toward Member...
	// which has threshold 0, so the next rung above 0 points is Regular.
	assert.Equal(t, "regular", p.NextTier.ID)
	assert.Equal(t, int64(200), p.PointsNeeded)
}

func TestTierProgress_AtMaxTier(t *testing.T) {
	engine, mem := newTestEngine(t)
	seedTierLadder(t, mem)
	newTestAccount(t, engine, "acct-1")
	ctx := context.Background()

	_, err := engine.AddTierPoints(ctx, "acct-1", 1200, "")
	require.NoError(t, err)

	p, err := engine.GetTierProgress(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, p.IsMaxTier)
	assert.Equal(t, "100", p.Progress.String())
	assert.Nil(t, p.NextTier)
	assert.Zero(t, p.PointsNeeded)
}

func TestTierProgress_NoLadder(t *testing.T) {
	engine, _ := newTestEngine(t)
	newTestAccount(t, engine, "acct-1")

	p, err := engine.GetTierProgress(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.True(t, p.IsMaxTier, "an empty ladder has nothing to progress toward")
}
