package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createAccount(t *testing.T, store *sqlite.Store, id string) *loyalty.Account {
	t.Helper()
	ctx := context.Background()
	err := store.CreateAccount(ctx, loyalty.Account{
		ID:         id,
		BusinessID: "biz-1",
		MemberID:   "member-" + id,
		CreatedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	a, err := store.GetAccount(ctx, id)
	require.NoError(t, err)
	return a
}

func testEntry(accountID, entryID string, amount int64, at time.Time) loyalty.LedgerEntry {
	return loyalty.LedgerEntry{
		ID:         entryID,
		AccountID:  accountID,
		Kind:       loyalty.KindEarnedPurchase,
		Amount:     amount,
		Multiplier: decimal.NewFromInt(1),
		CreatedAt:  at,
	}
}

// appendEarn reads the account, applies an earn, and writes both through
// AppendEntry the way the engine does.
func appendEarn(t *testing.T, store *sqlite.Store, accountID, entryID string, amount int64, at time.Time) {
	t.Helper()
	ctx := context.Background()
	a, err := store.GetAccount(ctx, accountID)
	require.NoError(t, err)

	e := testEntry(accountID, entryID, amount, at)
	e.BalanceBefore = a.AvailablePoints
	e.BalanceAfter = a.AvailablePoints + amount

	a.AvailablePoints += amount
	a.TotalPoints += amount
	a.LifetimePoints += amount
	require.NoError(t, store.AppendEntry(ctx, e, *a))
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestStore_AccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	a := createAccount(t, store, "acct-1")

	assert.Equal(t, "acct-1", a.ID)
	assert.Equal(t, "biz-1", a.BusinessID)
	assert.Equal(t, int64(0), a.AvailablePoints)
	assert.Equal(t, int64(0), a.Version)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestStore_CreateAccount_Duplicate(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")

	err := store.CreateAccount(context.Background(), loyalty.Account{ID: "acct-1"})
	assert.ErrorIs(t, err, loyalty.ErrAccountExists)
}

func TestStore_GetAccount_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

func TestStore_SetCurrentRank(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	require.NoError(t, store.SetCurrentRank(ctx, "acct-1", "gold"))
	a, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "gold", a.CurrentRankID)

	err = store.SetCurrentRank(ctx, "nope", "gold")
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

// =============================================================================
// APPEND / VERSION TESTS
// =============================================================================

func TestStore_AppendEntry_BumpsVersion(t *testing.T) {
	// GIVEN: A fresh account at version 0
	// WHEN: Appending an entry with the read version
	// THEN: Balances land and the stored version is bumped

	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	appendEarn(t, store, "acct-1", "entry-1", 100, time.Now().UTC())

	a, err := store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.AvailablePoints)
	assert.Equal(t, int64(1), a.Version)
}

func TestStore_AppendEntry_StaleVersionRejected(t *testing.T) {
	// GIVEN: Two writers that both read version 0
	// WHEN: The second writes after the first committed
	// THEN: The stale write fails with ErrConcurrentModification and leaves
	//       no entry behind

	store := newTestStore(t)
	a := createAccount(t, store, "acct-1")
	ctx := context.Background()

	stale := *a // version 0 snapshot

	appendEarn(t, store, "acct-1", "entry-1", 100, time.Now().UTC())

	e := testEntry("acct-1", "entry-2", 50, time.Now().UTC())
	stale.AvailablePoints += 50
	err := store.AppendEntry(ctx, e, stale)
	assert.ErrorIs(t, err, loyalty.ErrConcurrentModification)

	_, err = store.GetEntry(ctx, "entry-2")
	assert.ErrorIs(t, err, loyalty.ErrEntryNotFound, "rejected append must not leave an entry")
}

func TestStore_AppendEntry_UnknownAccount(t *testing.T) {
	store := newTestStore(t)

	e := testEntry("ghost", "entry-1", 100, time.Now().UTC())
	err := store.AppendEntry(context.Background(), e, loyalty.Account{ID: "ghost"})
	assert.ErrorIs(t, err, loyalty.ErrAccountNotFound)
}

func TestStore_EntryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	a := createAccount(t, store, "acct-1")
	ctx := context.Background()

	expiry := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)
	e := loyalty.LedgerEntry{
		ID:            "entry-1",
		AccountID:     "acct-1",
		Kind:          loyalty.KindEarnedBonus,
		Amount:        150,
		Description:   "double points tuesday",
		Reference:     loyalty.Reference{ID: "promo-7", Type: "promotion"},
		BalanceBefore: 0,
		BalanceAfter:  150,
		Multiplier:    decimal.RequireFromString("2.5"),
		ExpiresAt:     &expiry,
		CreatedAt:     time.Now().UTC(),
	}
	a.AvailablePoints = 150
	a.TotalPoints = 150
	a.LifetimePoints = 150
	require.NoError(t, store.AppendEntry(ctx, e, *a))

	got, err := store.GetEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Equal(t, loyalty.KindEarnedBonus, got.Kind)
	assert.Equal(t, int64(150), got.Amount)
	assert.Equal(t, "double points tuesday", got.Description)
	assert.Equal(t, loyalty.Reference{ID: "promo-7", Type: "promotion"}, got.Reference)
	assert.True(t, got.Multiplier.Equal(decimal.RequireFromString("2.5")))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expiry))
	assert.False(t, got.IsReversed)
}

// =============================================================================
// REVERSE TESTS
// =============================================================================

func TestStore_ReverseEntry(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	appendEarn(t, store, "acct-1", "entry-1", 100, time.Now().UTC())
	a, _ := store.GetAccount(ctx, "acct-1")

	comp := testEntry("acct-1", "entry-2", -100, time.Now().UTC())
	comp.Kind = loyalty.KindRefund
	comp.BalanceBefore = 100
	comp.BalanceAfter = 0
	a.AvailablePoints = 0
	a.TotalPoints = 0
	require.NoError(t, store.ReverseEntry(ctx, "entry-1", "refund", comp, *a))

	orig, err := store.GetEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.True(t, orig.IsReversed)
	assert.Equal(t, "refund", orig.ReversalReason)

	// Second reversal of the same entry fails atomically.
	err = store.ReverseEntry(ctx, "entry-1", "again", comp, *a)
	assert.ErrorIs(t, err, loyalty.ErrAlreadyReversed)
}

func TestStore_ReverseEntry_Unknown(t *testing.T) {
	store := newTestStore(t)
	a := createAccount(t, store, "acct-1")

	comp := testEntry("acct-1", "entry-2", -100, time.Now().UTC())
	err := store.ReverseEntry(context.Background(), "ghost", "oops", comp, *a)
	assert.ErrorIs(t, err, loyalty.ErrEntryNotFound)
}

// =============================================================================
// HISTORY TESTS
// =============================================================================

func TestStore_History_NewestFirstWithPaging(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	base := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		appendEarn(t, store, "acct-1", "entry-"+string(rune('a'+i)), 10, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := store.History(ctx, "acct-1", loyalty.HistoryFilter{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "entry-e", page.Entries[0].ID)
	assert.Equal(t, "entry-d", page.Entries[1].ID)

	page3, err := store.History(ctx, "acct-1", loyalty.HistoryFilter{Page: 3, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page3.Entries, 1)
	assert.Equal(t, "entry-a", page3.Entries[0].ID)
}

func TestStore_History_SameTimestampOrderedByInsertion(t *testing.T) {
	// Entries created within the same nanosecond still come back in a
	// stable newest-first order via the rowid tie-break.

	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	at := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	appendEarn(t, store, "acct-1", "entry-1", 10, at)
	appendEarn(t, store, "acct-1", "entry-2", 10, at)

	page, err := store.History(ctx, "acct-1", loyalty.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "entry-2", page.Entries[0].ID)
	assert.Equal(t, "entry-1", page.Entries[1].ID)
}

func TestStore_History_KindAndTimeFilters(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	base := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	appendEarn(t, store, "acct-1", "early", 10, base)
	appendEarn(t, store, "acct-1", "late", 10, base.AddDate(0, 0, 10))

	from := base.AddDate(0, 0, 5)
	page, err := store.History(ctx, "acct-1", loyalty.HistoryFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "late", page.Entries[0].ID)

	page, err = store.History(ctx, "acct-1", loyalty.HistoryFilter{Kind: loyalty.KindRedeemedCoupon})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
	assert.Zero(t, page.Total)
}

// =============================================================================
// EXPIRY QUERY TESTS
// =============================================================================

func TestStore_ExpiringEntries_WindowAndOrder(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	write := func(id string, amount int64, expires time.Time) {
		a, err := store.GetAccount(ctx, "acct-1")
		require.NoError(t, err)
		e := testEntry("acct-1", id, amount, now)
		e.BalanceBefore = a.AvailablePoints
		e.BalanceAfter = a.AvailablePoints + amount
		e.ExpiresAt = &expires
		a.AvailablePoints += amount
		a.TotalPoints += amount
		a.LifetimePoints += amount
		require.NoError(t, store.AppendEntry(ctx, e, *a))
	}

	write("expired", 10, now.AddDate(0, 0, -1))  // already past: excluded
	write("in-window", 20, now.AddDate(0, 0, 20))
	write("sooner", 30, now.AddDate(0, 0, 5))
	write("beyond", 40, now.AddDate(0, 0, 60)) // outside window: excluded

	entries, err := store.ExpiringEntries(ctx, "acct-1", now, now.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sooner", entries[0].ID, "soonest expiry first")
	assert.Equal(t, "in-window", entries[1].ID)
}

// =============================================================================
// REDEMPTION COUNT TESTS
// =============================================================================

func TestStore_CountRewardRedemptions(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	createAccount(t, store, "acct-2")
	ctx := context.Background()

	redeemReward := func(accountID, entryID string, reversed bool) {
		a, err := store.GetAccount(ctx, accountID)
		require.NoError(t, err)
		e := loyalty.LedgerEntry{
			ID:            entryID,
			AccountID:     accountID,
			Kind:          loyalty.KindRedeemedReward,
			Amount:        -10,
			Reference:     loyalty.Reference{ID: "reward-1", Type: "reward"},
			BalanceBefore: a.AvailablePoints,
			BalanceAfter:  a.AvailablePoints - 10,
			Multiplier:    decimal.NewFromInt(1),
			IsReversed:    reversed,
			CreatedAt:     time.Now().UTC(),
		}
		a.AvailablePoints -= 10
		a.TotalPoints -= 10
		require.NoError(t, store.AppendEntry(ctx, e, *a))
	}

	appendEarn(t, store, "acct-1", "seed-1", 100, time.Now().UTC())
	appendEarn(t, store, "acct-2", "seed-2", 100, time.Now().UTC())

	redeemReward("acct-1", "r1", false)
	redeemReward("acct-1", "r2", true) // reversed: not counted
	redeemReward("acct-2", "r3", false)

	global, err := store.CountRewardRedemptions(ctx, "reward-1")
	require.NoError(t, err)
	assert.Equal(t, 2, global)

	mine, err := store.CountAccountRewardRedemptions(ctx, "acct-1", "reward-1")
	require.NoError(t, err)
	assert.Equal(t, 1, mine)
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestStore_RankLadderSortedAscending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Inserted out of order on purpose.
	require.NoError(t, store.SaveRank(ctx, loyalty.Rank{ID: "gold", BusinessID: "biz-1", Name: "Gold", Level: 3, PointsRequired: 1000}))
	require.NoError(t, store.SaveRank(ctx, loyalty.Rank{ID: "bronze", BusinessID: "biz-1", Name: "Bronze", Level: 1, PointsRequired: 0}))
	require.NoError(t, store.SaveRank(ctx, loyalty.Rank{ID: "silver", BusinessID: "biz-1", Name: "Silver", Level: 2, PointsRequired: 500}))

	ranks, err := store.RanksByBusiness(ctx, "biz-1")
	require.NoError(t, err)
	require.Len(t, ranks, 3)
	assert.Equal(t, "bronze", ranks[0].ID)
	assert.Equal(t, "silver", ranks[1].ID)
	assert.Equal(t, "gold", ranks[2].ID)

	other, err := store.RanksByBusiness(ctx, "biz-other")
	require.NoError(t, err)
	assert.Empty(t, other, "ladders are per business")
}

func TestStore_GetRank_MissingIsNil(t *testing.T) {
	store := newTestStore(t)

	r, err := store.GetRank(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestStore_RewardRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	from := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC)
	minRank := 2
	in := loyalty.Reward{
		ID:                    "reward-1",
		BusinessID:            "biz-1",
		Name:                  "Free Coffee",
		PointsCost:            500,
		Active:                true,
		ValidFrom:             &from,
		ValidUntil:            &until,
		MaxRedemptions:        100,
		MaxRedemptionsPerUser: 1,
		MinimumRankLevel:      &minRank,
	}
	require.NoError(t, store.SaveReward(ctx, in))

	got, err := store.GetReward(ctx, "reward-1")
	require.NoError(t, err)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.PointsCost, got.PointsCost)
	assert.True(t, got.ValidFrom.Equal(from))
	assert.True(t, got.ValidUntil.Equal(until))
	require.NotNil(t, got.MinimumRankLevel)
	assert.Equal(t, 2, *got.MinimumRankLevel)

	_, err = store.GetReward(ctx, "nope")
	assert.ErrorIs(t, err, loyalty.ErrRewardNotFound)
}

// =============================================================================
// TIER STATE TESTS
// =============================================================================

func TestStore_TierStatePersistsHistory(t *testing.T) {
	store := newTestStore(t)
	createAccount(t, store, "acct-1")
	ctx := context.Background()

	fresh, err := store.GetTierState(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", fresh.AccountID)
	assert.Zero(t, fresh.TierPoints)
	assert.Empty(t, fresh.History)

	at := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	state := loyalty.TierState{
		AccountID:          "acct-1",
		TierPoints:         250,
		LifetimeTierPoints: 250,
		CurrentTierID:      "regular",
		History: []loyalty.TierAchievement{
			{TierID: "regular", AchievedAt: at, PointsAtAchievement: 250},
		},
	}
	require.NoError(t, store.SaveTierState(ctx, state))

	// Append a second achievement; the first row must not be rewritten.
	state.TierPoints = 1100
	state.LifetimeTierPoints = 1100
	state.CurrentTierID = "vip"
	state.History = append(state.History, loyalty.TierAchievement{
		TierID: "vip", PreviousTierID: "regular",
		AchievedAt: at.AddDate(0, 1, 0), PointsAtAchievement: 1100,
	})
	require.NoError(t, store.SaveTierState(ctx, state))

	got, err := store.GetTierState(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), got.TierPoints)
	assert.Equal(t, "vip", got.CurrentTierID)
	require.Len(t, got.History, 2)
	assert.Equal(t, "regular", got.History[0].TierID)
	assert.Equal(t, "vip", got.History[1].TierID)
	assert.Equal(t, "regular", got.History[1].PreviousTierID)
}

// =============================================================================
// ENGINE-OVER-SQLITE TESTS
// =============================================================================

func TestEngine_EndToEndOnSQLite(t *testing.T) {
	// The full earn/redeem/reverse/rank cycle against the durable store;
	// the same behaviors the in-memory store is tested with elsewhere.

	store := newTestStore(t)
	engine := loyalty.NewEngine(store)
	ctx := context.Background()

	require.NoError(t, store.SaveRank(ctx, loyalty.Rank{ID: "bronze", BusinessID: "biz-1", Name: "Bronze", Level: 1, PointsRequired: 0}))
	require.NoError(t, store.SaveRank(ctx, loyalty.Rank{ID: "silver", BusinessID: "biz-1", Name: "Silver", Level: 2, PointsRequired: 500}))

	_, err := engine.CreateAccount(ctx, "acct-1", "biz-1", "member-1")
	require.NoError(t, err)

	earned, err := engine.CreateEarnedTransaction(ctx, "acct-1", 600,
		loyalty.KindEarnedPurchase, "big order", loyalty.Reference{ID: "order-1", Type: "purchase"},
		loyalty.EarnOptions{})
	require.NoError(t, err)

	rank, err := engine.GetCurrentRank(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, rank)
	assert.Equal(t, "silver", rank.ID)

	_, err = engine.CreateRedeemedTransaction(ctx, "acct-1", 200,
		loyalty.KindRedeemedCoupon, "coupon", loyalty.Reference{})
	require.NoError(t, err)

	rank, _ = engine.GetCurrentRank(ctx, "acct-1")
	assert.Equal(t, "bronze", rank.ID, "total fell below the silver threshold")

	_, err = engine.ReverseTransaction(ctx, earned.ID, "order refunded")
	assert.ErrorIs(t, err, loyalty.ErrInsufficientBalance, "200 of the earn already spent")

	b, err := engine.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, loyalty.Balance{Available: 400, Total: 400, Lifetime: 600}, b)

	page, err := engine.GetHistory(ctx, "acct-1", loyalty.HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
}
