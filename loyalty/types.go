/*
Package loyalty provides the core points ledger and progression engine.

PURPOSE:
  This package contains the money-like accounting at the heart of the
  loyalty platform: an append-only ledger of every point-earning and
  point-spending event per account, the balance invariants it upholds
  under concurrent access, and the derived rank/tier state that is
  recomputed from it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: Per (member, business) balance holder with three running totals
  - LedgerEntry: An immutable record of one point-changing event
  - Rank: A business-defined ladder keyed on total points
  - TierState: An independent point-accumulation ladder with history
  - Reward: Catalog item read for eligibility decisions, never mutated here

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed
  2. Derivability: The three account balances are always exactly the sum
     of the account's ledger; readers consult the materialized totals
  3. Atomicity: Entry append and balance update are one step
  4. Explicitness: No global store, no hidden lifecycle hooks - every
     derived-state update is a visible call on the Engine

USAGE:
  engine := loyalty.NewEngine(deps)
  entry, err := engine.CreateEarnedTransaction(ctx, accountID, 100,
      loyalty.KindEarnedPurchase, "coffee order", ref, loyalty.EarnOptions{})

SEE ALSO:
  - ledger.go: Append/reverse/history operations
  - rank.go: Rank recomputation from total points
  - tier.go: Tier points and achievement history
  - reward.go: Redemption eligibility
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT - One per (member, business)
// =============================================================================

// Account holds the materialized view of an account's ledger.
//
// INVARIANTS:
//   - AvailablePoints >= 0 always
//   - LifetimePoints is monotonically non-decreasing
//   - All three totals are exactly derivable from the account's ledger
type Account struct {
	ID         string
	BusinessID string
	MemberID   string

	// Spendable right now.
	AvailablePoints int64

	// Lifetime earned minus lifetime redeemed. Drives rank.
	TotalPoints int64

	// Earned only. Never decreases, not even on reversal.
	LifetimePoints int64

	CurrentRankID string

	// Version backs optimistic concurrency at the store level.
	// Bumped on every balance write.
	Version int64

	CreatedAt time.Time
}

// Balance is the read model returned to callers.
type Balance struct {
	Available int64
	Total     int64
	Lifetime  int64
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one point-changing event
// =============================================================================

type EntryKind string

const (
	KindEarnedPurchase EntryKind = "earned_purchase"
	KindEarnedBonus    EntryKind = "earned_bonus"
	KindEarnedManual   EntryKind = "earned_manual"
	KindRedeemedCoupon EntryKind = "redeemed_coupon"
	KindRedeemedReward EntryKind = "redeemed_reward"
	KindRedeemedManual EntryKind = "redeemed_manual"
	KindRefund         EntryKind = "refund"
	KindTransferIn     EntryKind = "transfer_in"
	KindTransferOut    EntryKind = "transfer_out"
)

// IsEarn reports whether the kind adds to lifetime points.
func (k EntryKind) IsEarn() bool {
	switch k {
	case KindEarnedPurchase, KindEarnedBonus, KindEarnedManual, KindTransferIn:
		return true
	}
	return false
}

// IsRedeem reports whether the kind spends available points.
func (k EntryKind) IsRedeem() bool {
	switch k {
	case KindRedeemedCoupon, KindRedeemedReward, KindRedeemedManual, KindTransferOut:
		return true
	}
	return false
}

// Reference links a ledger entry to its originating event
// (purchase id, reward id, reversed entry id, ...).
type Reference struct {
	ID   string
	Type string
}

// LedgerEntry is an immutable ledger record.
//
// INVARIANTS:
//   - Amount is signed and never zero
//   - BalanceAfter == BalanceBefore + Amount
//   - Ordered by creation time, entry[n+1].BalanceBefore == entry[n].BalanceAfter
//     for the same account
//
// Entries are append-only. A reversal never deletes an entry: it sets
// IsReversed on the original and appends a compensating refund entry.
type LedgerEntry struct {
	ID          string
	AccountID   string
	Kind        EntryKind
	Amount      int64 // signed; positive for earns, negative for redemptions
	Description string
	Reference   Reference

	// Running available-points chain.
	BalanceBefore int64
	BalanceAfter  int64

	// Promotion multiplier recorded at earn time (informational;
	// the credited Amount is always authoritative).
	Multiplier decimal.Decimal

	ExpiresAt *time.Time

	IsReversed     bool
	ReversalReason string

	CreatedAt time.Time
}

// =============================================================================
// RANK - Business-defined ladder keyed on total points
// =============================================================================

// Rank is read-mostly reference data owned by catalog configuration.
// An account references at most one rank: the highest whose
// PointsRequired <= TotalPoints.
type Rank struct {
	ID             string
	BusinessID     string
	Name           string
	Level          int
	PointsRequired int64 // strictly increasing with Level per business
	Benefits       string
}

// =============================================================================
// TIER - Independent point-accumulation ladder
// =============================================================================

// Tier is a rung on the tier ladder. Tiers are driven by independently
// accumulated tier points, not by TotalPoints.
type Tier struct {
	ID             string
	BusinessID     string
	Name           string
	PointsRequired int64
}

// TierAchievement is one append-only history record of a tier change.
type TierAchievement struct {
	TierID              string
	PreviousTierID      string
	AchievedAt          time.Time
	PointsAtAchievement int64
}

// TierState tracks an account's position on the tier ladder.
type TierState struct {
	AccountID          string
	TierPoints         int64
	LifetimeTierPoints int64
	CurrentTierID      string
	History            []TierAchievement
}

// TierUpdateResult is returned by AddTierPoints.
type TierUpdateResult struct {
	OldTierPoints int64
	NewTierPoints int64
	TierUpgraded  bool
	NewTier       *Tier
}

// TierProgress describes how far an account is toward the next tier.
type TierProgress struct {
	IsMaxTier    bool
	Progress     decimal.Decimal // percent, clamped to [0, 100]
	PointsNeeded int64
	NextTier     *Tier
}

// =============================================================================
// REWARD - Catalog item, read-only to the core
// =============================================================================

type Reward struct {
	ID         string
	BusinessID string
	Name       string
	PointsCost int64
	Active     bool

	ValidFrom  *time.Time
	ValidUntil *time.Time

	// 0 means unlimited.
	MaxRedemptions        int
	MaxRedemptionsPerUser int

	// nil means no rank floor.
	MinimumRankLevel *int
}

// =============================================================================
// HISTORY - Restartable, filtered, descending by creation time
// =============================================================================

// HistoryFilter selects a page of ledger entries. Re-issuing the same
// filter re-executes the query; no server-side cursor state persists.
type HistoryFilter struct {
	Page     int // 1-based; 0 means first page
	PageSize int // 0 means DefaultPageSize
	Kind     EntryKind
	From     *time.Time
	To       *time.Time
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Normalize fills in paging defaults.
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// HistoryPage is one page of entries, newest first.
type HistoryPage struct {
	Entries  []LedgerEntry
	Page     int
	PageSize int
	Total    int
}
