/*
store.go - Persistence interfaces for the ledger and derived state

PURPOSE:
  Defines the interface between the engine and the database. The ledger
  tables are append-only: entries are inserted exactly once and the only
  in-place mutation ever performed is the reversal flag on an original
  entry, paired atomically with its compensating entry.

ATOMICITY CONTRACT:
  AppendEntry and ReverseEntry write the ledger entry AND the account's
  running totals in one atomic step. A reader must never observe an entry
  without its balance update, or the reverse. Both writes assert the
  account Version they were computed against and fail with
  ErrConcurrentModification when it moved.

APPEND-ONLY CONTRACT:
  - No Update() or Delete() on entries (IsReversed excepted)
  - Corrections are compensating refund entries

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (database/sql + go-sqlite3)
  - loyalty/store: In-memory, for tests and dev

SEE ALSO:
  - ledger.go: Engine operations built on these interfaces
  - store/sqlite/sqlite.go: Concrete implementation
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER STORE - Append-only entry persistence + balance projection
// =============================================================================

// LedgerStore persists ledger entries together with the account balances
// derived from them.
type LedgerStore interface {
	// AppendEntry writes entry and the updated account totals atomically.
	// The account carries the Version the engine read; the store must
	// reject the write with ErrConcurrentModification if it changed.
	AppendEntry(ctx context.Context, entry LedgerEntry, account Account) error

	// ReverseEntry atomically flags the original entry as reversed with
	// the given reason, appends the compensating entry, and writes the
	// restored account totals. Same Version contract as AppendEntry.
	ReverseEntry(ctx context.Context, originalID, reason string, comp LedgerEntry, account Account) error

	// GetEntry returns a single entry, or ErrEntryNotFound.
	GetEntry(ctx context.Context, id string) (*LedgerEntry, error)

	// History returns a page of entries for an account, newest first.
	// Restartable: no cursor state survives the call.
	History(ctx context.Context, accountID string, f HistoryFilter) (HistoryPage, error)

	// CountRewardRedemptions counts non-reversed redeemed_reward entries
	// referencing the reward, across all accounts.
	CountRewardRedemptions(ctx context.Context, rewardID string) (int, error)

	// CountAccountRewardRedemptions is the per-account variant.
	CountAccountRewardRedemptions(ctx context.Context, accountID, rewardID string) (int, error)

	// ExpiringEntries returns non-reversed earn entries for the account
	// whose ExpiresAt falls in (now, before]. Flagging only: expiry never
	// sweeps points off the balance.
	ExpiringEntries(ctx context.Context, accountID string, now, before time.Time) ([]LedgerEntry, error)
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

type AccountStore interface {
	// GetAccount returns the account, or ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// CreateAccount creates an account with zero balances.
	// Returns ErrAccountExists on duplicate id.
	CreateAccount(ctx context.Context, a Account) error

	// SetCurrentRank updates the account's rank pointer. Covered by the
	// engine's per-account lock; no version check needed.
	SetCurrentRank(ctx context.Context, accountID, rankID string) error
}

// =============================================================================
// CATALOG STORE - Read-mostly reference data
// =============================================================================

// CatalogStore reads rank/tier/reward definitions. The core never mutates
// catalog data; writes belong to configuration management.
type CatalogStore interface {
	// RanksByBusiness returns the business's ranks sorted ascending by
	// PointsRequired.
	RanksByBusiness(ctx context.Context, businessID string) ([]Rank, error)

	// GetRank returns a rank by id, or nil when missing.
	GetRank(ctx context.Context, id string) (*Rank, error)

	// TiersByBusiness returns the business's tiers sorted ascending by
	// PointsRequired.
	TiersByBusiness(ctx context.Context, businessID string) ([]Tier, error)

	// GetReward returns a reward by id, or ErrRewardNotFound.
	GetReward(ctx context.Context, id string) (*Reward, error)
}

// =============================================================================
// TIER STORE
// =============================================================================

type TierStore interface {
	// GetTierState returns the account's tier state. A fresh zero state is
	// returned for accounts that never earned tier points.
	GetTierState(ctx context.Context, accountID string) (*TierState, error)

	// SaveTierState persists counters and any newly appended history rows.
	// History is append-only: implementations must never rewrite existing
	// achievements.
	SaveTierState(ctx context.Context, state TierState) error
}

// =============================================================================
// COMPOSITE
// =============================================================================

// Store is the full persistence surface the engine needs.
type Store interface {
	LedgerStore
	AccountStore
	CatalogStore
	TierStore
}
