/*
ledger.go - Append-only point ledger operations

PURPOSE:
  The ledger is the source of truth for every point-earning and
  point-spending event. Each operation reads the current balances,
  validates against them, and writes the new entry plus updated totals
  as one atomic, serialized-per-account unit.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never edited or deleted. The only in-place
     change ever made is the IsReversed flag, paired with a compensating
     refund entry in the same atomic step.
  2. CHAIN: For one account ordered by creation time,
     entry[n+1].BalanceBefore == entry[n].BalanceAfter. No gaps, no
     overlaps, even under concurrent callers.
  3. NON-NEGATIVE: AvailablePoints never goes below zero at any point in
     an account's history.
  4. NO PARTIAL STATE: An operation either fully commits or leaves the
     ledger and balances byte-for-byte unchanged.

CORRECTIONS:
  Mistakes are never edited away. ReverseTransaction flags the original
  and appends a refund entry with the opposite sign; both remain in the
  ledger and the net effect is the correction.

EXAMPLE FLOW:
  1. Purchase earns 100:   earned_purchase +100   (balance 0 -> 100)
  2. Coupon spends 30:     redeemed_coupon -30    (balance 100 -> 70)
  3. Purchase refunded:    refund -100, original flagged reversed

SEE ALSO:
  - store.go: Atomicity contract pushed onto the store
  - rank.go: Recomputed synchronously whenever TotalPoints changes
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// EarnOptions carries the optional attributes of an earn.
type EarnOptions struct {
	// Multiplier records the promotion multiplier in effect. Informational:
	// the credited amount is always the amount passed in. Zero means 1.
	Multiplier decimal.Decimal

	// ExpiresAt marks the earned points for expiry flagging. Expiry never
	// deducts points; see ExpiringSoon.
	ExpiresAt *time.Time
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// CreateAccount creates a zero-balance account for a member joining a
// business.
func (e *Engine) CreateAccount(ctx context.Context, id, businessID, memberID string) (*Account, error) {
	a := Account{
		ID:         id,
		BusinessID: businessID,
		MemberID:   memberID,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"account":  id,
		"business": businessID,
	}).Info("account created")
	return &a, nil
}

// GetBalance returns the account's materialized balances.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Available: a.AvailablePoints,
		Total:     a.TotalPoints,
		Lifetime:  a.LifetimePoints,
	}, nil
}

// =============================================================================
// EARN
// =============================================================================

// CreateEarnedTransaction appends a positive entry and credits all three
// running totals. Rank is recomputed synchronously before returning.
func (e *Engine) CreateEarnedTransaction(ctx context.Context, accountID string, amount int64, kind EntryKind, description string, ref Reference, opts EarnOptions) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrZeroOrNegativeAmount
	}
	if !kind.IsEarn() {
		return nil, fmt.Errorf("%w: %s is not an earn kind", ErrInvalidKind, kind)
	}

	multiplier := opts.Multiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}

	var entry *LedgerEntry
	err := e.locks.withAccount(accountID, func() error {
		return e.withRetry(func() error {
			a, err := e.store.GetAccount(ctx, accountID)
			if err != nil {
				return err
			}

			en := LedgerEntry{
				ID:            newEntryID(),
				AccountID:     accountID,
				Kind:          kind,
				Amount:        amount,
				Description:   description,
				Reference:     ref,
				BalanceBefore: a.AvailablePoints,
				BalanceAfter:  a.AvailablePoints + amount,
				Multiplier:    multiplier,
				ExpiresAt:     opts.ExpiresAt,
				CreatedAt:     e.now(),
			}

			a.AvailablePoints += amount
			a.TotalPoints += amount
			a.LifetimePoints += amount

			if err := e.store.AppendEntry(ctx, en, *a); err != nil {
				return err
			}

			entry = &en
			// TotalPoints moved: refresh rank as an explicit step.
			if _, err := e.recomputeRankLocked(ctx, a); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"account": accountID,
		"entry":   entry.ID,
		"kind":    kind,
		"amount":  amount,
	}).Info("points earned")
	return entry, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// CreateRedeemedTransaction appends a negative entry spending available
// points. Rejects with InsufficientBalanceError when amount exceeds the
// available balance; nothing is written in that case.
func (e *Engine) CreateRedeemedTransaction(ctx context.Context, accountID string, amount int64, kind EntryKind, description string, ref Reference) (*LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrZeroOrNegativeAmount
	}
	if !kind.IsRedeem() {
		return nil, fmt.Errorf("%w: %s is not a redemption kind", ErrInvalidKind, kind)
	}

	var entry *LedgerEntry
	err := e.locks.withAccount(accountID, func() error {
		return e.appendRedeemedLocked(ctx, accountID, amount, kind, description, ref, &entry)
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"account": accountID,
		"entry":   entry.ID,
		"kind":    kind,
		"amount":  amount,
	}).Info("points redeemed")
	return entry, nil
}

// appendRedeemedLocked is the redemption body. Callers must hold the
// account lock; RedeemReward reuses it so that eligibility check and
// append share one critical section.
func (e *Engine) appendRedeemedLocked(ctx context.Context, accountID string, amount int64, kind EntryKind, description string, ref Reference, out **LedgerEntry) error {
	return e.withRetry(func() error {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		// Re-validated at append time, under the lock. This is what makes
		// double-submit redemptions resolve to one success and one
		// InsufficientBalance.
		if amount > a.AvailablePoints {
			return &InsufficientBalanceError{
				AccountID: accountID,
				Available: a.AvailablePoints,
				Requested: amount,
			}
		}

		en := LedgerEntry{
			ID:            newEntryID(),
			AccountID:     accountID,
			Kind:          kind,
			Amount:        -amount,
			Description:   description,
			Reference:     ref,
			BalanceBefore: a.AvailablePoints,
			BalanceAfter:  a.AvailablePoints - amount,
			Multiplier:    decimal.NewFromInt(1),
			CreatedAt:     e.now(),
		}

		a.AvailablePoints -= amount
		a.TotalPoints -= amount
		// LifetimePoints counts earns only; spending never lowers it.

		if err := e.store.AppendEntry(ctx, en, *a); err != nil {
			return err
		}

		*out = &en
		if _, err := e.recomputeRankLocked(ctx, a); err != nil {
			return err
		}
		return nil
	})
}

// =============================================================================
// REVERSE
// =============================================================================

// ReverseTransaction cancels a prior entry without deleting it: the
// original is flagged IsReversed and a compensating refund entry with the
// opposite sign is appended, restoring the balances the original moved.
//
// Reversing an earn whose points were already spent would drive
// AvailablePoints negative; that reversal is rejected with
// InsufficientBalanceError to keep the non-negative invariant.
func (e *Engine) ReverseTransaction(ctx context.Context, entryID, reason string) (*LedgerEntry, error) {
	orig, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var comp *LedgerEntry
	err = e.locks.withAccount(orig.AccountID, func() error {
		return e.withRetry(func() error {
			// Re-read under the lock: a concurrent reversal may have won.
			o, err := e.store.GetEntry(ctx, entryID)
			if err != nil {
				return err
			}
			if o.IsReversed {
				return &AlreadyReversedError{EntryID: o.ID, Reason: o.ReversalReason}
			}

			a, err := e.store.GetAccount(ctx, o.AccountID)
			if err != nil {
				return err
			}

			if o.Amount > 0 && a.AvailablePoints < o.Amount {
				return &InsufficientBalanceError{
					AccountID: a.ID,
					Available: a.AvailablePoints,
					Requested: o.Amount,
				}
			}

			en := LedgerEntry{
				ID:            newEntryID(),
				AccountID:     o.AccountID,
				Kind:          KindRefund,
				Amount:        -o.Amount,
				Description:   fmt.Sprintf("reversal of %s: %s", o.ID, reason),
				Reference:     Reference{ID: o.ID, Type: "reversal"},
				BalanceBefore: a.AvailablePoints,
				BalanceAfter:  a.AvailablePoints - o.Amount,
				Multiplier:    decimal.NewFromInt(1),
				CreatedAt:     e.now(),
			}

			a.AvailablePoints -= o.Amount
			a.TotalPoints -= o.Amount
			// LifetimePoints stays: it is monotonically non-decreasing even
			// when an earn is reversed.

			if err := e.store.ReverseEntry(ctx, o.ID, reason, en, *a); err != nil {
				return err
			}

			comp = &en
			if _, err := e.recomputeRankLocked(ctx, a); err != nil {
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"account":  comp.AccountID,
		"original": entryID,
		"entry":    comp.ID,
		"reason":   reason,
	}).Info("entry reversed")
	return comp, nil
}

// =============================================================================
// HISTORY & EXPIRY FLAGGING
// =============================================================================

// GetHistory returns a page of the account's ledger, newest first.
func (e *Engine) GetHistory(ctx context.Context, accountID string, f HistoryFilter) (HistoryPage, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return HistoryPage{}, err
	}
	return e.store.History(ctx, accountID, f.Normalize())
}

// ExpiringSoon returns non-reversed earn entries whose points expire within
// the window. Display flagging only: expired points are never deducted from
// the balance by the core.
func (e *Engine) ExpiringSoon(ctx context.Context, accountID string, within time.Duration) ([]LedgerEntry, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	now := e.now()
	return e.store.ExpiringEntries(ctx, accountID, now, now.Add(within))
}

// =============================================================================
// RETRY
// =============================================================================

// withRetry re-runs fn on store version conflicts. The per-account lock
// makes conflicts impossible within one process; this covers multiple
// engines sharing a database.
func (e *Engine) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		err = fn()
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		e.log.WithField("attempt", attempt+1).Warn("version conflict, retrying")
	}
	return err
}
