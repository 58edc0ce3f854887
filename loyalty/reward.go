/*
reward.go - Reward redemption eligibility

PURPOSE:
  Decides whether an account may redeem a catalog reward. The decision
  itself is a pure predicate over five independent conditions; failing any
  one yields false with a reason and no side effects. The actual spend is
  a ledger redemption performed only after the check passes - and both
  steps share the account lock, so the balance cannot change in between.

THE FIVE CONDITIONS:
  1. Reward is active and inside its [ValidFrom, ValidUntil] window
  2. Global redemption count is under MaxRedemptions
  3. Account's rank level meets MinimumRankLevel (when set)
  4. Account's own redemptions of this reward are under MaxRedemptionsPerUser
  5. AvailablePoints >= PointsCost

  Ineligibility is a business outcome returned as (false, reason), never
  an error.

SEE ALSO:
  - ledger.go: appendRedeemedLocked re-validates the balance at append time
  - locks.go: Check-then-act pairs serialize on the account lock
*/
package loyalty

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Eligibility reasons returned by CanRedeem. These are display keys, not
// errors.
const (
	ReasonInactive        = "reward_inactive"
	ReasonOutsideWindow   = "outside_validity_window"
	ReasonGlobalCap       = "max_redemptions_reached"
	ReasonRankTooLow      = "rank_below_minimum"
	ReasonUserCap         = "per_user_limit_reached"
	ReasonNotEnoughPoints = "insufficient_points"
)

// CanRedeem is the pure eligibility predicate. rankLevel is the account's
// current rank level, or -1 when the account has no rank yet.
// globalRedemptions and userRedemptions count prior non-reversed
// redemptions of this reward.
func CanRedeem(account Account, reward Reward, now time.Time, rankLevel int, globalRedemptions, userRedemptions int) (bool, string) {
	if !reward.Active {
		return false, ReasonInactive
	}
	if reward.ValidFrom != nil && now.Before(*reward.ValidFrom) {
		return false, ReasonOutsideWindow
	}
	if reward.ValidUntil != nil && now.After(*reward.ValidUntil) {
		return false, ReasonOutsideWindow
	}
	if reward.MaxRedemptions > 0 && globalRedemptions >= reward.MaxRedemptions {
		return false, ReasonGlobalCap
	}
	if reward.MinimumRankLevel != nil && rankLevel < *reward.MinimumRankLevel {
		return false, ReasonRankTooLow
	}
	if reward.MaxRedemptionsPerUser > 0 && userRedemptions >= reward.MaxRedemptionsPerUser {
		return false, ReasonUserCap
	}
	if account.AvailablePoints < reward.PointsCost {
		return false, ReasonNotEnoughPoints
	}
	return true, ""
}

// CanRedeemReward loads the inputs and evaluates eligibility. Read-only.
func (e *Engine) CanRedeemReward(ctx context.Context, accountID, rewardID string) (bool, string, error) {
	ok, reason, _, err := e.checkEligibility(ctx, accountID, rewardID)
	return ok, reason, err
}

// RedeemReward performs the check-then-spend pair as one critical section
// under the account lock. Returns (entry, "", nil) on success and
// (nil, reason, nil) when ineligible.
func (e *Engine) RedeemReward(ctx context.Context, accountID, rewardID string) (*LedgerEntry, string, error) {
	var entry *LedgerEntry
	var reason string
	err := e.locks.withAccount(accountID, func() error {
		ok, r, reward, err := e.checkEligibility(ctx, accountID, rewardID)
		if err != nil {
			return err
		}
		if !ok {
			reason = r
			return nil
		}
		return e.appendRedeemedLocked(ctx, accountID, reward.PointsCost,
			KindRedeemedReward, reward.Name,
			Reference{ID: reward.ID, Type: "reward"}, &entry)
	})
	if err != nil {
		return nil, "", err
	}
	if entry == nil {
		return nil, reason, nil
	}

	e.log.WithFields(logrus.Fields{
		"account": accountID,
		"reward":  rewardID,
		"cost":    entry.Amount,
	}).Info("reward redeemed")
	return entry, "", nil
}

// checkEligibility gathers account, reward, rank, and redemption counts and
// runs the predicate.
func (e *Engine) checkEligibility(ctx context.Context, accountID, rewardID string) (bool, string, *Reward, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, "", nil, err
	}
	reward, err := e.store.GetReward(ctx, rewardID)
	if err != nil {
		return false, "", nil, err
	}

	rankLevel := -1
	if a.CurrentRankID != "" {
		rank, err := e.store.GetRank(ctx, a.CurrentRankID)
		if err != nil {
			return false, "", nil, err
		}
		if rank != nil {
			rankLevel = rank.Level
		}
	}

	global, err := e.store.CountRewardRedemptions(ctx, rewardID)
	if err != nil {
		return false, "", nil, err
	}
	mine, err := e.store.CountAccountRewardRedemptions(ctx, accountID, rewardID)
	if err != nil {
		return false, "", nil, err
	}

	ok, reason := CanRedeem(*a, *reward, e.now(), rankLevel, global, mine)
	return ok, reason, reward, nil
}
