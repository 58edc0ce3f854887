/*
tier.go - Tier points and achievement history

PURPOSE:
  Tiers are a second threshold ladder driven by their own point counter,
  accumulated independently of the ledger's TotalPoints. Campaigns and
  visits feed tier points; redemptions never touch them. Crossing a
  threshold appends an achievement record - history is append-only, like
  the ledger.

RESET SEMANTICS:
  TierPoints can be reset (seasonal programs) without losing
  LifetimeTierPoints or the achievement history. The reset itself is a
  catalog-management concern; the engine only reads and accumulates.

SEE ALSO:
  - rank.go: The ledger-driven ladder
  - store.go: TierStore contract (history never rewritten)
*/
package loyalty

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// AddTierPoints credits tier points and re-evaluates the tier ladder.
// Threshold crossings append to the achievement history.
func (e *Engine) AddTierPoints(ctx context.Context, accountID string, points int64, description string) (TierUpdateResult, error) {
	if points <= 0 {
		return TierUpdateResult{}, ErrZeroOrNegativeAmount
	}

	var result TierUpdateResult
	err := e.locks.withAccount(accountID, func() error {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		state, err := e.store.GetTierState(ctx, accountID)
		if err != nil {
			return err
		}

		result.OldTierPoints = state.TierPoints
		state.TierPoints += points
		state.LifetimeTierPoints += points
		result.NewTierPoints = state.TierPoints

		newTier, err := e.checkAndUpdateTier(ctx, a.BusinessID, state)
		if err != nil {
			return err
		}
		if newTier != nil {
			result.TierUpgraded = true
			result.NewTier = newTier
		}

		return e.store.SaveTierState(ctx, *state)
	})
	if err != nil {
		return TierUpdateResult{}, err
	}

	e.log.WithFields(logrus.Fields{
		"account":     accountID,
		"points":      points,
		"description": description,
		"upgraded":    result.TierUpgraded,
	}).Info("tier points added")
	return result, nil
}

// checkAndUpdateTier finds the highest tier whose threshold is covered by
// the current TierPoints. On change it appends an achievement record and
// moves the pointer. Mutates state in place; the caller persists it.
func (e *Engine) checkAndUpdateTier(ctx context.Context, businessID string, state *TierState) (*Tier, error) {
	tiers, err := e.store.TiersByBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}

	var target *Tier
	for i := range tiers {
		if tiers[i].PointsRequired > state.TierPoints {
			break
		}
		target = &tiers[i]
	}
	if target == nil || target.ID == state.CurrentTierID {
		return nil, nil
	}

	state.History = append(state.History, TierAchievement{
		TierID:              target.ID,
		PreviousTierID:      state.CurrentTierID,
		AchievedAt:          e.now(),
		PointsAtAchievement: state.TierPoints,
	})
	state.CurrentTierID = target.ID
	return target, nil
}

// GetTierState returns the account's tier counters and achievement history.
func (e *Engine) GetTierState(ctx context.Context, accountID string) (*TierState, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.GetTierState(ctx, accountID)
}

// GetTierProgress reports progress toward the next tier as a percentage of
// the gap between the current and next thresholds, clamped to [0, 100].
// At the top of the ladder IsMaxTier is true and progress is 100.
func (e *Engine) GetTierProgress(ctx context.Context, accountID string) (TierProgress, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return TierProgress{}, err
	}
	state, err := e.store.GetTierState(ctx, accountID)
	if err != nil {
		return TierProgress{}, err
	}
	tiers, err := e.store.TiersByBusiness(ctx, a.BusinessID)
	if err != nil {
		return TierProgress{}, err
	}

	// Current threshold is 0 until the first tier is reached.
	var currentThreshold int64
	var next *Tier
	for i := range tiers {
		if tiers[i].PointsRequired <= state.TierPoints {
			currentThreshold = tiers[i].PointsRequired
			continue
		}
		next = &tiers[i]
		break
	}

	if next == nil {
		return TierProgress{IsMaxTier: true, Progress: hundred}, nil
	}

	span := decimal.NewFromInt(next.PointsRequired - currentThreshold)
	into := decimal.NewFromInt(state.TierPoints - currentThreshold)
	progress := into.Div(span).Mul(hundred)
	if progress.IsNegative() {
		progress = decimal.Zero
	}
	if progress.GreaterThan(hundred) {
		progress = hundred
	}

	return TierProgress{
		Progress:     progress,
		PointsNeeded: next.PointsRequired - state.TierPoints,
		NextTier:     next,
	}, nil
}
