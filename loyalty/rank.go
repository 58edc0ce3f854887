/*
rank.go - Rank derivation from total points

PURPOSE:
  Derives an account's rank from its TotalPoints against the business's
  rank ladder. The rule is deliberately literal: current rank is always
  the highest rank whose PointsRequired <= TotalPoints. There is no floor
  protection - a point deduction can lower TotalPoints below the current
  rank's threshold, and the next recomputation downgrades the rank.

TIE-BREAK:
  PointsRequired is unique per business by configuration. If duplicates
  slip in anyway, the higher Level wins.

SEE ALSO:
  - ledger.go: Calls recomputeRankLocked after every TotalPoints change
  - tier.go: The parallel, independently-accumulated ladder
*/
package loyalty

import (
	"context"

	"github.com/sirupsen/logrus"
)

// GetCurrentRank returns the account's current rank, or nil when the
// account has no rank yet.
func (e *Engine) GetCurrentRank(ctx context.Context, accountID string) (*Rank, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.CurrentRankID == "" {
		return nil, nil
	}
	return e.store.GetRank(ctx, a.CurrentRankID)
}

// RecomputeRank re-derives the rank from current TotalPoints. Returns the
// new rank when it changed, nil when it didn't.
func (e *Engine) RecomputeRank(ctx context.Context, accountID string) (*Rank, error) {
	var changed *Rank
	err := e.locks.withAccount(accountID, func() error {
		a, err := e.store.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		changed, err = e.recomputeRankLocked(ctx, a)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// recomputeRankLocked finds the highest qualifying rank and updates the
// account pointer if it differs. Callers must hold the account lock.
func (e *Engine) recomputeRankLocked(ctx context.Context, a *Account) (*Rank, error) {
	ranks, err := e.store.RanksByBusiness(ctx, a.BusinessID)
	if err != nil {
		return nil, err
	}

	target := qualifyingRank(ranks, a.TotalPoints)
	if target == nil {
		// Below every threshold and no zero-threshold base rank.
		return nil, nil
	}
	if target.ID == a.CurrentRankID {
		return nil, nil
	}

	if err := e.store.SetCurrentRank(ctx, a.ID, target.ID); err != nil {
		return nil, err
	}
	a.CurrentRankID = target.ID

	e.log.WithFields(logrus.Fields{
		"account": a.ID,
		"rank":    target.Name,
		"total":   a.TotalPoints,
	}).Info("rank updated")
	return target, nil
}

// qualifyingRank picks the highest rank with PointsRequired <= total.
// Ranks are sorted ascending by PointsRequired; on equal thresholds the
// higher Level wins.
func qualifyingRank(ranks []Rank, total int64) *Rank {
	var best *Rank
	for i := range ranks {
		r := &ranks[i]
		if r.PointsRequired > total {
			break
		}
		if best == nil || r.PointsRequired > best.PointsRequired || r.Level > best.Level {
			best = r
		}
	}
	return best
}
