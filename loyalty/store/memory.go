// Package store provides an in-memory loyalty.Store implementation
// (for testing/dev).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[string]*loyalty.Account
	entries  map[string]*loyalty.LedgerEntry
	byAcct   map[string][]string // account id -> entry ids, append order
	ranks    map[string][]loyalty.Rank
	tiers    map[string][]loyalty.Tier
	rewards  map[string]*loyalty.Reward
	states   map[string]*loyalty.TierState
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[string]*loyalty.Account),
		entries:  make(map[string]*loyalty.LedgerEntry),
		byAcct:   make(map[string][]string),
		ranks:    make(map[string][]loyalty.Rank),
		tiers:    make(map[string][]loyalty.Tier),
		rewards:  make(map[string]*loyalty.Reward),
		states:   make(map[string]*loyalty.TierState),
	}
}

var _ loyalty.Store = (*Memory)(nil)

// =============================================================================
// LEDGER STORE
// =============================================================================

// AppendEntry writes the entry and updated balances as one step under the
// store mutex. The incoming account carries the version the engine read;
// a mismatch with the stored row means a concurrent writer won.
func (m *Memory) AppendEntry(_ context.Context, entry loyalty.LedgerEntry, account loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(entry, account)
}

func (m *Memory) appendLocked(entry loyalty.LedgerEntry, account loyalty.Account) error {
	stored, ok := m.accounts[account.ID]
	if !ok {
		return loyalty.ErrAccountNotFound
	}
	if stored.Version != account.Version {
		return loyalty.ErrConcurrentModification
	}

	account.Version++
	e := entry
	m.entries[e.ID] = &e
	m.byAcct[account.ID] = append(m.byAcct[account.ID], e.ID)
	a := account
	m.accounts[account.ID] = &a
	return nil
}

func (m *Memory) ReverseEntry(_ context.Context, originalID, reason string, comp loyalty.LedgerEntry, account loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orig, ok := m.entries[originalID]
	if !ok {
		return loyalty.ErrEntryNotFound
	}
	if orig.IsReversed {
		return loyalty.ErrAlreadyReversed
	}
	if err := m.appendLocked(comp, account); err != nil {
		return err
	}
	orig.IsReversed = true
	orig.ReversalReason = reason
	return nil
}

func (m *Memory) GetEntry(_ context.Context, id string) (*loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, loyalty.ErrEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) History(_ context.Context, accountID string, f loyalty.HistoryFilter) (loyalty.HistoryPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f = f.Normalize()

	ids := m.byAcct[accountID]
	var matched []loyalty.LedgerEntry
	// Walk newest first: append order is creation order.
	for i := len(ids) - 1; i >= 0; i-- {
		e := m.entries[ids[i]]
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, *e)
	}

	page := loyalty.HistoryPage{Page: f.Page, PageSize: f.PageSize, Total: len(matched)}
	start := (f.Page - 1) * f.PageSize
	if start < len(matched) {
		end := start + f.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		page.Entries = matched[start:end]
	}
	return page, nil
}

func (m *Memory) CountRewardRedemptions(_ context.Context, rewardID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countRedemptions("", rewardID), nil
}

func (m *Memory) CountAccountRewardRedemptions(_ context.Context, accountID, rewardID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countRedemptions(accountID, rewardID), nil
}

func (m *Memory) countRedemptions(accountID, rewardID string) int {
	count := 0
	for _, e := range m.entries {
		if e.Kind != loyalty.KindRedeemedReward || e.IsReversed {
			continue
		}
		if e.Reference.Type != "reward" || e.Reference.ID != rewardID {
			continue
		}
		if accountID != "" && e.AccountID != accountID {
			continue
		}
		count++
	}
	return count
}

func (m *Memory) ExpiringEntries(_ context.Context, accountID string, now, before time.Time) ([]loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.LedgerEntry
	for _, id := range m.byAcct[accountID] {
		e := m.entries[id]
		if e.ExpiresAt == nil || e.IsReversed || !e.Kind.IsEarn() {
			continue
		}
		if e.ExpiresAt.After(now) && !e.ExpiresAt.After(before) {
			result = append(result, *e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(*result[j].ExpiresAt)
	})
	return result, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, id string) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, loyalty.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) CreateAccount(_ context.Context, a loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; ok {
		return loyalty.ErrAccountExists
	}
	cp := a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) SetCurrentRank(_ context.Context, accountID, rankID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return loyalty.ErrAccountNotFound
	}
	a.CurrentRankID = rankID
	return nil
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (m *Memory) RanksByBusiness(_ context.Context, businessID string) ([]loyalty.Rank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.Rank, len(m.ranks[businessID]))
	copy(result, m.ranks[businessID])
	return result, nil
}

func (m *Memory) GetRank(_ context.Context, id string) (*loyalty.Rank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ranks := range m.ranks {
		for _, r := range ranks {
			if r.ID == id {
				cp := r
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *Memory) TiersByBusiness(_ context.Context, businessID string) ([]loyalty.Tier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.Tier, len(m.tiers[businessID]))
	copy(result, m.tiers[businessID])
	return result, nil
}

func (m *Memory) GetReward(_ context.Context, id string) (*loyalty.Reward, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rewards[id]
	if !ok {
		return nil, loyalty.ErrRewardNotFound
	}
	cp := *r
	return &cp, nil
}

// SaveRank inserts a rank, keeping the business ladder sorted ascending by
// PointsRequired. Seeding helper; catalog writes belong to configuration
// management, not the engine.
func (m *Memory) SaveRank(_ context.Context, r loyalty.Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ranks := append(m.ranks[r.BusinessID], r)
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].PointsRequired != ranks[j].PointsRequired {
			return ranks[i].PointsRequired < ranks[j].PointsRequired
		}
		return ranks[i].Level < ranks[j].Level
	})
	m.ranks[r.BusinessID] = ranks
	return nil
}

// SaveTier inserts a tier, keeping the ladder sorted. Seeding helper.
func (m *Memory) SaveTier(_ context.Context, t loyalty.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tiers := append(m.tiers[t.BusinessID], t)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].PointsRequired < tiers[j].PointsRequired
	})
	m.tiers[t.BusinessID] = tiers
	return nil
}

// SaveReward upserts a reward. Seeding helper.
func (m *Memory) SaveReward(_ context.Context, r loyalty.Reward) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := r
	m.rewards[r.ID] = &cp
	return nil
}

// =============================================================================
// TIER STORE
// =============================================================================

func (m *Memory) GetTierState(_ context.Context, accountID string) (*loyalty.TierState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[accountID]
	if !ok {
		return &loyalty.TierState{AccountID: accountID}, nil
	}
	cp := *s
	cp.History = append([]loyalty.TierAchievement(nil), s.History...)
	return &cp, nil
}

func (m *Memory) SaveTierState(_ context.Context, state loyalty.TierState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := state
	cp.History = append([]loyalty.TierAchievement(nil), state.History...)
	m.states[state.AccountID] = &cp
	return nil
}
