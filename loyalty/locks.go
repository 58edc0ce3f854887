/*
locks.go - Per-account serialization

PURPOSE:
  Every mutating ledger operation is a read-validate-write sequence over
  one account's balances. Those sequences must execute as one serialized
  unit per account: two concurrent redemptions against a balance that can
  satisfy only one must produce exactly one success.

SCOPE:
  The lock covers a single account. Operations on different accounts
  never contend. Check-then-act pairs (reward eligibility + redemption)
  take the same lock for their whole critical section.

SEE ALSO:
  - ledger.go: Lock acquisition around append/reverse
  - reward.go: RedeemReward holds the lock across check and append
*/
package loyalty

import "sync"

// accountLocks hands out one mutex per account id. Lock entries are never
// removed; the set of active accounts in one process is small relative to
// the cost of refcounting.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

// get returns the mutex for an account, creating it on first use.
func (a *accountLocks) get(accountID string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		a.locks[accountID] = l
	}
	return l
}

// withAccount runs fn while holding the account's lock.
func (a *accountLocks) withAccount(accountID string, fn func() error) error {
	l := a.get(accountID)
	l.Lock()
	defer l.Unlock()
	return fn()
}
