/*
engine.go - Engine construction and shared plumbing

PURPOSE:
  The Engine is the explicit entry point for every core operation. It is
  constructed with its store and logger - no process-wide singleton, no
  implicit connection state. Derived-state updates (rank, tier) happen as
  visible steps inside the operations, not as save hooks.

DEPENDENCIES:
  Store:  ledger + account + catalog + tier persistence
  Logger: logrus, injected; a silent logger is used when nil

CONCURRENCY:
  The engine owns the per-account lock table. Store-level version checks
  back it up: if a write raced anyway (e.g. two engines over one database),
  the operation is retried a bounded number of times and then surfaced as
  ErrConcurrentModification.

SEE ALSO:
  - ledger.go, rank.go, tier.go, reward.go: Operations
  - locks.go: Per-account serialization
*/
package loyalty

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// maxWriteRetries bounds internal retries on version conflicts.
const maxWriteRetries = 3

// Engine executes ledger operations and keeps derived rank/tier state in
// step with the ledger.
type Engine struct {
	store Store
	log   *logrus.Logger
	locks *accountLocks

	// now is swappable for tests.
	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *logrus.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		locks: newAccountLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.New()
		e.log.SetOutput(io.Discard)
	}
	return e
}

// =============================================================================
// ID GENERATION
// =============================================================================

// idSeq disambiguates ids minted in the same nanosecond.
var idSeq atomic.Int64

func newEntryID() string {
	return fmt.Sprintf("entry-%d-%d", time.Now().UnixNano(), idSeq.Add(1))
}
