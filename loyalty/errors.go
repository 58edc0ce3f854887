/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (the HTTP layer, bulk jobs) classify with the helpers below.

ERROR CATEGORIES:
  1. Input errors - Bad amounts, missing accounts/entries/rewards
  2. Business outcomes - InsufficientBalance, AlreadyReversed; these are
     rejected requests, not faults, and are never retried by the core
  3. Store errors - ConcurrentModification, retried a bounded number of
     times internally before being surfaced

USAGE:
  if errors.Is(err, loyalty.ErrInsufficientBalance) {
      // surface as a rejected request; nothing was written
  }

SEE ALSO:
  - ledger.go: Returns these from append/reverse operations
  - store.go: Store implementations map driver errors onto these
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrZeroOrNegativeAmount is returned when an operation is submitted
	// with amount <= 0. Signs are owned by the engine, not the caller.
	ErrZeroOrNegativeAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance is returned when a redemption exceeds available
	// points. The ledger and balances are left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound is returned when the referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrEntryNotFound is returned when the referenced ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrAlreadyReversed is returned when reversing an entry twice.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrRewardNotFound is returned when the referenced reward doesn't exist.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrAccountExists is returned when creating an account that already exists.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidKind is returned when an entry kind doesn't match the
	// operation (e.g. a redemption kind passed to an earn).
	ErrInvalidKind = errors.New("entry kind not valid for operation")

	// ErrConcurrentModification is returned when optimistic locking detects a
	// conflict after internal retries are exhausted. The operation was never
	// partially applied; the caller may retry it whole.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError details a balance shortage on redemption.
type InsufficientBalanceError struct {
	AccountID string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: account %s has %d available, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// AlreadyReversedError details a double reversal attempt.
type AlreadyReversedError struct {
	EntryID string
	Reason  string // reason recorded on the first reversal
}

func (e *AlreadyReversedError) Error() string {
	return fmt.Sprintf("entry %s already reversed (%s)", e.EntryID, e.Reason)
}

func (e *AlreadyReversedError) Unwrap() error {
	return ErrAlreadyReversed
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a business outcome of invalid
// client input rather than a fault. The core never retries these.
func IsClientError(err error) bool {
	return errors.Is(err, ErrZeroOrNegativeAmount) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrAccountExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrRewardNotFound)
}
