package entities

import (
	"errors"
	"fmt"
)

var (
	// ErrRateUnavailable means no unexpired exchange rate exists for the
	// pair; the caller must request a fresh quote before proceeding.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrQuoteExpired means a stale swap estimate was accepted; the caller
	// must re-quote.
	ErrQuoteExpired = errors.New("quote expired")

	// ErrConcurrencyConflict means a competing state transition is in flight
	// for the same transaction; the caller retries.
	ErrConcurrencyConflict = errors.New("concurrent state transition in progress")

	// ErrUnsupportedPair means the currency/network combination is not offered.
	ErrUnsupportedPair = errors.New("unsupported currency pair")

	// ErrInvalidAmount rejects non-positive swap amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrSwapOrderNotFound     = errors.New("swap order not found")
	ErrPayoutAccountNotFound = errors.New("no active payout account")
)

// ValidationError rejects a request before any row is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError rejects a state-machine transition the ledger
// does not permit.
type InvalidTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// StepExecutionError wraps the failure of a workflow step's underlying
// action. It is retried up to a bound before escalating to a transaction
// failure.
type StepExecutionError struct {
	Step string
	Err  error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// RemoteSyncFailure marks a reconciliation push or pull that did not reach
// the management tier. The affected row stays unsynced and is retried by the
// next sweep; it is never surfaced as a transaction-level failure.
type RemoteSyncFailure struct {
	Endpoint string
	Err      error
}

func (e *RemoteSyncFailure) Error() string {
	return fmt.Sprintf("remote sync to %s failed: %v", e.Endpoint, e.Err)
}

func (e *RemoteSyncFailure) Unwrap() error { return e.Err }
