/*
errors.go - Centralized error types for the reconciliation core

ERROR CATEGORIES:
  1. Validation errors - Submission input rejected, nothing persisted
  2. Guard violations  - Transition attempted from the wrong state
  3. Ledger failures   - Derived entries could not be written; batch stays pending
  4. Not found         - Referenced batch or product is missing

PROPAGATION:
  Validation and guard errors are terminal and user-facing. Ledger write
  failures are transient: nothing was committed, so the whole confirm can be
  retried. Nothing here is swallowed.

USAGE:
  if errors.Is(err, production.ErrGuardViolation) {
      // "already processed"
  }
*/
package production

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when submission input is rejected.
	ErrValidation = errors.New("validation failed")

	// ErrGuardViolation is returned when a transition's source state does not hold.
	ErrGuardViolation = errors.New("batch already processed")

	// ErrLedgerWrite is returned when derived ledger entries could not be applied.
	ErrLedgerWrite = errors.New("ledger write failed")

	// ErrBatchNotFound is returned when a referenced batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrProductNotFound is returned when a catalog lookup misses.
	ErrProductNotFound = errors.New("product not found")

	// ErrStatusConflict is returned by a store when compare-and-set observes
	// a status other than the expected one.
	ErrStatusConflict = errors.New("batch status changed concurrently")

	// ErrDuplicateIdempotencyKey is returned when a ledger entry key already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrBatchBusy is returned when another reviewer holds the batch lock.
	ErrBatchBusy = errors.New("batch is being processed by another reviewer")

	// ErrNotSubmitter is returned when someone other than the submitter resubmits.
	ErrNotSubmitter = errors.New("only the original submitter may resubmit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// FieldProblem is one rejected input field.
type FieldProblem struct {
	Field string
	Rule  string
}

// ValidationError lists every problem found in a submission.
type ValidationError struct {
	Message  string
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + " " + p.Rule
	}
	return fmt.Sprintf("validation failed: %s (%s)", e.Message, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// GuardViolationError reports a transition whose source state did not hold.
// Concurrent is set when the state changed between read and compare-and-set.
type GuardViolationError struct {
	BatchID    BatchID
	Action     Action
	Current    Status
	Concurrent bool
}

func (e *GuardViolationError) Error() string {
	if e.Concurrent {
		return fmt.Sprintf("batch %s already processed: %s lost a concurrent update", e.BatchID, e.Action)
	}
	return fmt.Sprintf("batch %s already processed: cannot %s a %s batch", e.BatchID, e.Action, e.Current)
}

func (e *GuardViolationError) Unwrap() error { return ErrGuardViolation }

// LedgerWriteError wraps the store failure that aborted a confirmation.
type LedgerWriteError struct {
	BatchID BatchID
	Entries int
	Cause   error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("batch %s: writing %d ledger entries failed: %v", e.BatchID, e.Entries, e.Cause)
}

// Unwrap exposes both the category and the underlying cause.
func (e *LedgerWriteError) Unwrap() []error { return []error{ErrLedgerWrite, e.Cause} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if retrying the whole operation may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLedgerWrite) || errors.Is(err, ErrBatchBusy)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotSubmitter)
}

// IsConflict returns true if the batch was not in the required state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrGuardViolation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBatchNotFound) || errors.Is(err, ErrProductNotFound)
}
