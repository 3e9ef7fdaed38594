/*
errors.go - Centralized error types for the withdrawal engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the API layer maps these onto
  HTTP statuses.

ERROR CATEGORIES:
  1. NotFound         - record missing or not part of the live tree
  2. NotWithdrawable  - record exists but is hidden, terminal, or the caller
                        lacks the required capability
  3. Blocked          - an arrival stands somewhere that forbids the withdrawal
  4. ConcurrentConflict - the record changed between read and write

USAGE:
    _, err := engine.Withdraw(ctx, appID, nodeID, "", reason, caps)
    if errors.Is(err, withdrawal.ErrBlocked) {
        // 400 to the client, nothing was mutated
    }

SEE ALSO:
  - cascade.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package withdrawal

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a record does not exist or is not part of
	// the live tree (superseded and draft records count as absent).
	ErrNotFound = errors.New("record not found in live tree")

	// ErrNotWithdrawable is returned when a record exists but is not offered
	// for direct withdrawal to this caller.
	ErrNotWithdrawable = errors.New("record not withdrawable")

	// ErrBlocked is returned when a recorded arrival forbids the withdrawal.
	ErrBlocked = errors.New("withdrawal blocked by recorded arrival")

	// ErrConcurrentConflict is returned when optimistic locking detects that
	// a record was mutated between read and write. The engine never retries;
	// retry policy belongs to the caller.
	ErrConcurrentConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// BlockedError identifies which booking's arrival blocks the withdrawal.
type BlockedError struct {
	NodeID            NodeID
	Kind              Kind
	BlockingBookingID NodeID
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("cannot withdraw %s %s: booking %s has a recorded arrival",
		e.Kind, e.NodeID, e.BlockingBookingID)
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// NotWithdrawableError explains why a node is not offered for withdrawal.
type NotWithdrawableError struct {
	NodeID NodeID
	Kind   Kind
	Detail string
}

func (e *NotWithdrawableError) Error() string {
	return fmt.Sprintf("%s %s is not withdrawable: %s", e.Kind, e.NodeID, e.Detail)
}

func (e *NotWithdrawableError) Unwrap() error { return ErrNotWithdrawable }

// ConflictError identifies the record that lost a concurrent write race.
type ConflictError struct {
	NodeID          NodeID
	Kind            Kind
	ExpectedVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s changed since read (expected version %d)",
		e.Kind, e.NodeID, e.ExpectedVersion)
}

func (e *ConflictError) Unwrap() error { return ErrConcurrentConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError returns true if the error is the caller's to fix rather than
// a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotWithdrawable) || errors.Is(err, ErrBlocked)
}

// IsBlocked returns true if a recorded arrival forbids the withdrawal.
func IsBlocked(err error) bool { return errors.Is(err, ErrBlocked) }

// IsConflict returns true if the error came from a concurrent write race.
func IsConflict(err error) bool { return errors.Is(err, ErrConcurrentConflict) }
