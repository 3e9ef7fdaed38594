/*
store.go - Persistence interface for application trees

PURPOSE:
  Defines the interface between the withdrawal engine and the database.
  Reads feed tree assembly; writes are limited to withdrawal-state fields
  and always carry the version read during assembly.

KEY INTERFACES:
  Store:   Per-entity reads plus versioned withdrawal mutators
  TxStore: Wraps a whole cascade in one transactional unit of work

OPTIMISTIC VERSIONING:
  Every record carries a version counter bumped on mutation. Mutators take
  the expected version; a mismatch fails with ErrConcurrentConflict and the
  enclosing transaction rolls back. The first terminal-state write to a
  record wins; later concurrent writers are rejected, never merged.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - withdrawal/store: In-memory for tests and dev scenarios

SEE ALSO:
  - tree.go: Reads through this interface
  - cascade.go: Mutates through this interface inside WithTx
*/
package withdrawal

import "context"

// =============================================================================
// STORE - Per-entity reads and versioned withdrawal writes
// =============================================================================

// Store handles persistence of the five record kinds. Reads return records
// regardless of superseded/draft state; the tree model owns those exclusion
// rules. Readers return (nil, nil) for a missing application.
type Store interface {
	// --- Reads for tree assembly ---

	GetApplication(ctx context.Context, id NodeID) (*Application, error)

	// ListAssessments returns all assessments for the application, including
	// superseded ones, ordered by creation time.
	ListAssessments(ctx context.Context, applicationID NodeID) ([]*Assessment, error)

	ListRequestsForPlacement(ctx context.Context, applicationID NodeID) ([]*RequestForPlacement, error)

	ListMatchRequests(ctx context.Context, applicationID NodeID) ([]*MatchRequest, error)

	ListBookings(ctx context.Context, applicationID NodeID) ([]*Booking, error)

	// --- Withdrawal-state writes (optimistic, versioned) ---

	// WithdrawApplication marks the application withdrawn with the given
	// reason. Fails with ErrConcurrentConflict on version mismatch.
	WithdrawApplication(ctx context.Context, id NodeID, reason Reason, expectedVersion int64) error

	// WithdrawAssessment marks a pending assessment withdrawn.
	WithdrawAssessment(ctx context.Context, id NodeID, expectedVersion int64) error

	// RecordDecision records a terminal decision against a request for
	// placement together with the reason code.
	RecordDecision(ctx context.Context, id NodeID, decision Decision, reason Reason, expectedVersion int64) error

	// WithdrawMatchRequest marks a match request withdrawn with the reason.
	WithdrawMatchRequest(ctx context.Context, id NodeID, reason Reason, expectedVersion int64) error

	// CancelBooking cancels a booking with human-readable reason text.
	CancelBooking(ctx context.Context, id NodeID, reason string, expectedVersion int64) error

	// --- Record creation (fixtures, seeding; upstream workflows own these
	//     in production) ---

	SaveApplication(ctx context.Context, app *Application) error
	SaveAssessment(ctx context.Context, a *Assessment) error
	SaveRequestForPlacement(ctx context.Context, r *RequestForPlacement) error
	SaveMatchRequest(ctx context.Context, m *MatchRequest) error
	SaveBooking(ctx context.Context, b *Booking) error
}

// =============================================================================
// TRANSACTIONAL STORE - One cascade, one unit of work
// =============================================================================

// TxStore wraps Store with transaction support. The cascade executor runs
// its read-then-mutate-many sequence inside WithTx so that either every
// eligible node transitions or none do.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
