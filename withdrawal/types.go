/*
Package withdrawal provides the core withdrawal cascade engine.

PURPOSE:
  This package contains the domain model and algorithms for withdrawing a
  supported-housing application or any of its dependent records. Every
  application spawns a tree of records (assessment, requests for placement,
  match requests, bookings) and withdrawing a node must cascade correctly to
  its dependents, stop at branches where the person has already arrived, and
  notify every affected stakeholder exactly once.

KEY CONCEPTS IN THIS FILE (types.go):
  - Node: Tagged-variant envelope over the five record kinds
  - Edge/EdgeKind: Explicit parent->child links; adhoc bookings hang off the
    tree on standalone edges that cascades never follow
  - Application/Assessment/RequestForPlacement/MatchRequest/Booking: The
    withdrawal-relevant fields of each record kind
  - Reason: Reason codes applied per node kind and cascade depth

DESIGN PRINCIPLES:
  1. Closed variant: Node dispatch is by Kind, never by type assertion chains
  2. Explicit edges: adhoc vs true links are first-class EdgeKind values,
     not null checks scattered through the algorithms
  3. Read-mostly: the engine only ever mutates withdrawal-state fields,
     everything else is owned by upstream workflows
  4. Versioned writes: every mutation carries the version read during tree
     assembly so concurrent writers are detected, not overwritten

SEE ALSO:
  - tree.go: Tree assembly from the Store
  - blocking.go: Arrival-based blocking computation
  - visibility.go: Which nodes a caller may withdraw directly
  - cascade.go: Withdrawal execution
  - notify.go: Stakeholder notification fan-out
*/
package withdrawal

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type NodeID string
type UserID string

// Kind identifies which record variant a Node wraps.
type Kind string

const (
	KindApplication         Kind = "application"
	KindAssessment          Kind = "assessment"
	KindRequestForPlacement Kind = "requestForPlacement"
	KindMatchRequest        Kind = "matchRequest"
	KindBooking             Kind = "booking"
)

// =============================================================================
// EDGES - Parent/child links between records
// =============================================================================

// EdgeKind distinguishes true tree edges from standalone links.
// A MatchRequest->Booking link is a true tree edge only when the booking's
// adhoc marker is explicitly false. Adhoc and unknown bookings are logically
// standalone even when a foreign key points at them (historically mislinked
// data exists, so the engine never trusts the link alone).
type EdgeKind int

const (
	// EdgeTree is a real parent/child edge. Cascades and blocking follow it.
	EdgeTree EdgeKind = iota

	// EdgeStandalone attaches a node for discovery only. Cascades never
	// follow it and blocking never propagates across it.
	EdgeStandalone
)

type Edge struct {
	Kind  EdgeKind
	Child *Node
}

// =============================================================================
// NODE - Tagged-variant envelope over the five record kinds
// =============================================================================

// Node is one record in an application's withdrawal tree. Exactly one of the
// payload pointers matching Kind is set.
type Node struct {
	ID     NodeID
	Kind   Kind
	Parent *Node
	Edges  []Edge

	// Blocked is derived once per pass by ComputeBlocking. A blocked node is
	// excluded from withdrawables and skipped by cascades.
	Blocked bool

	App          *Application
	Assessment   *Assessment
	RFP          *RequestForPlacement
	MatchRequest *MatchRequest
	Booking      *Booking
}

// Terminal reports whether the node has already reached a withdrawn/cancelled
// state and therefore never transitions again.
func (n *Node) Terminal() bool {
	switch n.Kind {
	case KindApplication:
		return n.App.Withdrawn
	case KindAssessment:
		return n.Assessment.Withdrawn
	case KindRequestForPlacement:
		return n.RFP.Decision.IsWithdrawal()
	case KindMatchRequest:
		return n.MatchRequest.Withdrawn
	case KindBooking:
		return n.Booking.Cancelled
	}
	return false
}

// Periods returns the date periods the node covers, for withdrawable listings
// and notification payloads. The application and assessment carry none.
func (n *Node) Periods() []DatePeriod {
	switch n.Kind {
	case KindRequestForPlacement:
		return n.RFP.Periods
	case KindMatchRequest:
		return []DatePeriod{n.MatchRequest.Period}
	case KindBooking:
		return []DatePeriod{n.Booking.Period}
	}
	return nil
}

// Version returns the optimistic-locking version of the wrapped record.
func (n *Node) Version() int64 {
	switch n.Kind {
	case KindApplication:
		return n.App.Version
	case KindAssessment:
		return n.Assessment.Version
	case KindRequestForPlacement:
		return n.RFP.Version
	case KindMatchRequest:
		return n.MatchRequest.Version
	case KindBooking:
		return n.Booking.Version
	}
	return 0
}

// =============================================================================
// APPLICATION - Root of the withdrawal tree
// =============================================================================

type Application struct {
	ID          NodeID
	ApplicantID UserID

	// Contact points for notification fan-out. CaseManagerEmail is empty when
	// the applicant manages their own case.
	ApplicantEmail   string
	CaseManagerEmail string

	Withdrawn        bool
	WithdrawalReason Reason

	Version   int64
	CreatedAt time.Time
}

// =============================================================================
// ASSESSMENT - Suitability review, at most one current per application
// =============================================================================

type Assessment struct {
	ID            NodeID
	ApplicationID NodeID

	AllocatedToID    UserID
	AllocatedToEmail string

	// Submitted assessments are complete and are not touched by cascades.
	Submitted bool

	// Superseded assessments were reallocated; they are invisible to the tree.
	Superseded bool

	Withdrawn bool

	Version   int64
	CreatedAt time.Time
}

// Pending reports whether the assessment is still awaiting submission.
func (a *Assessment) Pending() bool { return !a.Submitted }

// =============================================================================
// REQUEST FOR PLACEMENT - Request for new placement date-periods
// =============================================================================

// Decision is the terminal outcome recorded against a request for placement.
type Decision string

const (
	DecisionNone                  Decision = ""
	DecisionAccepted              Decision = "accepted"
	DecisionRejected              Decision = "rejected"
	DecisionWithdrawn             Decision = "withdrawn"
	DecisionWithdrawnByThirdParty Decision = "withdrawnByThirdParty"
)

// IsWithdrawal reports whether the decision is one of the withdrawal outcomes.
func (d Decision) IsWithdrawal() bool {
	return d == DecisionWithdrawn || d == DecisionWithdrawnByThirdParty
}

type RequestForPlacement struct {
	ID            NodeID
	ApplicationID NodeID

	AllocatedToEmail string

	Decision       Decision
	DecisionReason Reason

	// One or more requested date-periods. Each submitted period gets its own
	// nested MatchRequest.
	Periods []DatePeriod

	// Unsubmitted requests are drafts and invisible to the tree.
	Submitted  bool
	Superseded bool

	Version   int64
	CreatedAt time.Time
}

// =============================================================================
// MATCH REQUEST - Request to match the person to a placement
// =============================================================================

type MatchRequest struct {
	ID            NodeID
	ApplicationID NodeID

	// Empty for a direct match request (the application's original dates);
	// set when the match request belongs to a request for placement.
	RequestForPlacementID NodeID

	Period DatePeriod

	// BookingID links the matched booking, if any. Whether the link is a true
	// tree edge depends on the booking's adhoc marker.
	BookingID NodeID

	// AreaEmail is the regional contact notified when the match request or
	// its booking is withdrawn.
	AreaEmail string

	Withdrawn        bool
	WithdrawalReason Reason
	Superseded       bool

	Version   int64
	CreatedAt time.Time
}

// Direct reports whether the match request hangs directly off the application.
func (m *MatchRequest) Direct() bool { return m.RequestForPlacementID == "" }

// =============================================================================
// BOOKING - Concrete placement (bed + date-period)
// =============================================================================

// AdhocMarker is tri-state: historic rows predate the flag, and an unknown
// marker is treated as adhoc.
type AdhocMarker string

const (
	AdhocTrue    AdhocMarker = "true"
	AdhocFalse   AdhocMarker = "false"
	AdhocUnknown AdhocMarker = "unknown"
)

// Standalone reports whether the booking should be treated as detached from
// any match request. Only an explicit false marker makes a true tree edge.
func (a AdhocMarker) Standalone() bool { return a != AdhocFalse }

type Booking struct {
	ID            NodeID
	ApplicationID NodeID

	PremisesName  string
	PremisesEmail string
	AreaEmail     string

	Adhoc  AdhocMarker
	Period DatePeriod

	Cancelled          bool
	CancellationReason string

	// ArrivedAt is set when the person physically arrives. While it stands,
	// the booking and everything above it on true edges cannot be withdrawn.
	ArrivedAt *time.Time

	Version   int64
	CreatedAt time.Time
}

// HasArrival reports whether an arrival has been recorded.
func (b *Booking) HasArrival() bool { return b.ArrivedAt != nil }

// =============================================================================
// REASONS - Codes applied per node kind and cascade depth
// =============================================================================

// Reason is a withdrawal reason code. Caller-supplied reasons are free-form
// codes; cascades apply the Related* codes below to descendants.
type Reason string

const (
	ReasonRelatedApplicationWithdrawn          Reason = "related-application-withdrawn"
	ReasonRelatedPlacementApplicationWithdrawn Reason = "related-placement-application-withdrawn"
	ReasonDuplicatePlacementRequest            Reason = "duplicate-placement-request"
)

// Booking cancellations carry human-readable text rather than codes; the
// text mirrors the level the cascade originated from.
const (
	CancelTextRelatedApplication         = "Related application withdrawn"
	CancelTextRelatedRequestForPlacement = "Related request for placement withdrawn"
	CancelTextRelatedPlacementRequest    = "Related placement request withdrawn"
)
