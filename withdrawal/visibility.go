/*
visibility.go - Which tree nodes a caller may withdraw directly

PURPOSE:
  Computes the ordered list of "withdrawables": nodes offered to a caller for
  direct withdrawal. A node can be hidden for three distinct reasons, and the
  distinction matters:
    1. The caller lacks the capability for that node kind.
    2. A cascade from an exposed parent already covers it (a booking under an
       exposed direct match request, a nested match request under its request
       for placement).
    3. It is blocked or already terminal.

EXPOSURE RULES (all subject to not-blocked and not-terminal):
  application           manage-application capability
  direct match request  manage-bookings capability; always its own node
  request for placement manage-requests-for-placement capability, and the
                        decision is not already a withdrawal
  nested match request  never - reachable only via its parent's cascade
  booking               manage-bookings capability, no arrival, and either
                        standalone (adhoc/unknown/freestanding) or under a
                        match request that is not itself exposed. A booking
                        under an exposed direct match request is NOT listed:
                        withdrawing the parent already reaches it.

ORDERING:
  Stable tree discovery order: application first, then direct children
  depth-first. Callers rely on no other ordering property.

SEE ALSO:
  - blocking.go: Must run before exposure is evaluated
  - cascade.go: Re-checks exposure as a precondition of execution
*/
package withdrawal

// =============================================================================
// CAPABILITIES - Resolved externally, consumed here
// =============================================================================

// Capability is one entry of the caller's resolved capability set. Role and
// identity resolution is an external collaborator; by the time a request
// reaches this engine it carries plain capabilities.
type Capability string

const (
	// CapManageApplication covers the applicant, their case manager, and
	// operators with the global application-management capability.
	CapManageApplication Capability = "manage-application"

	// CapManageBookings covers match requests and bookings.
	CapManageBookings Capability = "manage-bookings"

	// CapManageRequestsForPlacement covers requests for placement at whatever
	// workflow stage the resolver deemed the caller responsible for.
	CapManageRequestsForPlacement Capability = "manage-requests-for-placement"

	// CapThirdParty marks the caller as acting on someone else's application.
	// It changes which withdrawal decision a cascade records, not what the
	// caller may see.
	CapThirdParty Capability = "third-party"
)

// CapabilitySet is the caller's resolved capability set.
type CapabilitySet map[Capability]bool

// NewCapabilitySet builds a set from the listed capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	cs := make(CapabilitySet, len(caps))
	for _, c := range caps {
		cs[c] = true
	}
	return cs
}

// Has reports whether the capability is present.
func (cs CapabilitySet) Has(c Capability) bool { return cs[c] }

// =============================================================================
// WITHDRAWABLES
// =============================================================================

// Withdrawable is one node offered for direct withdrawal.
type Withdrawable struct {
	ID      NodeID
	Kind    Kind
	Periods []DatePeriod
}

// Withdrawables returns the nodes the caller may withdraw directly, in tree
// discovery order. ComputeBlocking must have run on the tree.
func Withdrawables(t *Tree, caps CapabilitySet) []Withdrawable {
	out := []Withdrawable{}
	t.Walk(func(n *Node) {
		if exposed(n, caps) {
			out = append(out, Withdrawable{ID: n.ID, Kind: n.Kind, Periods: n.Periods()})
		}
	})
	return out
}

// exposed applies the per-kind exposure rules.
func exposed(n *Node, caps CapabilitySet) bool {
	if n.Blocked || n.Terminal() {
		return false
	}

	switch n.Kind {
	case KindApplication:
		return caps.Has(CapManageApplication)

	case KindAssessment:
		// Assessments are never withdrawn directly, only via their
		// application's cascade.
		return false

	case KindMatchRequest:
		// Nested match requests are intermediate nodes; only the direct ones
		// (the application's original dates) stand alone.
		return n.MatchRequest.Direct() && caps.Has(CapManageBookings)

	case KindRequestForPlacement:
		return caps.Has(CapManageRequestsForPlacement)

	case KindBooking:
		if n.Booking.HasArrival() || !caps.Has(CapManageBookings) {
			return false
		}
		// Standalone bookings are always their own withdrawable. A linked
		// booking is listed only when its parent match request is not itself
		// exposed (nested, or already terminal); under an exposed direct
		// match request the parent's cascade already reaches it.
		if n.Parent == nil || !treeEdgeFromParent(n) {
			return true
		}
		return !exposed(n.Parent, caps)
	}
	return false
}
