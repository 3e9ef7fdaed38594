/*
tree.go - In-memory model of an application's withdrawal tree

PURPOSE:
  Assembles the live tree of records beneath an application from one pass of
  Store reads. "Live" excludes superseded (reallocated) records and draft
  requests for placement, whose subtrees are treated as absent.

TREE SHAPE:
  application
  ├── assessment                       (current, at most one)
  ├── match request (direct)           (original requested dates)
  │   └── booking                      (tree edge iff adhoc == false)
  ├── request for placement            (submitted only)
  │   └── match request (nested)       (one per requested period)
  │       └── booking                  (tree edge iff adhoc == false)
  └── booking (adhoc / freestanding)   (standalone edge, discovery only)

EDGE RULES:
  A MatchRequest->Booking foreign key only becomes a tree edge when the
  booking's adhoc marker is explicitly false. Adhoc and unknown bookings are
  attached to the application root on standalone edges so they remain
  discoverable and individually withdrawable, but no cascade or blocking
  ever crosses into them from above. A tree-edge booking whose only parent
  chain is excluded (superseded match request, draft or superseded request
  for placement) is excluded with it, never resurfaced as standalone.

SEE ALSO:
  - blocking.go: Derives Blocked flags over this tree
  - visibility.go: Walks this tree in discovery order
*/
package withdrawal

import (
	"context"
	"fmt"
)

// =============================================================================
// TREE - Assembled live records plus lookup by id
// =============================================================================

type Tree struct {
	Root  *Node
	nodes map[NodeID]*Node
}

// Lookup finds a live node by id.
func (t *Tree) Lookup(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Walk visits every node in discovery order (root first, children depth-first
// in attachment order, standalone children included).
func (t *Tree) Walk(fn func(*Node)) {
	walk(t.Root, fn)
}

func walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, e := range n.Edges {
		walk(e.Child, fn)
	}
}

func (t *Tree) add(n *Node) *Node {
	t.nodes[n.ID] = n
	return n
}

func attach(parent, child *Node, kind EdgeKind) {
	child.Parent = parent
	parent.Edges = append(parent.Edges, Edge{Kind: kind, Child: child})
}

// =============================================================================
// ASSEMBLY
// =============================================================================

// BuildTree reads the application and all live descendants from the store.
// Pure read; fails with ErrNotFound if the application id does not exist.
func BuildTree(ctx context.Context, s Store, applicationID NodeID) (*Tree, error) {
	app, err := s.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("load application %s: %w", applicationID, err)
	}
	if app == nil {
		return nil, fmt.Errorf("application %s: %w", applicationID, ErrNotFound)
	}

	t := &Tree{nodes: make(map[NodeID]*Node)}
	t.Root = t.add(&Node{ID: app.ID, Kind: KindApplication, App: app})

	if err := t.attachAssessment(ctx, s, app.ID); err != nil {
		return nil, err
	}

	bookings, err := s.ListBookings(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("load bookings for %s: %w", app.ID, err)
	}
	byID := make(map[NodeID]*Booking, len(bookings))
	for _, b := range bookings {
		byID[b.ID] = b
	}

	matchRequests, err := s.ListMatchRequests(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("load match requests for %s: %w", app.ID, err)
	}

	rfps, err := s.ListRequestsForPlacement(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("load requests for placement for %s: %w", app.ID, err)
	}
	liveRFP := make(map[NodeID]bool, len(rfps))
	for _, r := range rfps {
		if !r.Superseded && r.Submitted {
			liveRFP[r.ID] = true
		}
	}

	// An excluded match request (superseded, or nested under a draft or
	// superseded request for placement) takes its tree-edge booking down with
	// it: a booking whose only parent chain is excluded is excluded too.
	// Claiming it here keeps the standalone sweep from resurfacing it.
	claimed := make(map[NodeID]bool)
	for _, m := range matchRequests {
		if !m.Superseded && (m.Direct() || liveRFP[m.RequestForPlacementID]) {
			continue
		}
		if b, ok := byID[m.BookingID]; ok && !b.Adhoc.Standalone() {
			claimed[b.ID] = true
		}
	}

	// Direct match requests first: they carry the application's original dates.
	for _, m := range matchRequests {
		if m.Superseded || !m.Direct() {
			continue
		}
		mn := t.add(&Node{ID: m.ID, Kind: KindMatchRequest, MatchRequest: m})
		attach(t.Root, mn, EdgeTree)
		t.attachBooking(mn, byID, m.BookingID, claimed)
	}

	// Requests for placement with their nested match requests.
	for _, r := range rfps {
		if !liveRFP[r.ID] {
			continue
		}
		rn := t.add(&Node{ID: r.ID, Kind: KindRequestForPlacement, RFP: r})
		attach(t.Root, rn, EdgeTree)

		for _, m := range matchRequests {
			if m.Superseded || m.RequestForPlacementID != r.ID {
				continue
			}
			mn := t.add(&Node{ID: m.ID, Kind: KindMatchRequest, MatchRequest: m})
			attach(rn, mn, EdgeTree)
			t.attachBooking(mn, byID, m.BookingID, claimed)
		}
	}

	// Remaining bookings are freestanding or nominally linked but adhoc; they
	// hang off the root on standalone edges.
	for _, b := range bookings {
		if claimed[b.ID] {
			continue
		}
		bn := t.add(&Node{ID: b.ID, Kind: KindBooking, Booking: b})
		attach(t.Root, bn, EdgeStandalone)
	}

	return t, nil
}

// attachAssessment attaches the current (non-superseded) assessment, if any.
func (t *Tree) attachAssessment(ctx context.Context, s Store, applicationID NodeID) error {
	assessments, err := s.ListAssessments(ctx, applicationID)
	if err != nil {
		return fmt.Errorf("load assessments for %s: %w", applicationID, err)
	}
	for _, a := range assessments {
		if a.Superseded {
			continue
		}
		an := t.add(&Node{ID: a.ID, Kind: KindAssessment, Assessment: a})
		attach(t.Root, an, EdgeTree)
		return nil
	}
	return nil
}

// attachBooking links a match request's booking. Only an explicit adhoc=false
// marker makes a tree edge; anything else leaves the booking for the
// standalone sweep.
func (t *Tree) attachBooking(mn *Node, byID map[NodeID]*Booking, bookingID NodeID, claimed map[NodeID]bool) {
	if bookingID == "" {
		return
	}
	b, ok := byID[bookingID]
	if !ok || b.Adhoc.Standalone() {
		return
	}
	bn := t.add(&Node{ID: b.ID, Kind: KindBooking, Booking: b})
	attach(mn, bn, EdgeTree)
	claimed[b.ID] = true
}
