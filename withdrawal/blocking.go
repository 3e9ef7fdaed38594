/*
blocking.go - Arrival-based blocking over the tree

PURPOSE:
  Once a person has physically arrived at a booking, that booking and the
  chain above it can no longer be withdrawn: someone is living there. This
  file derives the Blocked flag for every node in one bottom-up pass.

RULES:
  - A booking with a recorded arrival is blocked, regardless of edge kind.
  - Blocked propagates upward only along tree edges (union: a node is blocked
    if ANY reachable descendant booking is blocked). Standalone bookings only
    ever block themselves.
  - Propagation marks match request ancestors and the application root, but
    skips over request-for-placement nodes without marking them. A request
    for placement groups independent date-period branches; withdrawing it is
    still permitted and the cascade leaves the arrived branch standing. The
    application root is always marked, because withdrawing the whole
    application while an arrival stands is forbidden outright.

SEE ALSO:
  - visibility.go: Blocked nodes are never offered for withdrawal
  - cascade.go: Blocked branches are skipped; a blocked root fails the call
*/
package withdrawal

// ComputeBlocking derives the Blocked flag for every node in the tree.
// Safe to call repeatedly; each call recomputes from scratch.
func ComputeBlocking(t *Tree) {
	t.Walk(func(n *Node) { n.Blocked = false })

	t.Walk(func(n *Node) {
		if n.Kind != KindBooking || !n.Booking.HasArrival() {
			return
		}
		n.Blocked = true
		if !treeEdgeFromParent(n) {
			return
		}
		for p := n.Parent; p != nil; p = p.Parent {
			if p.Kind != KindRequestForPlacement {
				p.Blocked = true
			}
		}
	})
}

// FirstBlockedBooking returns the shallowest arrived booking reachable from n
// via tree edges, for error reporting. Returns nil when none exists.
func FirstBlockedBooking(n *Node) *Node {
	if n.Kind == KindBooking && n.Booking.HasArrival() {
		return n
	}
	for _, e := range n.Edges {
		if e.Kind != EdgeTree {
			continue
		}
		if found := FirstBlockedBooking(e.Child); found != nil {
			return found
		}
	}
	return nil
}

// treeEdgeFromParent reports whether n hangs off its parent on a tree edge.
func treeEdgeFromParent(n *Node) bool {
	if n.Parent == nil {
		return false
	}
	for _, e := range n.Parent.Edges {
		if e.Child == n {
			return e.Kind == EdgeTree
		}
	}
	return false
}
