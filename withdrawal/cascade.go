/*
cascade.go - Withdrawal execution

PURPOSE:
  Executes a withdrawal on a chosen node so that it and every cascade-eligible
  descendant transition to withdrawn atomically, each tagged with the reason
  appropriate to its kind and its depth from the cascade root.

EXECUTION FLOW:
  1. Inside one store transaction: rebuild the live tree and blocking flags
     (never trust a stale read across the read/write boundary).
  2. Preconditions: node in the live tree, not already terminal (terminal is
     an idempotent no-op), not blocked, and visible to this caller.
  3. Depth-first from the root over tree edges only. Blocked branches are
     skipped wholesale; standalone edges are never followed; terminal nodes
     are skipped silently so overlapping cascades converge.
  4. Every mutation carries the version read in step 1. Any conflict aborts
     and rolls back the whole cascade.
  5. After commit: notification fan-out, deduplicated per (recipient, node).
     Delivery failures are logged, never rolled back.

REASON TABLE (by cascade root kind -> affected node kind):
  root itself            caller-supplied reason
  application -> RFP     related-application-withdrawn
  application -> match   related-application-withdrawn
  RFP -> match           related-placement-application-withdrawn
  application -> booking "Related application withdrawn"
  RFP -> booking         "Related request for placement withdrawn"
  match -> booking       "Related placement request withdrawn"
  any -> assessment      implicit (related application withdrawn), pending only

SEE ALSO:
  - visibility.go: The precondition in step 2
  - notify.go: Step 5
*/
package withdrawal

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// ENGINE - Ties tree, blocking, visibility, cascade and fan-out together
// =============================================================================

type Engine struct {
	Store    TxStore
	Notifier Notifier
	Log      logrus.FieldLogger
}

func NewEngine(store TxStore, notifier Notifier, log logrus.FieldLogger) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{Store: store, Notifier: notifier, Log: log}
}

// Withdrawables computes the caller's withdrawable nodes for an application.
func (e *Engine) Withdrawables(ctx context.Context, applicationID NodeID, caps CapabilitySet) ([]Withdrawable, error) {
	t, err := BuildTree(ctx, e.Store, applicationID)
	if err != nil {
		return nil, err
	}
	ComputeBlocking(t)
	return Withdrawables(t, caps), nil
}

// =============================================================================
// CASCADE REPORT - What a withdrawal actually did
// =============================================================================

type CascadeReport struct {
	ApplicationID NodeID
	RootID        NodeID
	Transitions   []Transition
}

// Transition records one node's state change with the reason applied to it.
type Transition struct {
	NodeID  NodeID
	Kind    Kind
	Reason  string
	Periods []DatePeriod
}

// =============================================================================
// WITHDRAW
// =============================================================================

// Withdraw executes a withdrawal cascade rooted at nodeID. expectKind guards
// against id/type mismatches from the API layer; pass "" to accept any kind.
// Withdrawing an already-terminal node is an idempotent no-op with an empty
// report.
func (e *Engine) Withdraw(ctx context.Context, applicationID, nodeID NodeID, expectKind Kind, reason Reason, caps CapabilitySet) (*CascadeReport, error) {
	report := &CascadeReport{ApplicationID: applicationID, RootID: nodeID}
	var tree *Tree

	err := e.Store.WithTx(ctx, func(s Store) error {
		t, err := BuildTree(ctx, s, applicationID)
		if err != nil {
			return err
		}
		ComputeBlocking(t)
		tree = t

		root, ok := t.Lookup(nodeID)
		if !ok {
			return fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
		}
		if expectKind != "" && root.Kind != expectKind {
			return fmt.Errorf("node %s is a %s, not a %s: %w", nodeID, root.Kind, expectKind, ErrNotFound)
		}
		if root.Terminal() {
			return nil // converged already, nothing to do
		}
		if root.Blocked {
			blocking := FirstBlockedBooking(root)
			if blocking == nil {
				blocking = root
			}
			return &BlockedError{NodeID: root.ID, Kind: root.Kind, BlockingBookingID: blocking.ID}
		}
		if !exposed(root, caps) {
			detail := "not offered for direct withdrawal"
			if exposed(root, allCapabilities) {
				detail = "caller lacks the required capability"
			}
			return &NotWithdrawableError{NodeID: root.ID, Kind: root.Kind, Detail: detail}
		}

		cc := &cascadeCtx{root: root, directReason: reason, caps: caps, report: report}
		return descend(ctx, s, root, cc)
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, tree, report)
	return report, nil
}

var allCapabilities = NewCapabilitySet(CapManageApplication, CapManageBookings, CapManageRequestsForPlacement)

// =============================================================================
// EXECUTION - Depth-first over tree edges, per-kind strategy table
// =============================================================================

type cascadeCtx struct {
	root         *Node
	directReason Reason
	caps         CapabilitySet
	report       *CascadeReport
}

func descend(ctx context.Context, s Store, n *Node, cc *cascadeCtx) error {
	if n.Blocked && n != cc.root {
		return nil // arrived branch stands untouched
	}
	if !n.Terminal() {
		transition := transitions[n.Kind]
		reason, applied, err := transition(ctx, s, n, cc)
		if err != nil {
			return err
		}
		if applied {
			cc.report.Transitions = append(cc.report.Transitions, Transition{
				NodeID:  n.ID,
				Kind:    n.Kind,
				Reason:  reason,
				Periods: n.Periods(),
			})
		}
	}
	for _, edge := range n.Edges {
		if edge.Kind != EdgeTree {
			continue
		}
		if err := descend(ctx, s, edge.Child, cc); err != nil {
			return err
		}
	}
	return nil
}

// transitionFunc applies one node's state change. Returns the reason recorded
// and whether the node actually transitioned.
type transitionFunc func(ctx context.Context, s Store, n *Node, cc *cascadeCtx) (string, bool, error)

var transitions = map[Kind]transitionFunc{
	KindApplication:         transitionApplication,
	KindAssessment:          transitionAssessment,
	KindRequestForPlacement: transitionRequestForPlacement,
	KindMatchRequest:        transitionMatchRequest,
	KindBooking:             transitionBooking,
}

func transitionApplication(ctx context.Context, s Store, n *Node, cc *cascadeCtx) (string, bool, error) {
	// The application is only ever the cascade root; its reason is always
	// the caller's.
	if err := s.WithdrawApplication(ctx, n.ID, cc.directReason, n.Version()); err != nil {
		return "", false, err
	}
	return string(cc.directReason), true, nil
}

func transitionAssessment(ctx context.Context, s Store, n *Node, cc *cascadeCtx) (string, bool, error) {
	// Submitted assessments are complete; only a pending one is swept up.
	if !n.Assessment.Pending() {
		return "", false, nil
	}
	if err := s.WithdrawAssessment(ctx, n.ID, n.Version()); err != nil {
		return "", false, err
	}
	return string(ReasonRelatedApplicationWithdrawn), true, nil
}

func transitionRequestForPlacement(ctx context.Context, s Store, n *Node, cc *cascadeCtx) (string, bool, error) {
	reason := ReasonRelatedApplicationWithdrawn
	if n == cc.root {
		reason = cc.directReason
	}
	decision := DecisionWithdrawn
	if cc.caps.Has(CapThirdParty) {
		decision = DecisionWithdrawnByThirdParty
	}
	if err := s.RecordDecision(ctx, n.ID, decision, reason, n.Version()); err != nil {
		return "", false, err
	}
	return string(reason), true, nil
}

func transitionMatchRequest(ctx context.Context, s Store, n *Node, cc *cascadeCtx) (string, bool, error) {
	var reason Reason
	switch {
	case n == cc.root:
		reason = cc.directReason
	case cc.root.Kind == KindRequestForPlacement:
		reason = ReasonRelatedPlacementApplicationWithdrawn
	default:
		reason = ReasonRelatedApplicationWithdrawn
	}
	if err := s.WithdrawMatchRequest(ctx, n.ID, reason, n.Version()); err != nil {
		return "", false, err
	}
	return string(reason), true, nil
}

func transitionBooking(ctx context.Context, s Store, n *Node, cc *cascadeCtx) (string, bool, error) {
	var text string
	switch {
	case n == cc.root:
		text = string(cc.directReason)
	case cc.root.Kind == KindApplication:
		text = CancelTextRelatedApplication
	case cc.root.Kind == KindRequestForPlacement:
		text = CancelTextRelatedRequestForPlacement
	default:
		text = CancelTextRelatedPlacementRequest
	}
	if err := s.CancelBooking(ctx, n.ID, text, n.Version()); err != nil {
		return "", false, err
	}
	return text, true, nil
}
