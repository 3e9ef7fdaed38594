/*
notify.go - Stakeholder notification fan-out

PURPOSE:
  After a successful cascade, every affected record has a set of stakeholders
  who need to hear about it: the applicant, their case manager, the assessor
  still holding a pending assessment, the premises managing a cancelled
  booking, the area contact for a match request. A stakeholder can qualify
  through several rules for the same record; they must still receive exactly
  one notification for it.

AT-MOST-ONCE:
  Pairs (recipient, node) are collected into a set BEFORE anything is
  emitted. Emission then walks the set, so no rule combination can produce a
  duplicate and no recipient is dropped.

DELIVERY:
  The engine only emits notification requests; rendering and delivery belong
  to the external notifier. Delivery failures are logged and never roll back
  the withdrawal - withdrawal state is authoritative, notification is
  best-effort.

SEE ALSO:
  - cascade.go: Drives the fan-out after commit
*/
package withdrawal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// NOTIFICATION - One request to the external notifier
// =============================================================================

// Notification carries the minimal context a template needs; content
// formatting is the notifier's responsibility.
type Notification struct {
	ID            string
	Recipient     string
	ApplicationID NodeID
	NodeID        NodeID
	Kind          Kind
	Reason        string
	Periods       []DatePeriod
	OccurredAt    time.Time
}

// Notifier delivers notification requests. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// NewLogNotifier returns a Notifier that only logs, for dev and demo runs
// where no delivery backend is wired.
func NewLogNotifier(log logrus.FieldLogger) Notifier {
	return NotifierFunc(func(_ context.Context, n Notification) error {
		log.WithFields(logrus.Fields{
			"recipient":      n.Recipient,
			"node_id":        n.NodeID,
			"kind":           n.Kind,
			"application_id": n.ApplicationID,
		}).Info("withdrawal notification")
		return nil
	})
}

// =============================================================================
// FAN-OUT
// =============================================================================

// FanOut computes the deduplicated notifications for a cascade report.
// Order is stable: transitions in report order, recipients in rule order,
// with later duplicates dropped.
func FanOut(t *Tree, report *CascadeReport) []Notification {
	type pair struct {
		recipient string
		node      NodeID
	}
	seen := make(map[pair]bool)
	now := time.Now().UTC()

	var out []Notification
	for _, tr := range report.Transitions {
		node, ok := t.Lookup(tr.NodeID)
		if !ok {
			continue
		}
		for _, recipient := range recipients(t, node) {
			if recipient == "" {
				continue
			}
			p := pair{recipient: recipient, node: tr.NodeID}
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, Notification{
				ID:            uuid.NewString(),
				Recipient:     recipient,
				ApplicationID: report.ApplicationID,
				NodeID:        tr.NodeID,
				Kind:          tr.Kind,
				Reason:        tr.Reason,
				Periods:       tr.Periods,
				OccurredAt:    now,
			})
		}
	}
	return out
}

// recipients applies the per-kind stakeholder rules. Duplicates are fine
// here; FanOut deduplicates.
func recipients(t *Tree, n *Node) []string {
	app := t.Root.App

	switch n.Kind {
	case KindApplication:
		return []string{app.ApplicantEmail, caseManager(app)}

	case KindAssessment:
		// Only a pending assessment transitions, and only its assessor cares.
		return []string{n.Assessment.AllocatedToEmail}

	case KindRequestForPlacement:
		return []string{app.ApplicantEmail, n.RFP.AllocatedToEmail}

	case KindMatchRequest:
		return []string{app.ApplicantEmail, caseManager(app), n.MatchRequest.AreaEmail}

	case KindBooking:
		b := n.Booking
		return []string{b.PremisesEmail, b.AreaEmail, app.ApplicantEmail, caseManager(app)}
	}
	return nil
}

// caseManager returns the distinct case manager contact, if one exists.
func caseManager(app *Application) string {
	if app.CaseManagerEmail == app.ApplicantEmail {
		return ""
	}
	return app.CaseManagerEmail
}

// notify emits the fan-out for a committed cascade. Failures are logged per
// notification and do not affect the caller.
func (e *Engine) notify(ctx context.Context, t *Tree, report *CascadeReport) {
	if e.Notifier == nil || t == nil || len(report.Transitions) == 0 {
		return
	}
	for _, n := range FanOut(t, report) {
		if err := e.Notifier.Notify(ctx, n); err != nil {
			e.Log.WithFields(logrus.Fields{
				"recipient": n.Recipient,
				"node_id":   n.NodeID,
				"kind":      n.Kind,
			}).WithError(err).Error("withdrawal notification failed")
		}
	}
}
