package withdrawal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbor/placement-engine/withdrawal"
	"github.com/harbor/placement-engine/withdrawal/store"
)

// =============================================================================
// FAN-OUT TESTS
// =============================================================================

func TestFanOut_DedupePerRecipientAndNode(t *testing.T) {
	// GIVEN: an applicant who is their own case manager, so two recipient
	//        rules resolve to the same address for the same node
	// WHEN: fanning out a cascade over the application and its match request
	// THEN: each (recipient, node) pair appears exactly once

	mem := store.NewMemory()
	ctx := context.Background()
	app := seedApplication(t, mem, "app-1")
	app.CaseManagerEmail = app.ApplicantEmail
	require.NoError(t, mem.SaveApplication(ctx, app))
	seedMatch(t, mem, "match-1", "app-1", "", "", period(2025, time.March, 1, 7))

	engine, rec := newTestEngine(mem)
	_, err := engine.Withdraw(ctx, "app-1", "app-1", withdrawal.KindApplication,
		"no-longer-needs-placement", allCaps())
	require.NoError(t, err)

	type pair struct{ recipient, node string }
	seen := map[pair]int{}
	for _, n := range rec.sent {
		seen[pair{n.Recipient, string(n.NodeID)}]++
	}
	for p, count := range seen {
		assert.Equal(t, 1, count, "duplicate notification for %s/%s", p.recipient, p.node)
	}

	// Applicant hears about both nodes, the area contact only about the match.
	assert.Equal(t, 1, seen[pair{"applicant@example.org", "app-1"}])
	assert.Equal(t, 1, seen[pair{"applicant@example.org", "match-1"}])
	assert.Equal(t, 1, seen[pair{"area@example.org", "match-1"}])
	assert.Zero(t, seen[pair{"area@example.org", "app-1"}])
}

func TestFanOut_RecipientsPerKind(t *testing.T) {
	mem := fullCaseStore(t)
	ctx := context.Background()

	engine, rec := newTestEngine(mem)
	_, err := engine.Withdraw(ctx, "app-1", "app-1", withdrawal.KindApplication,
		"no-longer-needs-placement", allCaps())
	require.NoError(t, err)

	byNode := map[string][]string{}
	for _, n := range rec.sent {
		byNode[string(n.NodeID)] = append(byNode[string(n.NodeID)], n.Recipient)
	}

	assert.ElementsMatch(t, []string{"applicant@example.org", "case.manager@example.org"}, byNode["app-1"])
	assert.ElementsMatch(t, []string{"assessor@example.org"}, byNode["assess-1"])
	assert.ElementsMatch(t, []string{"applicant@example.org", "worker@example.org"}, byNode["rfp-1"])
	assert.ElementsMatch(t,
		[]string{"applicant@example.org", "case.manager@example.org", "area@example.org"},
		byNode["match-direct"])
	assert.ElementsMatch(t,
		[]string{"premises@example.org", "area@example.org", "applicant@example.org", "case.manager@example.org"},
		byNode["booking-direct"])

	assert.NotContains(t, byNode, "booking-adhoc", "untouched nodes get no notification")
}

func TestFanOut_EmptyReport_NoNotifications(t *testing.T) {
	mem := store.NewMemory()
	seedApplication(t, mem, "app-1")
	tree := buildTree(t, mem, "app-1")

	out := withdrawal.FanOut(tree, &withdrawal.CascadeReport{ApplicationID: "app-1"})

	assert.Empty(t, out)
}

func TestFanOut_CarriesReasonAndPeriods(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	seedApplication(t, mem, "app-1")
	seedMatch(t, mem, "match-1", "app-1", "", "", period(2025, time.March, 1, 7))

	engine, rec := newTestEngine(mem)
	_, err := engine.Withdraw(ctx, "app-1", "match-1", withdrawal.KindMatchRequest,
		"dates-changed", withdrawal.NewCapabilitySet(withdrawal.CapManageBookings))
	require.NoError(t, err)

	require.NotEmpty(t, rec.sent)
	for _, n := range rec.sent {
		assert.Equal(t, "dates-changed", n.Reason)
		assert.Equal(t, withdrawal.NodeID("app-1"), n.ApplicationID)
		require.Len(t, n.Periods, 1)
		assert.Equal(t, date(2025, time.March, 1), n.Periods[0].Start)
		assert.NotEmpty(t, n.ID)
	}
}

func TestNotify_DeliveryFailureDoesNotFailWithdrawal(t *testing.T) {
	// Withdrawal state is authoritative; notification is best-effort.

	mem := store.NewMemory()
	ctx := context.Background()
	seedApplication(t, mem, "app-1")

	failing := withdrawal.NotifierFunc(func(context.Context, withdrawal.Notification) error {
		return assert.AnError
	})
	engine := withdrawal.NewEngine(mem, failing, quietLog())

	_, err := engine.Withdraw(ctx, "app-1", "app-1", withdrawal.KindApplication,
		"no-longer-needs-placement", allCaps())
	require.NoError(t, err)

	app, err := mem.GetApplication(ctx, "app-1")
	require.NoError(t, err)
	assert.True(t, app.Withdrawn)
}
