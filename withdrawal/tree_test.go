package withdrawal_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbor/placement-engine/withdrawal"
	"github.com/harbor/placement-engine/withdrawal/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func period(y int, m time.Month, d, days int) withdrawal.DatePeriod {
	return withdrawal.NewDatePeriod(date(y, m, d), days)
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func allCaps() withdrawal.CapabilitySet {
	return withdrawal.NewCapabilitySet(
		withdrawal.CapManageApplication,
		withdrawal.CapManageBookings,
		withdrawal.CapManageRequestsForPlacement,
	)
}

// recordingNotifier captures every emitted notification.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []withdrawal.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n withdrawal.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func newTestEngine(mem *store.Memory) (*withdrawal.Engine, *recordingNotifier) {
	rec := &recordingNotifier{}
	return withdrawal.NewEngine(mem, rec, quietLog()), rec
}

// --- seeding ----------------------------------------------------------------

func seedApplication(t *testing.T, s withdrawal.Store, id string) *withdrawal.Application {
	t.Helper()
	app := &withdrawal.Application{
		ID:               withdrawal.NodeID(id),
		ApplicantID:      "user-1",
		ApplicantEmail:   "applicant@example.org",
		CaseManagerEmail: "case.manager@example.org",
		CreatedAt:        date(2025, time.January, 1),
	}
	require.NoError(t, s.SaveApplication(context.Background(), app))
	return app
}

func seedAssessment(t *testing.T, s withdrawal.Store, id, appID string, submitted, superseded bool) *withdrawal.Assessment {
	t.Helper()
	a := &withdrawal.Assessment{
		ID:               withdrawal.NodeID(id),
		ApplicationID:    withdrawal.NodeID(appID),
		AllocatedToEmail: "assessor@example.org",
		Submitted:        submitted,
		Superseded:       superseded,
		CreatedAt:        date(2025, time.January, 2),
	}
	require.NoError(t, s.SaveAssessment(context.Background(), a))
	return a
}

func seedRFP(t *testing.T, s withdrawal.Store, id, appID string, periods ...withdrawal.DatePeriod) *withdrawal.RequestForPlacement {
	t.Helper()
	r := &withdrawal.RequestForPlacement{
		ID:               withdrawal.NodeID(id),
		ApplicationID:    withdrawal.NodeID(appID),
		AllocatedToEmail: "worker@example.org",
		Decision:         withdrawal.DecisionAccepted,
		Submitted:        true,
		Periods:          periods,
		CreatedAt:        date(2025, time.January, 3),
	}
	require.NoError(t, s.SaveRequestForPlacement(context.Background(), r))
	return r
}

func seedMatch(t *testing.T, s withdrawal.Store, id, appID, rfpID, bookingID string, p withdrawal.DatePeriod) *withdrawal.MatchRequest {
	t.Helper()
	m := &withdrawal.MatchRequest{
		ID:                    withdrawal.NodeID(id),
		ApplicationID:         withdrawal.NodeID(appID),
		RequestForPlacementID: withdrawal.NodeID(rfpID),
		BookingID:             withdrawal.NodeID(bookingID),
		Period:                p,
		AreaEmail:             "area@example.org",
		CreatedAt:             date(2025, time.January, 4),
	}
	require.NoError(t, s.SaveMatchRequest(context.Background(), m))
	return m
}

func seedBooking(t *testing.T, s withdrawal.Store, id, appID string, adhoc withdrawal.AdhocMarker, arrived *time.Time, p withdrawal.DatePeriod) *withdrawal.Booking {
	t.Helper()
	b := &withdrawal.Booking{
		ID:            withdrawal.NodeID(id),
		ApplicationID: withdrawal.NodeID(appID),
		PremisesName:  "Cedar House",
		PremisesEmail: "premises@example.org",
		AreaEmail:     "area@example.org",
		Adhoc:         adhoc,
		Period:        p,
		ArrivedAt:     arrived,
		CreatedAt:     date(2025, time.January, 5),
	}
	require.NoError(t, s.SaveBooking(context.Background(), b))
	return b
}

func buildTree(t *testing.T, s withdrawal.Store, appID string) *withdrawal.Tree {
	t.Helper()
	tree, err := withdrawal.BuildTree(context.Background(), s, withdrawal.NodeID(appID))
	require.NoError(t, err)
	return tree
}

// =============================================================================
// TREE ASSEMBLY TESTS
// =============================================================================

func TestBuildTree_UnknownApplication_NotFound(t *testing.T) {
	mem := store.NewMemory()

	_, err := withdrawal.BuildTree(context.Background(), mem, "nope")

	require.Error(t, err)
	assert.True(t, withdrawal.IsNotFound(err))
}

func TestBuildTree_FullShape(t *testing.T) {
	// GIVEN: application with assessment, a direct match request with a linked
	//        booking, and a request for placement with one nested match request
	// WHEN: building the tree
	// THEN: all six nodes are discoverable and the shape matches

	mem := store.NewMemory()
	seedApplication(t, mem, "app-1")
	seedAssessment(t, mem, "assess-1", "app-1", false, false)
	seedBooking(t, mem, "booking-direct", "app-1", withdrawal.AdhocFalse, nil, period(2025, time.March, 1, 28))
	seedMatch(t, mem, "match-direct", "app-1", "", "booking-direct", period(2025, time.March, 1, 28))
	seedRFP(t, mem, "rfp-1", "app-1", period(2025, time.June, 1, 14))
	seedMatch(t, mem, "match-nested", "app-1", "rfp-1", "", period(2025, time.June, 1, 14))

	tree := buildTree(t, mem, "app-1")

	assert.Equal(t, withdrawal.NodeID("app-1"), tree.Root.ID)
	for _, id := range []string{"app-1", "assess-1", "match-direct", "booking-direct", "rfp-1", "match-nested"} {
		_, ok := tree.Lookup(withdrawal.NodeID(id))
		assert.True(t, ok, "expected %s in tree", id)
	}

	direct, _ := tree.Lookup("match-direct")
	require.Len(t, direct.Edges, 1)
	assert.Equal(t, withdrawal.EdgeTree, direct.Edges[0].Kind)
	assert.Equal(t, withdrawal.NodeID("booking-direct"), direct.Edges[0].Child.ID)

	nested, _ := tree.Lookup("match-nested")
	assert.Equal(t, withdrawal.NodeID("rfp-1"), nested.Parent.ID)
}

func TestBuildTree_SupersededAndDraftExcluded(t *testing.T) {
	// GIVEN: a superseded assessment, a superseded match request, and an
	//        unsubmitted request for placement
	// WHEN: building the tree
	// THEN: none of them appear

	mem := store.NewMemory()
	ctx := context.Background()
	seedApplication(t, mem, "app-1")
	seedAssessment(t, mem, "assess-old", "app-1", false, true)

	m := seedMatch(t, mem, "match-old", "app-1", "", "", period(2025, time.March, 1, 7))
	m.Superseded = true
	require.NoError(t, mem.SaveMatchRequest(ctx, m))

	draft := seedRFP(t, mem, "rfp-draft", "app-1", period(2025, time.June, 1, 7))
	draft.Submitted = false
	require.NoError(t, mem.SaveRequestForPlacement(ctx, draft))

	tree := buildTree(t, mem, "app-1")

	for _, id := range []string{"assess-old", "match-old", "rfp-draft"} {
		_, ok := tree.Lookup(withdrawal.NodeID(id))
		assert.False(t, ok, "%s should be excluded", id)
	}
	assert.Empty(t, tree.Root.Edges)
}

func TestBuildTree_ExcludedParentChainTakesLinkedBooking(t *testing.T) {
	// GIVEN: one adhoc=false booking under a draft request for placement's
	//        nested match request, another under a superseded match request
	// WHEN: building the tree
	// THEN: both bookings vanish with their parent chains instead of
	//       resurfacing as standalone

	mem := store.NewMemory()
	ctx := context.Background()
	seedApplication(t, mem, "app-1")

	draft := seedRFP(t, mem, "rfp-draft", "app-1", period(2025, time.June, 1, 7))
	draft.Submitted = false
	require.NoError(t, mem.SaveRequestForPlacement(ctx, draft))
	seedBooking(t, mem, "booking-draft", "app-1", withdrawal.AdhocFalse, nil, period(2025, time.June, 1, 7))
	seedMatch(t, mem, "match-draft", "app-1", "rfp-draft", "booking-draft", period(2025, time.June, 1, 7))

	old := seedMatch(t, mem, "match-old", "app-1", "", "booking-old", period(2025, time.March, 1, 7))
	old.Superseded = true
	require.NoError(t, mem.SaveMatchRequest(ctx, old))
	seedBooking(t, mem, "booking-old", "app-1", withdrawal.AdhocFalse, nil, period(2025, time.March, 1, 7))

	tree := buildTree(t, mem, "app-1")

	for _, id := range []string{"rfp-draft", "match-draft", "booking-draft", "match-old", "booking-old"} {
		_, ok := tree.Lookup(withdrawal.NodeID(id))
		assert.False(t, ok, "%s should be excluded with its parent chain", id)
	}

	withdrawal.ComputeBlocking(tree)
	assert.Equal(t, []string{"app-1"},
		withdrawableIDs(withdrawal.Withdrawables(tree, allCaps())))
}

func TestBuildTree_AdhocBookingStandalone(t *testing.T) {
	// GIVEN: a match request whose linked booking is marked adhoc, plus a
	//        freestanding booking with an unknown marker
	// WHEN: building the tree
	// THEN: both bookings hang off the root on standalone edges, not under
	//       the match request

	mem := store.NewMemory()
	seedApplication(t, mem, "app-1")
	seedBooking(t, mem, "booking-adhoc", "app-1", withdrawal.AdhocTrue, nil, period(2025, time.March, 1, 7))
	seedMatch(t, mem, "match-1", "app-1", "", "booking-adhoc", period(2025, time.March, 1, 7))
	seedBooking(t, mem, "booking-unknown", "app-1", withdrawal.AdhocUnknown, nil, period(2025, time.April, 1, 7))

	tree := buildTree(t, mem, "app-1")

	match, _ := tree.Lookup("match-1")
	assert.Empty(t, match.Edges, "adhoc booking must not be a child of the match request")

	for _, id := range []string{"booking-adhoc", "booking-unknown"} {
		bn, ok := tree.Lookup(withdrawal.NodeID(id))
		require.True(t, ok, "%s should be discoverable", id)
		assert.Equal(t, tree.Root, bn.Parent)
	}

	standalone := 0
	for _, e := range tree.Root.Edges {
		if e.Kind == withdrawal.EdgeStandalone {
			standalone++
		}
	}
	assert.Equal(t, 2, standalone)
}

func TestBuildTree_DanglingBookingLink(t *testing.T) {
	// A match request whose BookingID points at a record that no longer exists
	// must not break assembly.

	mem := store.NewMemory()
	seedApplication(t, mem, "app-1")
	seedMatch(t, mem, "match-1", "app-1", "", "booking-gone", period(2025, time.March, 1, 7))

	tree := buildTree(t, mem, "app-1")

	match, ok := tree.Lookup("match-1")
	require.True(t, ok)
	assert.Empty(t, match.Edges)
}
