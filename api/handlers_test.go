/*
handlers_test.go - HTTP-level tests for the withdrawal API

Tests for:
- Capability header handling (403 without capabilities)
- Withdrawable listing
- Withdrawal execution and error mapping
- Scenario loading
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harbor/placement-engine/store/sqlite"
	"github.com/harbor/placement-engine/withdrawal"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	h := NewHandler(store, withdrawal.NewLogNotifier(log), log)
	return h, NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, caps string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if caps != "" {
		req.Header.Set("X-Capabilities", caps)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

const allCapsHeader = "manage-application,manage-bookings,manage-requests-for-placement"

// =============================================================================
// CAPABILITY HANDLING
// =============================================================================

func TestGetWithdrawables_NoCapabilities_Forbidden(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/applications/app-1/withdrawables", nil, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "forbidden", resp.Code)
}

func TestPostWithdrawal_NoCapabilities_Forbidden(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/api/applications/app-1/withdrawals",
		WithdrawRequest{NodeID: "app-1", Reason: "r"}, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// WITHDRAWABLES
// =============================================================================

func TestGetWithdrawables_UnknownApplication_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/applications/ghost/withdrawables", nil, allCapsHeader)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notFound", resp.Code)
}

func TestGetWithdrawables_SimpleApplication(t *testing.T) {
	// GIVEN: the simple demo scenario
	// WHEN: listing withdrawables with all capabilities
	// THEN: the application, its original match request and the request for
	//       placement are offered; the nested match request is not

	_, router := newTestServer(t)
	loadScenario(t, router, "simple-application")

	rec := doJSON(t, router, http.MethodGet, "/api/applications/app-simple/withdrawables", nil, allCapsHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ws []WithdrawableDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))

	ids := map[string]string{}
	for _, w := range ws {
		ids[w.ID] = w.Type
	}
	assert.Equal(t, "application", ids["app-simple"])
	assert.Equal(t, "matchRequest", ids["match-original"])
	assert.Equal(t, "requestForPlacement", ids["rfp-1"])
	assert.NotContains(t, ids, "match-rfp-1")
}

func TestGetWithdrawables_CapabilityScoped(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "simple-application")

	rec := doJSON(t, router, http.MethodGet, "/api/applications/app-simple/withdrawables", nil, "manage-application")
	require.Equal(t, http.StatusOK, rec.Code)

	var ws []WithdrawableDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	require.Len(t, ws, 1)
	assert.Equal(t, "app-simple", ws[0].ID)
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func TestPostWithdrawal_Application_Cascades(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "simple-application")

	rec := doJSON(t, router, http.MethodPost, "/api/applications/app-simple/withdrawals",
		WithdrawRequest{NodeID: "app-simple", Type: "application", Reason: "no-longer-needs-placement"},
		allCapsHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report CascadeReportDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "app-simple", report.ApplicationID)

	reasons := map[string]string{}
	for _, tr := range report.Transitions {
		reasons[tr.ID] = tr.Reason
	}
	assert.Equal(t, "no-longer-needs-placement", reasons["app-simple"])
	assert.Equal(t, "related-application-withdrawn", reasons["rfp-1"])
	assert.Equal(t, "related-application-withdrawn", reasons["match-original"])

	// The application is gone from the withdrawable list afterwards.
	rec = doJSON(t, router, http.MethodGet, "/api/applications/app-simple/withdrawables", nil, allCapsHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var ws []WithdrawableDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ws))
	assert.Empty(t, ws)
}

func TestPostWithdrawal_ArrivedApplication_Blocked(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "arrived-application")

	rec := doJSON(t, router, http.MethodPost, "/api/applications/app-arrived/withdrawals",
		WithdrawRequest{NodeID: "app-arrived", Type: "application", Reason: "made-in-error"}, allCapsHeader)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "blocked", resp.Code)
	assert.Contains(t, resp.Detail, "booking-arrived")
}

func TestPostWithdrawal_ArrivedBranch_RFPSucceeds(t *testing.T) {
	// Withdrawing the request for placement skips the occupied branch.

	_, router := newTestServer(t)
	loadScenario(t, router, "arrived-branch")

	rec := doJSON(t, router, http.MethodPost, "/api/applications/app-arrived-branch/withdrawals",
		WithdrawRequest{NodeID: "rfp-two-branches", Type: "requestForPlacement", Reason: "duplicate-placement-request"}, allCapsHeader)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report CascadeReportDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	ids := map[string]bool{}
	for _, tr := range report.Transitions {
		ids[tr.ID] = true
	}
	assert.True(t, ids["rfp-two-branches"])
	assert.True(t, ids["match-open"])
	assert.True(t, ids["booking-open"])
	assert.False(t, ids["match-occupied"])
	assert.False(t, ids["booking-occupied"])
}

func TestPostWithdrawal_MissingCapability_NotWithdrawable(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "simple-application")

	rec := doJSON(t, router, http.MethodPost, "/api/applications/app-simple/withdrawals",
		WithdrawRequest{NodeID: "app-simple", Type: "application", Reason: "r"}, "manage-bookings")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "notWithdrawable", resp.Code)
}

func TestPostWithdrawal_Validation(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "simple-application")

	cases := []struct {
		name string
		req  WithdrawRequest
	}{
		{"missing node id", WithdrawRequest{Type: "application", Reason: "r"}},
		{"missing type", WithdrawRequest{NodeID: "app-simple", Reason: "r"}},
		{"missing reason", WithdrawRequest{NodeID: "app-simple", Type: "application"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/applications/app-simple/withdrawals", tc.req, allCapsHeader)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid", resp.Code)
		})
	}
}

func TestPostWithdrawal_UnknownNode_NotFound(t *testing.T) {
	_, router := newTestServer(t)
	loadScenario(t, router, "simple-application")

	rec := doJSON(t, router, http.MethodPost, "/api/applications/app-simple/withdrawals",
		WithdrawRequest{NodeID: "ghost", Type: "application", Reason: "r"}, allCapsHeader)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapabilitiesFromRequest_ParsesCommaList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Capabilities", " manage-application , manage-bookings,,third-party ")

	caps := capabilitiesFromRequest(req)

	assert.True(t, caps.Has(withdrawal.CapManageApplication))
	assert.True(t, caps.Has(withdrawal.CapManageBookings))
	assert.True(t, caps.Has(withdrawal.CapThirdParty))
	assert.Len(t, caps, 3)
}
