/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built application trees that populate the database with
	realistic data for testing and demos. Each scenario exercises a specific
	corner of the withdrawal engine.

AVAILABLE SCENARIOS:

	simple-application:  Application + original match request + accepted
	                     request for placement, nothing blocked
	arrived-branch:      Request for placement with two branches, one of
	                     which has a booking with a recorded arrival
	arrived-application: Application whose only booking has an arrival,
	                     so the application itself cannot be withdrawn
	adhoc-booking:       Request for placement whose nominal booking is
	                     adhoc and must survive the cascade
	full-case:           Everything at once: assessment, original dates,
	                     two requests for placement, adhoc booking

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Seed the JSON tree definition through the factory

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "arrived-branch"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/tree.go: Tree JSON schema
*/
package api

import (
	"encoding/json"
	"net/http"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:            "simple-application",
		Name:          "Simple Application",
		Description:   "Original match request plus an accepted request for placement, all withdrawable",
		ApplicationID: "app-simple",
	},
	{
		ID:            "arrived-branch",
		Name:          "Arrived Branch",
		Description:   "Two placement branches, one occupied; cascade must skip the arrived branch",
		ApplicationID: "app-arrived-branch",
	},
	{
		ID:            "arrived-application",
		Name:          "Arrived Application",
		Description:   "Person has arrived; the application itself is no longer withdrawable",
		ApplicationID: "app-arrived",
	},
	{
		ID:            "adhoc-booking",
		Name:          "Adhoc Booking",
		Description:   "Nominally linked booking marked adhoc; the cascade must leave it standing",
		ApplicationID: "app-adhoc",
	},
	{
		ID:            "full-case",
		Name:          "Full Case",
		Description:   "Assessment, original dates, two requests for placement, adhoc booking",
		ApplicationID: "app-full",
	},
}

var scenarioTrees = map[string]string{
	"simple-application": `{
		"application": {
			"id": "app-simple",
			"applicant_id": "user-amara",
			"applicant_email": "amara@example.org",
			"case_manager_email": "case.manager@example.org"
		},
		"assessment": {"allocated_to_email": "assessor@example.org"},
		"match_requests": [
			{"id": "match-original", "start": "2025-03-01", "duration_days": 28, "area_email": "area@example.org"}
		],
		"requests_for_placement": [
			{"id": "rfp-1", "decision": "accepted", "allocated_to_email": "worker@example.org",
			 "periods": [{"match_request_id": "match-rfp-1", "start": "2025-06-01", "duration_days": 14}]}
		]
	}`,

	"arrived-branch": `{
		"application": {
			"id": "app-arrived-branch",
			"applicant_id": "user-bela",
			"applicant_email": "bela@example.org"
		},
		"requests_for_placement": [
			{"id": "rfp-two-branches", "decision": "accepted",
			 "periods": [
				{"match_request_id": "match-occupied", "start": "2025-04-01", "duration_days": 21,
				 "booking": {"id": "booking-occupied", "adhoc": "false",
				             "premises_email": "occupied.premises@example.org",
				             "arrived": "2025-04-01T14:00:00Z"}},
				{"match_request_id": "match-open", "start": "2025-07-01", "duration_days": 21,
				 "booking": {"id": "booking-open", "adhoc": "false",
				             "premises_email": "open.premises@example.org"}}
			 ]}
		]
	}`,

	"arrived-application": `{
		"application": {
			"id": "app-arrived",
			"applicant_id": "user-cato",
			"applicant_email": "cato@example.org"
		},
		"match_requests": [
			{"id": "match-arrived", "start": "2025-02-01", "duration_days": 56,
			 "booking": {"id": "booking-arrived", "adhoc": "false",
			             "premises_email": "premises@example.org",
			             "arrived": "2025-02-01T11:30:00Z"}}
		]
	}`,

	"adhoc-booking": `{
		"application": {
			"id": "app-adhoc",
			"applicant_id": "user-dena",
			"applicant_email": "dena@example.org"
		},
		"requests_for_placement": [
			{"id": "rfp-adhoc", "decision": "accepted",
			 "periods": [
				{"match_request_id": "match-adhoc", "start": "2025-05-01", "duration_days": 14,
				 "booking": {"id": "booking-adhoc", "adhoc": "true",
				             "premises_email": "premises@example.org"}}
			 ]}
		]
	}`,

	"full-case": `{
		"application": {
			"id": "app-full",
			"applicant_id": "user-esra",
			"applicant_email": "esra@example.org",
			"case_manager_email": "case.manager@example.org"
		},
		"assessment": {"allocated_to_email": "assessor@example.org"},
		"match_requests": [
			{"id": "match-full-original", "start": "2025-03-01", "duration_days": 28,
			 "area_email": "area@example.org",
			 "booking": {"id": "booking-full-original", "adhoc": "false",
			             "premises_name": "Cedar House", "premises_email": "cedar@example.org"}}
		],
		"requests_for_placement": [
			{"id": "rfp-full-1", "decision": "accepted",
			 "periods": [{"match_request_id": "match-full-1", "start": "2025-06-01", "duration_days": 14}]},
			{"id": "rfp-full-2", "decision": "",
			 "periods": [{"match_request_id": "match-full-2", "start": "2025-09-01", "duration_days": 14}]}
		],
		"adhoc_bookings": [
			{"id": "booking-full-adhoc", "start": "2025-02-01", "duration_days": 7,
			 "premises_name": "Elm Lodge", "premises_email": "elm@example.org"}
		]
	}`,
}

// =============================================================================
// SCENARIO HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and seeds the requested scenario tree.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "Invalid request body", err)
		return
	}

	tree, ok := scenarioTrees[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to reset database", err)
		return
	}
	if _, err := h.TreeFactory.Seed(ctx, h.Store, tree); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "Failed to seed scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	for _, s := range scenarios {
		if s.ID == req.ScenarioID {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}
