/*
handlers.go - HTTP API handlers for the withdrawal engine

PURPOSE:
  Exposes the withdrawal engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  GET  /api/applications/{id}/withdrawables  List withdrawable nodes
  POST /api/applications/{id}/withdrawals    Withdraw a node (cascades)

  Scenarios (dev/demo):
  GET  /api/scenarios                        List demo scenarios
  POST /api/scenarios/load                   Load a demo scenario

CAPABILITIES:
  Authentication and role resolution are an upstream concern. Handlers read
  the resolved capability set from:
    X-Capabilities: manage-application,manage-bookings,...
    X-Acting-User:  opaque actor id, used for logging only
  A request with no capabilities at all is rejected with 403 before touching
  the engine.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: NotWithdrawable, Blocked, invalid input
  - 403: Empty capability set
  - 404: Unknown application or node
  - 409: Concurrent modification conflict
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/harbor/placement-engine/factory"
	"github.com/harbor/placement-engine/store/sqlite"
	"github.com/harbor/placement-engine/withdrawal"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Engine      *withdrawal.Engine
	TreeFactory *factory.TreeFactory
	Log         logrus.FieldLogger

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler backed by the given store and notifier.
func NewHandler(store *sqlite.Store, notifier withdrawal.Notifier, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:       store,
		Engine:      withdrawal.NewEngine(store, notifier, log),
		TreeFactory: factory.NewTreeFactory(),
		Log:         log,
	}
}

// =============================================================================
// WITHDRAWABLE HANDLERS
// =============================================================================

// GetWithdrawables returns the nodes the caller may withdraw directly.
func (h *Handler) GetWithdrawables(w http.ResponseWriter, r *http.Request) {
	appID := withdrawal.NodeID(chi.URLParam(r, "id"))
	caps := capabilitiesFromRequest(r)
	if len(caps) == 0 {
		writeError(w, http.StatusForbidden, "forbidden", "No capabilities resolved for caller", nil)
		return
	}

	withdrawables, err := h.Engine.Withdrawables(r.Context(), appID, caps)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toWithdrawableDTOs(withdrawables))
}

// PostWithdrawal executes a withdrawal cascade rooted at the requested node.
func (h *Handler) PostWithdrawal(w http.ResponseWriter, r *http.Request) {
	appID := withdrawal.NodeID(chi.URLParam(r, "id"))
	caps := capabilitiesFromRequest(r)
	if len(caps) == 0 {
		writeError(w, http.StatusForbidden, "forbidden", "No capabilities resolved for caller", nil)
		return
	}

	var req WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", "Invalid request body", err)
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "invalid", "node_id is required", nil)
		return
	}
	// Requiring the type keeps the engine's id/type mismatch guard in force.
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "invalid", "type is required", nil)
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "invalid", "reason is required", nil)
		return
	}

	report, err := h.Engine.Withdraw(r.Context(), appID,
		withdrawal.NodeID(req.NodeID), withdrawal.Kind(req.Type), withdrawal.Reason(req.Reason), caps)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"application_id": appID,
		"node_id":        req.NodeID,
		"actor":          r.Header.Get("X-Acting-User"),
		"transitions":    len(report.Transitions),
	}).Info("withdrawal executed")

	writeJSON(w, http.StatusOK, toCascadeReportDTO(report))
}

// =============================================================================
// CAPABILITY RESOLUTION
// =============================================================================

// capabilitiesFromRequest reads the externally-resolved capability set.
func capabilitiesFromRequest(r *http.Request) withdrawal.CapabilitySet {
	raw := r.Header.Get("X-Capabilities")
	if raw == "" {
		return nil
	}
	caps := withdrawal.CapabilitySet{}
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps[withdrawal.Capability(c)] = true
		}
	}
	return caps
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case withdrawal.IsNotFound(err):
		writeError(w, http.StatusNotFound, "notFound", "Record not found", err)
	case withdrawal.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", "Record changed concurrently, retry", err)
	case withdrawal.IsClientError(err):
		code := "notWithdrawable"
		if withdrawal.IsBlocked(err) {
			code = "blocked"
		}
		writeError(w, http.StatusBadRequest, code, "Withdrawal not possible", err)
	default:
		h.Log.WithError(err).Error("withdrawal engine failure")
		writeError(w, http.StatusInternalServerError, "internal", "Internal error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Code: code, Message: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
