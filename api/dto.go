/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - withdrawal/visibility.go: Withdrawable, the domain type behind WithdrawableDTO
*/
package api

import (
	"github.com/harbor/placement-engine/withdrawal"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// WithdrawableDTO is one node the caller may withdraw directly.
type WithdrawableDTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	DatePeriods []DatePeriodDTO `json:"datePeriods"`
}

// DatePeriodDTO is an inclusive start/end date span.
type DatePeriodDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WithdrawRequest is the request to withdraw a node and cascade. All three
// fields are required; the type guards against id/type mismatches.
type WithdrawRequest struct {
	NodeID string `json:"node_id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// CascadeReportDTO reports what a withdrawal actually transitioned.
type CascadeReportDTO struct {
	ApplicationID string          `json:"application_id"`
	RootID        string          `json:"root_id"`
	Transitions   []TransitionDTO `json:"transitions"`
}

// TransitionDTO is one node's state change within a cascade.
type TransitionDTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Reason      string          `json:"reason"`
	DatePeriods []DatePeriodDTO `json:"datePeriods,omitempty"`
}

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ApplicationID string `json:"application_id"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the JSON error envelope. Code is machine-readable:
// notFound, notWithdrawable, blocked, conflict, forbidden, invalid, internal.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPeriodDTOs(periods []withdrawal.DatePeriod) []DatePeriodDTO {
	out := make([]DatePeriodDTO, len(periods))
	for i, p := range periods {
		out[i] = DatePeriodDTO{
			Start: p.Start.Format("2006-01-02"),
			End:   p.End.Format("2006-01-02"),
		}
	}
	return out
}

func toWithdrawableDTOs(ws []withdrawal.Withdrawable) []WithdrawableDTO {
	out := make([]WithdrawableDTO, len(ws))
	for i, w := range ws {
		out[i] = WithdrawableDTO{
			ID:          string(w.ID),
			Type:        string(w.Kind),
			DatePeriods: toPeriodDTOs(w.Periods),
		}
	}
	return out
}

func toCascadeReportDTO(r *withdrawal.CascadeReport) CascadeReportDTO {
	dto := CascadeReportDTO{
		ApplicationID: string(r.ApplicationID),
		RootID:        string(r.RootID),
		Transitions:   []TransitionDTO{},
	}
	for _, tr := range r.Transitions {
		dto.Transitions = append(dto.Transitions, TransitionDTO{
			ID:          string(tr.NodeID),
			Type:        string(tr.Kind),
			Reason:      tr.Reason,
			DatePeriods: toPeriodDTOs(tr.Periods),
		})
	}
	return dto
}
