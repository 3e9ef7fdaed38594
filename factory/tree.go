/*
Package factory provides JSON to Go application-tree conversion.

PURPOSE:
  Converts JSON tree definitions into the five record kinds and persists them
  through the Store. This enables demo scenarios, seed data, and test fixtures
  to be described declaratively - a whole application tree in one document -
  without hand-assembling records in code.

JSON SCHEMA:
  {
    "application": {
      "id": "app-1",
      "applicant_id": "user-1",
      "applicant_email": "applicant@example.org",
      "case_manager_email": "cm@example.org"
    },
    "assessment": {"allocated_to_email": "assessor@example.org", "submitted": false},
    "match_requests": [
      {"id": "match-1", "start": "2025-03-01", "duration_days": 28,
       "booking": {"premises_email": "premises@example.org", "adhoc": "false"}}
    ],
    "requests_for_placement": [
      {"id": "rfp-1", "decision": "accepted",
       "periods": [{"start": "2025-06-01", "duration_days": 14}]}
    ],
    "adhoc_bookings": [
      {"start": "2025-02-01", "duration_days": 7}
    ]
  }

KEY FEATURES:
  - Generates UUIDs for any record without an explicit id
  - Each request-for-placement period spawns its nested match request
  - Bookings inherit contact defaults so fan-out always has recipients
  - "arrived": a booking timestamp marking physical arrival (blocks withdrawal)

USAGE:
  f := factory.NewTreeFactory()
  fixture, err := f.Parse(jsonString)
  err = f.Seed(ctx, store, jsonString)

SEE ALSO:
  - api/scenarios.go: Demo scenarios described with this schema
  - withdrawal/tree.go: How the persisted records are assembled into a tree
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harbor/placement-engine/withdrawal"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// TreeJSON is the JSON representation of one application tree.
type TreeJSON struct {
	Application          ApplicationJSON           `json:"application"`
	Assessment           *AssessmentJSON           `json:"assessment,omitempty"`
	MatchRequests        []MatchRequestJSON        `json:"match_requests,omitempty"`
	RequestsForPlacement []RequestForPlacementJSON `json:"requests_for_placement,omitempty"`
	AdhocBookings        []BookingJSON             `json:"adhoc_bookings,omitempty"`
}

type ApplicationJSON struct {
	ID               string `json:"id,omitempty"`
	ApplicantID      string `json:"applicant_id"`
	ApplicantEmail   string `json:"applicant_email"`
	CaseManagerEmail string `json:"case_manager_email,omitempty"`
}

type AssessmentJSON struct {
	ID               string `json:"id,omitempty"`
	AllocatedToID    string `json:"allocated_to_id,omitempty"`
	AllocatedToEmail string `json:"allocated_to_email"`
	Submitted        bool   `json:"submitted,omitempty"`
	Superseded       bool   `json:"superseded,omitempty"`
}

type MatchRequestJSON struct {
	ID         string       `json:"id,omitempty"`
	Start      string       `json:"start"`
	Duration   int          `json:"duration_days"`
	AreaEmail  string       `json:"area_email,omitempty"`
	Withdrawn  bool         `json:"withdrawn,omitempty"`
	Superseded bool         `json:"superseded,omitempty"`
	Booking    *BookingJSON `json:"booking,omitempty"`
}

type RequestForPlacementJSON struct {
	ID               string       `json:"id,omitempty"`
	AllocatedToEmail string       `json:"allocated_to_email,omitempty"`
	Decision         string       `json:"decision,omitempty"`
	Submitted        *bool        `json:"submitted,omitempty"` // default true
	Superseded       bool         `json:"superseded,omitempty"`
	Periods          []PeriodJSON `json:"periods"`
}

// PeriodJSON is one requested date-period; the nested match request and its
// optional booking are described inline.
type PeriodJSON struct {
	MatchRequestID string       `json:"match_request_id,omitempty"`
	Start          string       `json:"start"`
	Duration       int          `json:"duration_days"`
	AreaEmail      string       `json:"area_email,omitempty"`
	Booking        *BookingJSON `json:"booking,omitempty"`
}

type BookingJSON struct {
	ID            string `json:"id,omitempty"`
	PremisesName  string `json:"premises_name,omitempty"`
	PremisesEmail string `json:"premises_email,omitempty"`
	AreaEmail     string `json:"area_email,omitempty"`
	Adhoc         string `json:"adhoc,omitempty"` // "true" | "false" | "unknown"
	Start         string `json:"start,omitempty"` // defaults to the parent period
	Duration      int    `json:"duration_days,omitempty"`
	Cancelled     bool   `json:"cancelled,omitempty"`
	Arrived       string `json:"arrived,omitempty"` // RFC3339 arrival timestamp
}

// =============================================================================
// FIXTURE - Parsed records ready to persist
// =============================================================================

// Fixture holds the records described by one TreeJSON document.
type Fixture struct {
	Application          *withdrawal.Application
	Assessments          []*withdrawal.Assessment
	RequestsForPlacement []*withdrawal.RequestForPlacement
	MatchRequests        []*withdrawal.MatchRequest
	Bookings             []*withdrawal.Booking
}

// =============================================================================
// TREE FACTORY
// =============================================================================

type TreeFactory struct {
	// Now is stubbed in tests for deterministic CreatedAt ordering.
	Now func() time.Time
}

func NewTreeFactory() *TreeFactory {
	return &TreeFactory{Now: time.Now}
}

// Parse converts a JSON tree definition into a Fixture.
func (f *TreeFactory) Parse(jsonStr string) (*Fixture, error) {
	var doc TreeJSON
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("invalid tree JSON: %w", err)
	}
	if doc.Application.ApplicantEmail == "" {
		return nil, fmt.Errorf("application.applicant_email is required")
	}

	b := &fixtureBuilder{at: f.Now().UTC()}
	return b.build(&doc)
}

// Seed parses a JSON tree definition and persists every record.
func (f *TreeFactory) Seed(ctx context.Context, s withdrawal.Store, jsonStr string) (*Fixture, error) {
	fixture, err := f.Parse(jsonStr)
	if err != nil {
		return nil, err
	}
	if err := fixture.Save(ctx, s); err != nil {
		return nil, err
	}
	return fixture, nil
}

// Save persists the fixture's records in dependency order.
func (fx *Fixture) Save(ctx context.Context, s withdrawal.Store) error {
	if err := s.SaveApplication(ctx, fx.Application); err != nil {
		return err
	}
	for _, a := range fx.Assessments {
		if err := s.SaveAssessment(ctx, a); err != nil {
			return err
		}
	}
	for _, r := range fx.RequestsForPlacement {
		if err := s.SaveRequestForPlacement(ctx, r); err != nil {
			return err
		}
	}
	for _, b := range fx.Bookings {
		if err := s.SaveBooking(ctx, b); err != nil {
			return err
		}
	}
	for _, m := range fx.MatchRequests {
		if err := s.SaveMatchRequest(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// BUILDING
// =============================================================================

type fixtureBuilder struct {
	at  time.Time
	seq int
}

// next spaces CreatedAt stamps so list ordering matches document order.
func (b *fixtureBuilder) next() time.Time {
	b.seq++
	return b.at.Add(time.Duration(b.seq) * time.Millisecond)
}

func (b *fixtureBuilder) build(doc *TreeJSON) (*Fixture, error) {
	appID := withdrawal.NodeID(orUUID(doc.Application.ID))
	fx := &Fixture{
		Application: &withdrawal.Application{
			ID:               appID,
			ApplicantID:      withdrawal.UserID(doc.Application.ApplicantID),
			ApplicantEmail:   doc.Application.ApplicantEmail,
			CaseManagerEmail: doc.Application.CaseManagerEmail,
			CreatedAt:        b.next(),
		},
	}

	if doc.Assessment != nil {
		fx.Assessments = append(fx.Assessments, &withdrawal.Assessment{
			ID:               withdrawal.NodeID(orUUID(doc.Assessment.ID)),
			ApplicationID:    appID,
			AllocatedToID:    withdrawal.UserID(doc.Assessment.AllocatedToID),
			AllocatedToEmail: doc.Assessment.AllocatedToEmail,
			Submitted:        doc.Assessment.Submitted,
			Superseded:       doc.Assessment.Superseded,
			CreatedAt:        b.next(),
		})
	}

	for i, mj := range doc.MatchRequests {
		period, err := parsePeriod(mj.Start, mj.Duration)
		if err != nil {
			return nil, fmt.Errorf("match_requests[%d]: %w", i, err)
		}
		m := &withdrawal.MatchRequest{
			ID:            withdrawal.NodeID(orUUID(mj.ID)),
			ApplicationID: appID,
			Period:        period,
			AreaEmail:     mj.AreaEmail,
			Withdrawn:     mj.Withdrawn,
			Superseded:    mj.Superseded,
			CreatedAt:     b.next(),
		}
		if mj.Booking != nil {
			bk, err := b.booking(appID, mj.Booking, period)
			if err != nil {
				return nil, fmt.Errorf("match_requests[%d].booking: %w", i, err)
			}
			m.BookingID = bk.ID
			fx.Bookings = append(fx.Bookings, bk)
		}
		fx.MatchRequests = append(fx.MatchRequests, m)
	}

	for i, rj := range doc.RequestsForPlacement {
		if len(rj.Periods) == 0 {
			return nil, fmt.Errorf("requests_for_placement[%d]: at least one period required", i)
		}
		submitted := true
		if rj.Submitted != nil {
			submitted = *rj.Submitted
		}
		r := &withdrawal.RequestForPlacement{
			ID:               withdrawal.NodeID(orUUID(rj.ID)),
			ApplicationID:    appID,
			AllocatedToEmail: rj.AllocatedToEmail,
			Decision:         withdrawal.Decision(rj.Decision),
			Submitted:        submitted,
			Superseded:       rj.Superseded,
			CreatedAt:        b.next(),
		}
		for j, pj := range rj.Periods {
			period, err := parsePeriod(pj.Start, pj.Duration)
			if err != nil {
				return nil, fmt.Errorf("requests_for_placement[%d].periods[%d]: %w", i, j, err)
			}
			r.Periods = append(r.Periods, period)

			m := &withdrawal.MatchRequest{
				ID:                    withdrawal.NodeID(orUUID(pj.MatchRequestID)),
				ApplicationID:         appID,
				RequestForPlacementID: r.ID,
				Period:                period,
				AreaEmail:             pj.AreaEmail,
				CreatedAt:             b.next(),
			}
			if pj.Booking != nil {
				bk, err := b.booking(appID, pj.Booking, period)
				if err != nil {
					return nil, fmt.Errorf("requests_for_placement[%d].periods[%d].booking: %w", i, j, err)
				}
				m.BookingID = bk.ID
				fx.Bookings = append(fx.Bookings, bk)
			}
			fx.MatchRequests = append(fx.MatchRequests, m)
		}
		fx.RequestsForPlacement = append(fx.RequestsForPlacement, r)
	}

	for i, bj := range doc.AdhocBookings {
		period, err := parsePeriod(bj.Start, bj.Duration)
		if err != nil {
			return nil, fmt.Errorf("adhoc_bookings[%d]: %w", i, err)
		}
		adhoc := bj.Adhoc
		if adhoc == "" {
			adhoc = string(withdrawal.AdhocTrue)
		}
		bk, err := b.booking(appID, &bj, period)
		if err != nil {
			return nil, fmt.Errorf("adhoc_bookings[%d]: %w", i, err)
		}
		bk.Adhoc = withdrawal.AdhocMarker(adhoc)
		fx.Bookings = append(fx.Bookings, bk)
	}

	return fx, nil
}

func (b *fixtureBuilder) booking(appID withdrawal.NodeID, bj *BookingJSON, fallback withdrawal.DatePeriod) (*withdrawal.Booking, error) {
	period := fallback
	if bj.Start != "" {
		var err error
		period, err = parsePeriod(bj.Start, bj.Duration)
		if err != nil {
			return nil, err
		}
	}
	adhoc := withdrawal.AdhocUnknown
	if bj.Adhoc != "" {
		adhoc = withdrawal.AdhocMarker(bj.Adhoc)
	}
	bk := &withdrawal.Booking{
		ID:            withdrawal.NodeID(orUUID(bj.ID)),
		ApplicationID: appID,
		PremisesName:  bj.PremisesName,
		PremisesEmail: bj.PremisesEmail,
		AreaEmail:     bj.AreaEmail,
		Adhoc:         adhoc,
		Period:        period,
		Cancelled:     bj.Cancelled,
		CreatedAt:     b.next(),
	}
	if bj.Arrived != "" {
		t, err := time.Parse(time.RFC3339, bj.Arrived)
		if err != nil {
			return nil, fmt.Errorf("invalid arrived timestamp %q: %w", bj.Arrived, err)
		}
		bk.ArrivedAt = &t
	}
	return bk, nil
}

func parsePeriod(start string, durationDays int) (withdrawal.DatePeriod, error) {
	if durationDays <= 0 {
		return withdrawal.DatePeriod{}, fmt.Errorf("duration_days must be positive, got %d", durationDays)
	}
	t, err := time.Parse("2006-01-02", start)
	if err != nil {
		return withdrawal.DatePeriod{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	return withdrawal.NewDatePeriod(t, durationDays), nil
}

func orUUID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
