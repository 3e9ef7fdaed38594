// Package store provides an in-memory Store implementation (tests/dev).
package store

import (
	"context"
	"sync"

	"github.com/harbor/placement-engine/withdrawal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation of withdrawal.TxStore
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	applications  map[withdrawal.NodeID]*withdrawal.Application
	assessments   map[withdrawal.NodeID]*withdrawal.Assessment
	rfps          map[withdrawal.NodeID]*withdrawal.RequestForPlacement
	matchRequests map[withdrawal.NodeID]*withdrawal.MatchRequest
	bookings      map[withdrawal.NodeID]*withdrawal.Booking

	// Insertion order per kind so List* results are deterministic.
	assessmentOrder   []withdrawal.NodeID
	rfpOrder          []withdrawal.NodeID
	matchRequestOrder []withdrawal.NodeID
	bookingOrder      []withdrawal.NodeID
}

func NewMemory() *Memory {
	return &Memory{
		applications:  make(map[withdrawal.NodeID]*withdrawal.Application),
		assessments:   make(map[withdrawal.NodeID]*withdrawal.Assessment),
		rfps:          make(map[withdrawal.NodeID]*withdrawal.RequestForPlacement),
		matchRequests: make(map[withdrawal.NodeID]*withdrawal.MatchRequest),
		bookings:      make(map[withdrawal.NodeID]*withdrawal.Booking),
	}
}

// =============================================================================
// READS
// =============================================================================

func (m *Memory) GetApplication(_ context.Context, id withdrawal.NodeID) (*withdrawal.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getApplicationLocked(id)
}

func (m *Memory) getApplicationLocked(id withdrawal.NodeID) (*withdrawal.Application, error) {
	app, ok := m.applications[id]
	if !ok {
		return nil, nil
	}
	return cloneApplication(app), nil
}

func (m *Memory) ListAssessments(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAssessmentsLocked(appID)
}

func (m *Memory) listAssessmentsLocked(appID withdrawal.NodeID) ([]*withdrawal.Assessment, error) {
	var out []*withdrawal.Assessment
	for _, id := range m.assessmentOrder {
		if a := m.assessments[id]; a.ApplicationID == appID {
			out = append(out, cloneAssessment(a))
		}
	}
	return out, nil
}

func (m *Memory) ListRequestsForPlacement(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.RequestForPlacement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRFPsLocked(appID)
}

func (m *Memory) listRFPsLocked(appID withdrawal.NodeID) ([]*withdrawal.RequestForPlacement, error) {
	var out []*withdrawal.RequestForPlacement
	for _, id := range m.rfpOrder {
		if r := m.rfps[id]; r.ApplicationID == appID {
			out = append(out, cloneRFP(r))
		}
	}
	return out, nil
}

func (m *Memory) ListMatchRequests(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.MatchRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMatchRequestsLocked(appID)
}

func (m *Memory) listMatchRequestsLocked(appID withdrawal.NodeID) ([]*withdrawal.MatchRequest, error) {
	var out []*withdrawal.MatchRequest
	for _, id := range m.matchRequestOrder {
		if mr := m.matchRequests[id]; mr.ApplicationID == appID {
			out = append(out, cloneMatchRequest(mr))
		}
	}
	return out, nil
}

func (m *Memory) ListBookings(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBookingsLocked(appID)
}

func (m *Memory) listBookingsLocked(appID withdrawal.NodeID) ([]*withdrawal.Booking, error) {
	var out []*withdrawal.Booking
	for _, id := range m.bookingOrder {
		if b := m.bookings[id]; b.ApplicationID == appID {
			out = append(out, cloneBooking(b))
		}
	}
	return out, nil
}

// =============================================================================
// WITHDRAWAL-STATE WRITES (optimistic, versioned)
// =============================================================================

func (m *Memory) WithdrawApplication(_ context.Context, id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withdrawApplicationLocked(id, reason, expected)
}

func (m *Memory) withdrawApplicationLocked(id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	app, ok := m.applications[id]
	if !ok {
		return withdrawal.ErrNotFound
	}
	if app.Version != expected {
		return &withdrawal.ConflictError{NodeID: id, Kind: withdrawal.KindApplication, ExpectedVersion: expected}
	}
	app.Withdrawn = true
	app.WithdrawalReason = reason
	app.Version++
	return nil
}

func (m *Memory) WithdrawAssessment(_ context.Context, id withdrawal.NodeID, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withdrawAssessmentLocked(id, expected)
}

func (m *Memory) withdrawAssessmentLocked(id withdrawal.NodeID, expected int64) error {
	a, ok := m.assessments[id]
	if !ok {
		return withdrawal.ErrNotFound
	}
	if a.Version != expected {
		return &withdrawal.ConflictError{NodeID: id, Kind: withdrawal.KindAssessment, ExpectedVersion: expected}
	}
	a.Withdrawn = true
	a.Version++
	return nil
}

func (m *Memory) RecordDecision(_ context.Context, id withdrawal.NodeID, decision withdrawal.Decision, reason withdrawal.Reason, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordDecisionLocked(id, decision, reason, expected)
}

func (m *Memory) recordDecisionLocked(id withdrawal.NodeID, decision withdrawal.Decision, reason withdrawal.Reason, expected int64) error {
	r, ok := m.rfps[id]
	if !ok {
		return withdrawal.ErrNotFound
	}
	if r.Version != expected {
		return &withdrawal.ConflictError{NodeID: id, Kind: withdrawal.KindRequestForPlacement, ExpectedVersion: expected}
	}
	r.Decision = decision
	r.DecisionReason = reason
	r.Version++
	return nil
}

func (m *Memory) WithdrawMatchRequest(_ context.Context, id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withdrawMatchRequestLocked(id, reason, expected)
}

func (m *Memory) withdrawMatchRequestLocked(id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	mr, ok := m.matchRequests[id]
	if !ok {
		return withdrawal.ErrNotFound
	}
	if mr.Version != expected {
		return &withdrawal.ConflictError{NodeID: id, Kind: withdrawal.KindMatchRequest, ExpectedVersion: expected}
	}
	mr.Withdrawn = true
	mr.WithdrawalReason = reason
	mr.Version++
	return nil
}

func (m *Memory) CancelBooking(_ context.Context, id withdrawal.NodeID, reason string, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelBookingLocked(id, reason, expected)
}

func (m *Memory) cancelBookingLocked(id withdrawal.NodeID, reason string, expected int64) error {
	b, ok := m.bookings[id]
	if !ok {
		return withdrawal.ErrNotFound
	}
	if b.Version != expected {
		return &withdrawal.ConflictError{NodeID: id, Kind: withdrawal.KindBooking, ExpectedVersion: expected}
	}
	b.Cancelled = true
	b.CancellationReason = reason
	b.Version++
	return nil
}

// =============================================================================
// RECORD CREATION (fixtures, seeding)
// =============================================================================

func (m *Memory) SaveApplication(_ context.Context, app *withdrawal.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveApplicationLocked(app)
}

func (m *Memory) saveApplicationLocked(app *withdrawal.Application) error {
	m.applications[app.ID] = cloneApplication(app)
	return nil
}

func (m *Memory) SaveAssessment(_ context.Context, a *withdrawal.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAssessmentLocked(a)
}

func (m *Memory) saveAssessmentLocked(a *withdrawal.Assessment) error {
	if _, exists := m.assessments[a.ID]; !exists {
		m.assessmentOrder = append(m.assessmentOrder, a.ID)
	}
	m.assessments[a.ID] = cloneAssessment(a)
	return nil
}

func (m *Memory) SaveRequestForPlacement(_ context.Context, r *withdrawal.RequestForPlacement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveRFPLocked(r)
}

func (m *Memory) saveRFPLocked(r *withdrawal.RequestForPlacement) error {
	if _, exists := m.rfps[r.ID]; !exists {
		m.rfpOrder = append(m.rfpOrder, r.ID)
	}
	m.rfps[r.ID] = cloneRFP(r)
	return nil
}

func (m *Memory) SaveMatchRequest(_ context.Context, mr *withdrawal.MatchRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveMatchRequestLocked(mr)
}

func (m *Memory) saveMatchRequestLocked(mr *withdrawal.MatchRequest) error {
	if _, exists := m.matchRequests[mr.ID]; !exists {
		m.matchRequestOrder = append(m.matchRequestOrder, mr.ID)
	}
	m.matchRequests[mr.ID] = cloneMatchRequest(mr)
	return nil
}

func (m *Memory) SaveBooking(_ context.Context, b *withdrawal.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveBookingLocked(b)
}

func (m *Memory) saveBookingLocked(b *withdrawal.Booking) error {
	if _, exists := m.bookings[b.ID]; !exists {
		m.bookingOrder = append(m.bookingOrder, b.ID)
	}
	m.bookings[b.ID] = cloneBooking(b)
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx executes fn against a transactional view. For the memory store this
// is simulated with a snapshot restored on error.
func (m *Memory) WithTx(_ context.Context, fn func(withdrawal.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	applications  map[withdrawal.NodeID]*withdrawal.Application
	assessments   map[withdrawal.NodeID]*withdrawal.Assessment
	rfps          map[withdrawal.NodeID]*withdrawal.RequestForPlacement
	matchRequests map[withdrawal.NodeID]*withdrawal.MatchRequest
	bookings      map[withdrawal.NodeID]*withdrawal.Booking

	assessmentOrder   []withdrawal.NodeID
	rfpOrder          []withdrawal.NodeID
	matchRequestOrder []withdrawal.NodeID
	bookingOrder      []withdrawal.NodeID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		applications:  make(map[withdrawal.NodeID]*withdrawal.Application, len(m.applications)),
		assessments:   make(map[withdrawal.NodeID]*withdrawal.Assessment, len(m.assessments)),
		rfps:          make(map[withdrawal.NodeID]*withdrawal.RequestForPlacement, len(m.rfps)),
		matchRequests: make(map[withdrawal.NodeID]*withdrawal.MatchRequest, len(m.matchRequests)),
		bookings:      make(map[withdrawal.NodeID]*withdrawal.Booking, len(m.bookings)),

		assessmentOrder:   append([]withdrawal.NodeID{}, m.assessmentOrder...),
		rfpOrder:          append([]withdrawal.NodeID{}, m.rfpOrder...),
		matchRequestOrder: append([]withdrawal.NodeID{}, m.matchRequestOrder...),
		bookingOrder:      append([]withdrawal.NodeID{}, m.bookingOrder...),
	}
	for id, v := range m.applications {
		s.applications[id] = cloneApplication(v)
	}
	for id, v := range m.assessments {
		s.assessments[id] = cloneAssessment(v)
	}
	for id, v := range m.rfps {
		s.rfps[id] = cloneRFP(v)
	}
	for id, v := range m.matchRequests {
		s.matchRequests[id] = cloneMatchRequest(v)
	}
	for id, v := range m.bookings {
		s.bookings[id] = cloneBooking(v)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.applications = s.applications
	m.assessments = s.assessments
	m.rfps = s.rfps
	m.matchRequests = s.matchRequests
	m.bookings = s.bookings

	m.assessmentOrder = s.assessmentOrder
	m.rfpOrder = s.rfpOrder
	m.matchRequestOrder = s.matchRequestOrder
	m.bookingOrder = s.bookingOrder
}

// txView routes Store calls to the parent's unlocked internals; WithTx holds
// the lock for the duration.
type txView struct {
	parent *Memory
}

func (tv *txView) GetApplication(_ context.Context, id withdrawal.NodeID) (*withdrawal.Application, error) {
	return tv.parent.getApplicationLocked(id)
}

func (tv *txView) ListAssessments(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.Assessment, error) {
	return tv.parent.listAssessmentsLocked(appID)
}

func (tv *txView) ListRequestsForPlacement(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.RequestForPlacement, error) {
	return tv.parent.listRFPsLocked(appID)
}

func (tv *txView) ListMatchRequests(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.MatchRequest, error) {
	return tv.parent.listMatchRequestsLocked(appID)
}

func (tv *txView) ListBookings(_ context.Context, appID withdrawal.NodeID) ([]*withdrawal.Booking, error) {
	return tv.parent.listBookingsLocked(appID)
}

func (tv *txView) WithdrawApplication(_ context.Context, id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	return tv.parent.withdrawApplicationLocked(id, reason, expected)
}

func (tv *txView) WithdrawAssessment(_ context.Context, id withdrawal.NodeID, expected int64) error {
	return tv.parent.withdrawAssessmentLocked(id, expected)
}

func (tv *txView) RecordDecision(_ context.Context, id withdrawal.NodeID, decision withdrawal.Decision, reason withdrawal.Reason, expected int64) error {
	return tv.parent.recordDecisionLocked(id, decision, reason, expected)
}

func (tv *txView) WithdrawMatchRequest(_ context.Context, id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	return tv.parent.withdrawMatchRequestLocked(id, reason, expected)
}

func (tv *txView) CancelBooking(_ context.Context, id withdrawal.NodeID, reason string, expected int64) error {
	return tv.parent.cancelBookingLocked(id, reason, expected)
}

func (tv *txView) SaveApplication(_ context.Context, app *withdrawal.Application) error {
	return tv.parent.saveApplicationLocked(app)
}

func (tv *txView) SaveAssessment(_ context.Context, a *withdrawal.Assessment) error {
	return tv.parent.saveAssessmentLocked(a)
}

func (tv *txView) SaveRequestForPlacement(_ context.Context, r *withdrawal.RequestForPlacement) error {
	return tv.parent.saveRFPLocked(r)
}

func (tv *txView) SaveMatchRequest(_ context.Context, mr *withdrawal.MatchRequest) error {
	return tv.parent.saveMatchRequestLocked(mr)
}

func (tv *txView) SaveBooking(_ context.Context, b *withdrawal.Booking) error {
	return tv.parent.saveBookingLocked(b)
}

// =============================================================================
// CLONING - Callers never share memory with the store
// =============================================================================

func cloneApplication(a *withdrawal.Application) *withdrawal.Application {
	c := *a
	return &c
}

func cloneAssessment(a *withdrawal.Assessment) *withdrawal.Assessment {
	c := *a
	return &c
}

func cloneRFP(r *withdrawal.RequestForPlacement) *withdrawal.RequestForPlacement {
	c := *r
	c.Periods = append([]withdrawal.DatePeriod{}, r.Periods...)
	return &c
}

func cloneMatchRequest(m *withdrawal.MatchRequest) *withdrawal.MatchRequest {
	c := *m
	return &c
}

func cloneBooking(b *withdrawal.Booking) *withdrawal.Booking {
	c := *b
	if b.ArrivedAt != nil {
		t := *b.ArrivedAt
		c.ArrivedAt = &t
	}
	return &c
}
