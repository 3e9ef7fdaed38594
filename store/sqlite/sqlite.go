/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements withdrawal.TxStore using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  applications:            Tree roots with withdrawal state
  assessments:             Suitability reviews (superseded rows kept)
  requests_for_placement:  Requested date-periods (JSON column) + decision
  match_requests:          Single-period requests, direct or nested
  bookings:                Concrete placements with adhoc marker and arrival

OPTIMISTIC VERSIONING:
  Every table carries a version column. Withdrawal-state updates run as
  UPDATE ... WHERE id = ? AND version = ?; zero rows affected means either
  the row is gone (ErrNotFound) or a concurrent writer won (ConflictError).
  The first terminal-state write wins, later writers are rejected.

TRANSACTIONS:
  WithTx hands the callback a view of the store bound to one sql.Tx. The
  cascade executor's whole read-then-mutate-many sequence runs inside it, so
  a conflict anywhere rolls back every mutation of the cascade.

WAL MODE:
  SQLite is opened with WAL and foreign keys on, matching how the service
  runs in dev and demo environments.

USAGE:
  store, err := sqlite.New("./data/placements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - withdrawal/store.go: Interface definitions
  - withdrawal/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harbor/placement-engine/withdrawal"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements withdrawal.TxStore using SQLite.
type Store struct {
	db *sql.DB
	q  querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite serializes writers anyway, and :memory: databases
	// are per-connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		applicant_id TEXT NOT NULL,
		applicant_email TEXT NOT NULL,
		case_manager_email TEXT NOT NULL DEFAULT '',
		withdrawn INTEGER NOT NULL DEFAULT 0,
		withdrawal_reason TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL REFERENCES applications(id),
		allocated_to_id TEXT NOT NULL,
		allocated_to_email TEXT NOT NULL,
		submitted INTEGER NOT NULL DEFAULT 0,
		superseded INTEGER NOT NULL DEFAULT 0,
		withdrawn INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_assessments_application ON assessments(application_id);

	CREATE TABLE IF NOT EXISTS requests_for_placement (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL REFERENCES applications(id),
		allocated_to_email TEXT NOT NULL DEFAULT '',
		decision TEXT NOT NULL DEFAULT '',
		decision_reason TEXT NOT NULL DEFAULT '',
		periods TEXT NOT NULL DEFAULT '[]',
		submitted INTEGER NOT NULL DEFAULT 0,
		superseded INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rfp_application ON requests_for_placement(application_id);

	CREATE TABLE IF NOT EXISTS match_requests (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL REFERENCES applications(id),
		request_for_placement_id TEXT NOT NULL DEFAULT '',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		booking_id TEXT NOT NULL DEFAULT '',
		area_email TEXT NOT NULL DEFAULT '',
		withdrawn INTEGER NOT NULL DEFAULT 0,
		withdrawal_reason TEXT NOT NULL DEFAULT '',
		superseded INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_match_requests_application ON match_requests(application_id);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL REFERENCES applications(id),
		premises_name TEXT NOT NULL DEFAULT '',
		premises_email TEXT NOT NULL DEFAULT '',
		area_email TEXT NOT NULL DEFAULT '',
		adhoc TEXT NOT NULL DEFAULT 'unknown',
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		cancelled INTEGER NOT NULL DEFAULT 0,
		cancellation_reason TEXT NOT NULL DEFAULT '',
		arrived_at TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_application ON bookings(application_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a view of the store bound to one transaction.
func (s *Store) WithTx(ctx context.Context, fn func(withdrawal.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	view := &Store{db: s.db, q: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Reset clears all tables. Used by the demo scenario loader only.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"bookings", "match_requests", "requests_for_placement", "assessments", "applications"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Store) GetApplication(ctx context.Context, id withdrawal.NodeID) (*withdrawal.Application, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, applicant_id, applicant_email, case_manager_email,
		       withdrawn, withdrawal_reason, version, created_at
		FROM applications WHERE id = ?`, string(id))

	var app withdrawal.Application
	var withdrawn int
	var createdAt string
	err := row.Scan(&app.ID, &app.ApplicantID, &app.ApplicantEmail, &app.CaseManagerEmail,
		&withdrawn, &app.WithdrawalReason, &app.Version, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}
	app.Withdrawn = withdrawn != 0
	app.CreatedAt = parseTime(createdAt)
	return &app, nil
}

func (s *Store) ListAssessments(ctx context.Context, appID withdrawal.NodeID) ([]*withdrawal.Assessment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, application_id, allocated_to_id, allocated_to_email,
		       submitted, superseded, withdrawn, version, created_at
		FROM assessments WHERE application_id = ? ORDER BY created_at, id`, string(appID))
	if err != nil {
		return nil, fmt.Errorf("query assessments: %w", err)
	}
	defer rows.Close()

	var out []*withdrawal.Assessment
	for rows.Next() {
		var a withdrawal.Assessment
		var submitted, superseded, withdrawn int
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ApplicationID, &a.AllocatedToID, &a.AllocatedToEmail,
			&submitted, &superseded, &withdrawn, &a.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		a.Submitted = submitted != 0
		a.Superseded = superseded != 0
		a.Withdrawn = withdrawn != 0
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) ListRequestsForPlacement(ctx context.Context, appID withdrawal.NodeID) ([]*withdrawal.RequestForPlacement, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, application_id, allocated_to_email, decision, decision_reason,
		       periods, submitted, superseded, version, created_at
		FROM requests_for_placement WHERE application_id = ? ORDER BY created_at, id`, string(appID))
	if err != nil {
		return nil, fmt.Errorf("query requests for placement: %w", err)
	}
	defer rows.Close()

	var out []*withdrawal.RequestForPlacement
	for rows.Next() {
		var r withdrawal.RequestForPlacement
		var periods string
		var submitted, superseded int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.AllocatedToEmail, &r.Decision, &r.DecisionReason,
			&periods, &submitted, &superseded, &r.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request for placement: %w", err)
		}
		r.Periods, err = decodePeriods(periods)
		if err != nil {
			return nil, fmt.Errorf("decode periods for %s: %w", r.ID, err)
		}
		r.Submitted = submitted != 0
		r.Superseded = superseded != 0
		r.CreatedAt = parseTime(createdAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) ListMatchRequests(ctx context.Context, appID withdrawal.NodeID) ([]*withdrawal.MatchRequest, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, application_id, request_for_placement_id, start_date, end_date,
		       booking_id, area_email, withdrawn, withdrawal_reason, superseded, version, created_at
		FROM match_requests WHERE application_id = ? ORDER BY created_at, id`, string(appID))
	if err != nil {
		return nil, fmt.Errorf("query match requests: %w", err)
	}
	defer rows.Close()

	var out []*withdrawal.MatchRequest
	for rows.Next() {
		var m withdrawal.MatchRequest
		var start, end string
		var withdrawn, superseded int
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ApplicationID, &m.RequestForPlacementID, &start, &end,
			&m.BookingID, &m.AreaEmail, &withdrawn, &m.WithdrawalReason, &superseded, &m.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan match request: %w", err)
		}
		m.Period = withdrawal.DatePeriod{Start: parseDate(start), End: parseDate(end)}
		m.Withdrawn = withdrawn != 0
		m.Superseded = superseded != 0
		m.CreatedAt = parseTime(createdAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) ListBookings(ctx context.Context, appID withdrawal.NodeID) ([]*withdrawal.Booking, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, application_id, premises_name, premises_email, area_email, adhoc,
		       start_date, end_date, cancelled, cancellation_reason, arrived_at, version, created_at
		FROM bookings WHERE application_id = ? ORDER BY created_at, id`, string(appID))
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var out []*withdrawal.Booking
	for rows.Next() {
		var b withdrawal.Booking
		var start, end string
		var cancelled int
		var arrivedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&b.ID, &b.ApplicationID, &b.PremisesName, &b.PremisesEmail, &b.AreaEmail, &b.Adhoc,
			&start, &end, &cancelled, &b.CancellationReason, &arrivedAt, &b.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		b.Period = withdrawal.DatePeriod{Start: parseDate(start), End: parseDate(end)}
		b.Cancelled = cancelled != 0
		if arrivedAt.Valid {
			t := parseTime(arrivedAt.String)
			b.ArrivedAt = &t
		}
		b.CreatedAt = parseTime(createdAt)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// =============================================================================
// WITHDRAWAL-STATE WRITES (optimistic, versioned)
// =============================================================================

func (s *Store) WithdrawApplication(ctx context.Context, id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE applications SET withdrawn = 1, withdrawal_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`, string(reason), string(id), expected)
	return s.checkVersionedWrite(ctx, res, err, "applications", id, withdrawal.KindApplication, expected)
}

func (s *Store) WithdrawAssessment(ctx context.Context, id withdrawal.NodeID, expected int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE assessments SET withdrawn = 1, version = version + 1
		WHERE id = ? AND version = ?`, string(id), expected)
	return s.checkVersionedWrite(ctx, res, err, "assessments", id, withdrawal.KindAssessment, expected)
}

func (s *Store) RecordDecision(ctx context.Context, id withdrawal.NodeID, decision withdrawal.Decision, reason withdrawal.Reason, expected int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE requests_for_placement SET decision = ?, decision_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`, string(decision), string(reason), string(id), expected)
	return s.checkVersionedWrite(ctx, res, err, "requests_for_placement", id, withdrawal.KindRequestForPlacement, expected)
}

func (s *Store) WithdrawMatchRequest(ctx context.Context, id withdrawal.NodeID, reason withdrawal.Reason, expected int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE match_requests SET withdrawn = 1, withdrawal_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`, string(reason), string(id), expected)
	return s.checkVersionedWrite(ctx, res, err, "match_requests", id, withdrawal.KindMatchRequest, expected)
}

func (s *Store) CancelBooking(ctx context.Context, id withdrawal.NodeID, reason string, expected int64) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE bookings SET cancelled = 1, cancellation_reason = ?, version = version + 1
		WHERE id = ? AND version = ?`, reason, string(id), expected)
	return s.checkVersionedWrite(ctx, res, err, "bookings", id, withdrawal.KindBooking, expected)
}

// checkVersionedWrite distinguishes a lost version race from a missing row.
func (s *Store) checkVersionedWrite(ctx context.Context, res sql.Result, err error, table string, id withdrawal.NodeID, kind withdrawal.Kind, expected int64) error {
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s %s: %w", table, id, err)
	}
	if affected > 0 {
		return nil
	}

	var exists int
	row := s.q.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+table+" WHERE id = ?", string(id))
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("check %s %s: %w", table, id, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s %s: %w", table, id, withdrawal.ErrNotFound)
	}
	return &withdrawal.ConflictError{NodeID: id, Kind: kind, ExpectedVersion: expected}
}

// =============================================================================
// RECORD CREATION (fixtures, seeding)
// =============================================================================

func (s *Store) SaveApplication(ctx context.Context, app *withdrawal.Application) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO applications
		(id, applicant_id, applicant_email, case_manager_email, withdrawn, withdrawal_reason, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(app.ID), string(app.ApplicantID), app.ApplicantEmail, app.CaseManagerEmail,
		boolInt(app.Withdrawn), string(app.WithdrawalReason), app.Version, formatTime(app.CreatedAt))
	if err != nil {
		return fmt.Errorf("save application %s: %w", app.ID, err)
	}
	return nil
}

func (s *Store) SaveAssessment(ctx context.Context, a *withdrawal.Assessment) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO assessments
		(id, application_id, allocated_to_id, allocated_to_email, submitted, superseded, withdrawn, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(a.ID), string(a.ApplicationID), string(a.AllocatedToID), a.AllocatedToEmail,
		boolInt(a.Submitted), boolInt(a.Superseded), boolInt(a.Withdrawn), a.Version, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("save assessment %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) SaveRequestForPlacement(ctx context.Context, r *withdrawal.RequestForPlacement) error {
	periods, err := encodePeriods(r.Periods)
	if err != nil {
		return fmt.Errorf("encode periods for %s: %w", r.ID, err)
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO requests_for_placement
		(id, application_id, allocated_to_email, decision, decision_reason, periods, submitted, superseded, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.ApplicationID), r.AllocatedToEmail, string(r.Decision), string(r.DecisionReason),
		periods, boolInt(r.Submitted), boolInt(r.Superseded), r.Version, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("save request for placement %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) SaveMatchRequest(ctx context.Context, m *withdrawal.MatchRequest) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO match_requests
		(id, application_id, request_for_placement_id, start_date, end_date, booking_id, area_email,
		 withdrawn, withdrawal_reason, superseded, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(m.ID), string(m.ApplicationID), string(m.RequestForPlacementID),
		formatDate(m.Period.Start), formatDate(m.Period.End), string(m.BookingID), m.AreaEmail,
		boolInt(m.Withdrawn), string(m.WithdrawalReason), boolInt(m.Superseded), m.Version, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("save match request %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) SaveBooking(ctx context.Context, b *withdrawal.Booking) error {
	var arrivedAt any
	if b.ArrivedAt != nil {
		arrivedAt = formatTime(*b.ArrivedAt)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO bookings
		(id, application_id, premises_name, premises_email, area_email, adhoc, start_date, end_date,
		 cancelled, cancellation_reason, arrived_at, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.ApplicationID), b.PremisesName, b.PremisesEmail, b.AreaEmail, string(b.Adhoc),
		formatDate(b.Period.Start), formatDate(b.Period.End),
		boolInt(b.Cancelled), b.CancellationReason, arrivedAt, b.Version, formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save booking %s: %w", b.ID, err)
	}
	return nil
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

type periodRow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func encodePeriods(periods []withdrawal.DatePeriod) (string, error) {
	rows := make([]periodRow, len(periods))
	for i, p := range periods {
		rows[i] = periodRow{Start: formatDate(p.Start), End: formatDate(p.End)}
	}
	b, err := json.Marshal(rows)
	return string(b), err
}

func decodePeriods(raw string) ([]withdrawal.DatePeriod, error) {
	var rows []periodRow
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, err
	}
	out := make([]withdrawal.DatePeriod, len(rows))
	for i, r := range rows {
		out[i] = withdrawal.DatePeriod{Start: parseDate(r.Start), End: parseDate(r.End)}
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatDate(t time.Time) string { return t.Format("2006-01-02") }
func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseDate(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
