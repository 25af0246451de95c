package supervisor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bobain/overseer/pkg/types"
)

// RecordStore persists the supervisor's two append-only logs: crash
// reports and health records. Same embedded-SQLite engine as the work
// store, kept as a separate file so the supervisor never contends with
// code_developer claims for the writer slot.
type RecordStore struct {
	db *sql.DB
}

// OpenRecords opens (creating if necessary) the record store at path.
// path may be ":memory:" for tests.
func OpenRecords(path string) (*RecordStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("supervisor: open records: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &RecordStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *RecordStore) Close() error {
	return s.db.Close()
}

func (s *RecordStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS crash_reports (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	role           TEXT NOT NULL,
	process_id     INTEGER NOT NULL,
	task           TEXT NOT NULL DEFAULT '',
	crashed_at     DATETIME NOT NULL,
	error_kind     TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	stack          TEXT NOT NULL DEFAULT '',
	respawned      INTEGER NOT NULL DEFAULT 0,
	reported       INTEGER NOT NULL DEFAULT 0,
	report_id      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_crash_reports_role ON crash_reports(role, crashed_at);

CREATE TABLE IF NOT EXISTS health_records (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                     DATETIME NOT NULL,
	status                 TEXT NOT NULL,
	active_agents          INTEGER NOT NULL,
	crashed_agents         INTEGER NOT NULL,
	zombies                INTEGER NOT NULL,
	supervisor_responsive  INTEGER NOT NULL,
	last_tick_age_ms       INTEGER NOT NULL,
	actions_taken          TEXT NOT NULL DEFAULT '[]',
	reports_filed          TEXT NOT NULL DEFAULT '[]'
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("supervisor: migrate records: %w", err)
	}
	return nil
}

// AppendCrash appends a CrashReport and returns its id.
func (s *RecordStore) AppendCrash(ctx context.Context, r types.CrashReport) (int64, error) {
	if r.CrashedAt.IsZero() {
		r.CrashedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crash_reports (role, process_id, task, crashed_at, error_kind, error_message, stack, respawned, reported, report_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Role, r.ProcessID, r.Task, r.CrashedAt, r.ErrorKind, r.ErrorMessage, r.Stack, r.Respawned, r.Reported, r.ReportID)
	if err != nil {
		return 0, fmt.Errorf("supervisor: append crash: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("supervisor: append crash id: %w", err)
	}
	return id, nil
}

// AppendHealth appends a HealthRecord and returns its id.
func (s *RecordStore) AppendHealth(ctx context.Context, r types.HealthRecord) (int64, error) {
	if r.TS.IsZero() {
		r.TS = time.Now()
	}
	actions, err := json.Marshal(emptyIfNil(r.ActionsTaken))
	if err != nil {
		return 0, fmt.Errorf("supervisor: marshal actions: %w", err)
	}
	reports, err := json.Marshal(emptyIfNil(r.ReportsFiled))
	if err != nil {
		return 0, fmt.Errorf("supervisor: marshal reports: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO health_records (ts, status, active_agents, crashed_agents, zombies, supervisor_responsive, last_tick_age_ms, actions_taken, reports_filed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TS, r.Status, r.ActiveAgents, r.CrashedAgents, r.Zombies, r.SupervisorResponsive,
		r.LastTickAge.Milliseconds(), string(actions), string(reports))
	if err != nil {
		return 0, fmt.Errorf("supervisor: append health: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("supervisor: append health id: %w", err)
	}
	return id, nil
}

// Crashes returns the most recent crash reports, newest first, up to
// limit.
func (s *RecordStore) Crashes(ctx context.Context, limit int) ([]types.CrashReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, process_id, task, crashed_at, error_kind, error_message, stack, respawned, reported, report_id
		FROM crash_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("supervisor: list crashes: %w", err)
	}
	defer rows.Close()

	var out []types.CrashReport
	for rows.Next() {
		var r types.CrashReport
		if err := rows.Scan(&r.ID, &r.Role, &r.ProcessID, &r.Task, &r.CrashedAt, &r.ErrorKind,
			&r.ErrorMessage, &r.Stack, &r.Respawned, &r.Reported, &r.ReportID); err != nil {
			return nil, fmt.Errorf("supervisor: scan crash: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HealthHistory returns the most recent health records, newest first,
// up to limit.
func (s *RecordStore) HealthHistory(ctx context.Context, limit int) ([]types.HealthRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, status, active_agents, crashed_agents, zombies, supervisor_responsive, last_tick_age_ms, actions_taken, reports_filed
		FROM health_records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("supervisor: list health records: %w", err)
	}
	defer rows.Close()

	var out []types.HealthRecord
	for rows.Next() {
		var r types.HealthRecord
		var tickAgeMS int64
		var actions, reports string
		if err := rows.Scan(&r.ID, &r.TS, &r.Status, &r.ActiveAgents, &r.CrashedAgents, &r.Zombies,
			&r.SupervisorResponsive, &tickAgeMS, &actions, &reports); err != nil {
			return nil, fmt.Errorf("supervisor: scan health record: %w", err)
		}
		r.LastTickAge = time.Duration(tickAgeMS) * time.Millisecond
		if err := json.Unmarshal([]byte(actions), &r.ActionsTaken); err != nil {
			return nil, fmt.Errorf("supervisor: parse actions: %w", err)
		}
		if err := json.Unmarshal([]byte(reports), &r.ReportsFiled); err != nil {
			return nil, fmt.Errorf("supervisor: parse reports: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
