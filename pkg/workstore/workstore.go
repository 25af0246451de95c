// Package workstore implements the transactional work-claiming subsystem:
// a table of WorkUnit rows ordered within named groups, a linearizable
// claim operation, and an append-only commit log, backed by
// modernc.org/sqlite (pure Go, no cgo). Ordering by (group_id, order),
// the compare-and-set claim, one-to-many commit records, and
// hierarchical spec-section lookups are all expressed directly in SQL.
package workstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Status is one of the four lifecycle states of a WorkUnit.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Errors surfaced at the boundary, per the error taxonomy: work contention
// is expected and non-fatal, while file-access violation is a programming
// error that fails the tick.
var (
	ErrWorkNotFound           = errors.New("workstore: work unit not found")
	ErrFileAccessViolation    = errors.New("workstore: file access outside assigned capability")
	ErrInvalidTransition      = errors.New("workstore: invalid status transition")
	ErrCommitWithoutOwnership = errors.New("workstore: commit rejected, work not held by caller")
)

// WorkUnit is a claimable unit of implementation work.
type WorkUnit struct {
	WorkID           string
	PriorityNumber   int
	GroupID          string
	Order            int
	SpecID           string
	ScopeDescription string
	AssignedFiles    []string
	Status           Status
	ClaimedBy        string
	ClaimedAt        sql.NullTime
	StartedAt        sql.NullTime
	CompletedAt      sql.NullTime
	CreatedAt        time.Time
}

// CommitRecord is one append-only commit attributed to a WorkUnit.
type CommitRecord struct {
	ID           int64
	WorkID       string
	CommitSHA    string
	Message      string
	CommittedAt  time.Time
	ReviewedBy   string
	ReviewStatus string
	ReviewNotes  string
}

// Store is a SQLite-backed WorkStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the work store at path and ensures
// its schema exists. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("workstore: open: %w", err)
	}
	// WorkUnit claims must be linearizable; serialize writers rather than
	// risk SQLITE_BUSY races between connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS works (
	work_id            TEXT PRIMARY KEY,
	priority_number    INTEGER NOT NULL,
	group_id           TEXT NOT NULL,
	order_num          INTEGER NOT NULL,
	spec_id            TEXT NOT NULL,
	scope_description  TEXT NOT NULL DEFAULT '',
	assigned_files     TEXT NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL DEFAULT 'pending',
	claimed_by         TEXT,
	claimed_at         DATETIME,
	started_at         DATETIME,
	completed_at       DATETIME,
	created_at         DATETIME NOT NULL,
	UNIQUE(group_id, order_num)
);

CREATE INDEX IF NOT EXISTS idx_works_priority ON works(priority_number, order_num);
CREATE INDEX IF NOT EXISTS idx_works_group ON works(group_id, order_num);

CREATE TABLE IF NOT EXISTS commits (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	work_id        TEXT NOT NULL,
	commit_sha     TEXT NOT NULL,
	message        TEXT NOT NULL,
	committed_at   DATETIME NOT NULL,
	reviewed_by    TEXT,
	review_status  TEXT,
	review_notes   TEXT
);

CREATE INDEX IF NOT EXISTS idx_commits_work ON commits(work_id);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("workstore: migrate: %w", err)
	}
	return nil
}

// Create inserts a new pending WorkUnit, used by the `work apply` command
// when it loads a WorkGroup manifest.
func (s *Store) Create(ctx context.Context, w WorkUnit) error {
	files, err := json.Marshal(w.AssignedFiles)
	if err != nil {
		return fmt.Errorf("workstore: marshal assigned_files: %w", err)
	}
	if w.Status == "" {
		w.Status = StatusPending
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO works (work_id, priority_number, group_id, order_num, spec_id, scope_description, assigned_files, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.WorkID, w.PriorityNumber, w.GroupID, w.Order, w.SpecID, w.ScopeDescription, string(files), w.Status, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("workstore: create: %w", err)
	}
	return nil
}

// NextWorkForPriority returns the lowest-order pending unit in the given
// priority whose group precondition is satisfied: every unit of smaller
// order in the same group must already be completed. If an earlier unit
// in the same group is still pending or in_progress, it returns
// (nil, nil); the caller must wait, not error.
func (s *Store) NextWorkForPriority(ctx context.Context, priorityNumber int) (*WorkUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT work_id, priority_number, group_id, order_num, spec_id, scope_description, assigned_files, status, claimed_by, claimed_at, started_at, completed_at, created_at
		FROM works
		WHERE priority_number = ?
		ORDER BY order_num ASC`, priorityNumber)
	if err != nil {
		return nil, fmt.Errorf("workstore: query priority: %w", err)
	}
	defer rows.Close()

	blocked := make(map[string]bool) // group_id -> an earlier unit is not yet completed
	for rows.Next() {
		w, err := scanWorkUnit(rows)
		if err != nil {
			return nil, err
		}
		if blocked[w.GroupID] {
			continue
		}
		if w.Status == StatusPending && w.ClaimedBy == "" {
			return &w, nil
		}
		if w.Status != StatusCompleted {
			blocked[w.GroupID] = true
		}
	}
	return nil, rows.Err()
}

// Claim attempts to atomically transition work_id from pending/unclaimed
// to in_progress/claimant. It returns (true, nil) only if this call won
// the race; (false, nil) means another claimant got there first or the
// ordering precondition no longer holds; both are expected, non-fatal
// outcomes (work contention).
func (s *Store) Claim(ctx context.Context, workID, claimant string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("workstore: begin: %w", err)
	}
	defer tx.Rollback()

	var groupID string
	var order int
	var status Status
	err = tx.QueryRowContext(ctx, `SELECT group_id, order_num, status FROM works WHERE work_id = ?`, workID).
		Scan(&groupID, &order, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrWorkNotFound, workID)
	}
	if err != nil {
		return false, fmt.Errorf("workstore: claim lookup: %w", err)
	}
	if status != StatusPending {
		return false, nil
	}

	var blockingCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM works
		WHERE group_id = ? AND order_num < ? AND status != ?`, groupID, order, StatusCompleted).
		Scan(&blockingCount)
	if err != nil {
		return false, fmt.Errorf("workstore: claim precondition: %w", err)
	}
	if blockingCount > 0 {
		return false, nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE works SET status = ?, claimed_by = ?, claimed_at = ?
		WHERE work_id = ? AND status = ? AND claimed_by IS NULL`,
		StatusInProgress, claimant, time.Now(), workID, StatusPending)
	if err != nil {
		return false, fmt.Errorf("workstore: claim update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("workstore: claim rows affected: %w", err)
	}
	if n != 1 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("workstore: claim commit: %w", err)
	}
	return true, nil
}

// Get fetches a WorkUnit by id.
func (s *Store) Get(ctx context.Context, workID string) (*WorkUnit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT work_id, priority_number, group_id, order_num, spec_id, scope_description, assigned_files, status, claimed_by, claimed_at, started_at, completed_at, created_at
		FROM works WHERE work_id = ?`, workID)
	w, err := scanWorkUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrWorkNotFound, workID)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ValidateFileAccess checks that path is within work's exclusive
// write capability. Returns ErrFileAccessViolation if not; callers must
// treat that as fatal for the current tick.
func ValidateFileAccess(work *WorkUnit, path string) error {
	if work == nil {
		// No work held: callers operating outside the work-claiming
		// subsystem are not capability-restricted.
		return nil
	}
	for _, assigned := range work.AssignedFiles {
		if path == assigned || strings.HasSuffix(path, assigned) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in %v", ErrFileAccessViolation, path, work.AssignedFiles)
}

// UpdateStatus transitions work to newStatus, stamping the matching
// timestamp. errMsg is recorded (via review_notes on the most recent
// commit, if any) only on a failed transition.
func (s *Store) UpdateStatus(ctx context.Context, workID string, newStatus Status, errMsg string) error {
	if newStatus != StatusInProgress && newStatus != StatusCompleted && newStatus != StatusFailed {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, newStatus)
	}

	var query string
	var args []any
	switch newStatus {
	case StatusInProgress:
		query = `UPDATE works SET status = ?, started_at = ? WHERE work_id = ?`
		args = []any{newStatus, time.Now(), workID}
	case StatusCompleted:
		query = `UPDATE works SET status = ?, completed_at = ? WHERE work_id = ?`
		args = []any{newStatus, time.Now(), workID}
	case StatusFailed:
		query = `UPDATE works SET status = ?, completed_at = ? WHERE work_id = ?`
		args = []any{newStatus, time.Now(), workID}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("workstore: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workstore: update status rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrWorkNotFound, workID)
	}
	if newStatus == StatusFailed && errMsg != "" {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE commits SET review_notes = ?
			WHERE id = (SELECT MAX(id) FROM commits WHERE work_id = ?)`, errMsg, workID); err != nil {
			return fmt.Errorf("workstore: record failure note: %w", err)
		}
	}
	return nil
}

// RecordCommit appends a CommitRecord for workID. Multiple commits per
// work unit are allowed. Commits are rejected for work not currently
// in_progress under holder, matching the "commits for a work unit not
// currently held by the caller are rejected" invariant.
func (s *Store) RecordCommit(ctx context.Context, workID, holder, sha, message string) (CommitRecord, error) {
	w, err := s.Get(ctx, workID)
	if err != nil {
		return CommitRecord{}, err
	}
	if w.Status != StatusInProgress || w.ClaimedBy != holder {
		return CommitRecord{}, fmt.Errorf("%w: work_id=%s holder=%s", ErrCommitWithoutOwnership, workID, holder)
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commits (work_id, commit_sha, message, committed_at)
		VALUES (?, ?, ?, ?)`, workID, sha, message, now)
	if err != nil {
		return CommitRecord{}, fmt.Errorf("workstore: record commit: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return CommitRecord{}, fmt.Errorf("workstore: record commit id: %w", err)
	}
	return CommitRecord{ID: id, WorkID: workID, CommitSHA: sha, Message: message, CommittedAt: now}, nil
}

// List returns every work unit ordered by (priority_number, group_id,
// order), for the inspection CLI.
func (s *Store) List(ctx context.Context) ([]WorkUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT work_id, priority_number, group_id, order_num, spec_id, scope_description, assigned_files, status, claimed_by, claimed_at, started_at, completed_at, created_at
		FROM works
		ORDER BY priority_number, group_id, order_num`)
	if err != nil {
		return nil, fmt.Errorf("workstore: list: %w", err)
	}
	defer rows.Close()

	var out []WorkUnit
	for rows.Next() {
		w, err := scanWorkUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// StatusCounts returns the number of work units currently in each
// status, used by the supervisor's metrics source.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM works GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("workstore: status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("workstore: scan status count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// Commits returns every CommitRecord for workID in insertion order.
func (s *Store) Commits(ctx context.Context, workID string) ([]CommitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, work_id, commit_sha, message, committed_at, COALESCE(reviewed_by,''), COALESCE(review_status,''), COALESCE(review_notes,'')
		FROM commits WHERE work_id = ? ORDER BY id ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("workstore: list commits: %w", err)
	}
	defer rows.Close()

	var out []CommitRecord
	for rows.Next() {
		var c CommitRecord
		if err := rows.Scan(&c.ID, &c.WorkID, &c.CommitSHA, &c.Message, &c.CommittedAt, &c.ReviewedBy, &c.ReviewStatus, &c.ReviewNotes); err != nil {
			return nil, fmt.Errorf("workstore: scan commit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkUnit(row rowScanner) (WorkUnit, error) {
	var w WorkUnit
	var filesJSON string
	var claimedBy sql.NullString
	if err := row.Scan(&w.WorkID, &w.PriorityNumber, &w.GroupID, &w.Order, &w.SpecID, &w.ScopeDescription,
		&filesJSON, &w.Status, &claimedBy, &w.ClaimedAt, &w.StartedAt, &w.CompletedAt, &w.CreatedAt); err != nil {
		return WorkUnit{}, err
	}
	w.ClaimedBy = claimedBy.String
	if err := json.Unmarshal([]byte(filesJSON), &w.AssignedFiles); err != nil {
		return WorkUnit{}, fmt.Errorf("workstore: unmarshal assigned_files: %w", err)
	}
	return w, nil
}
