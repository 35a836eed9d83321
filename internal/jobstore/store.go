package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store persists job records in the workflow_job table. It is the single
// source of truth for job state; callers never cache records across calls.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectColumns = `id, workflow_id, workspace_id, state, description, created_at, stopped_at`

// Save inserts a new record. The record's CreatedAt is set if zero.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("job id is empty")
	}
	if rec.WorkflowID == "" {
		return fmt.Errorf("workflow id is empty")
	}
	if rec.WorkspaceID == "" {
		return fmt.Errorf("workspace id is empty")
	}
	if rec.State == "" {
		rec.State = StateRunning
	}
	if rec.Description == "" {
		rec.Description = Description
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO workflow_job(id, workflow_id, workspace_id, state, description, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, rec.ID, rec.WorkflowID, rec.WorkspaceID, rec.State, rec.Description, formatTime(rec.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save job %q: %w", rec.ID, ErrDuplicateKey)
		}
		return fmt.Errorf("save job %q: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for jobID or ErrJobNotFound.
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM workflow_job WHERE id = ?;`, jobID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %q: %w", jobID, err)
	}
	return rec, nil
}

// MarkStopped moves a RUNNING job to STOPPED. The update is conditional on the
// current state, so concurrent callers race safely: exactly one of them sees
// transitioned == true and the others are no-ops. Calling it on an already
// STOPPED job is not an error.
func (s *Store) MarkStopped(ctx context.Context, jobID string) (transitioned bool, err error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE workflow_job
SET state = ?, stopped_at = ?
WHERE id = ? AND state = ?;
`, StateStopped, formatTime(s.now()), jobID, StateRunning)
	if err != nil {
		return false, fmt.Errorf("mark job %q stopped: %w", jobID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark job %q stopped: %w", jobID, err)
	}
	if n > 0 {
		return true, nil
	}

	// Nothing changed: either already STOPPED or unknown id.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM workflow_job WHERE id = ?;`, jobID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark job %q stopped: %w", jobID, err)
	}
	return false, nil
}

// ListByState returns records in the given state, oldest first.
func (s *Store) ListByState(ctx context.Context, state State) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM workflow_job
WHERE state = ?
ORDER BY created_at ASC, rowid ASC;
`, state)
	if err != nil {
		return nil, fmt.Errorf("list jobs by state: %w", err)
	}
	return collect(rows)
}

// ListByWorkflow returns all records of a workflow, oldest first.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+selectColumns+`
FROM workflow_job
WHERE workflow_id = ?
ORDER BY created_at ASC, rowid ASC;
`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by workflow: %w", err)
	}
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec        Record
		stateS     string
		createdAtS string
		stoppedAtS sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.WorkflowID, &rec.WorkspaceID, &stateS, &rec.Description, &createdAtS, &stoppedAtS); err != nil {
		return nil, err
	}

	rec.State = State(stateS)
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		rec.CreatedAt = t
	}
	if stoppedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, stoppedAtS.String); err == nil {
			rec.StoppedAt = &t
		}
	}
	return &rec, nil
}

func collect(rows *sql.Rows) ([]*Record, error) {
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
