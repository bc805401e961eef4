package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// JobRow is the persisted form of a job-queue entry (§4.3). The job
// framework package owns interpretation of Config/State; storage only
// persists and retrieves the raw JSON blobs.
type JobRow struct {
	ID           int64
	UUID         string
	Name         string
	Target       string
	Status       string
	Phase        string
	Config       string
	State        string
	Processed    int64
	Total        int64
	ErrorMessage *string
	CreatedAt    int64
	UpdatedAt    int64
}

const jobColumns = `id, uuid, name, target, status, phase, config, state, processed, total, error_message, created_at, updated_at`

// InsertJob enforces the at-most-one-active-per-(name,target) policy via
// the partial unique index on (name, target) WHERE status IN
// ('queued','running','paused') (§4.3 point 1). A violation surfaces as a
// database constraint error for the caller to translate.
func (s *Store) InsertJob(ctx context.Context, j *JobRow) error {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (uuid, name, target, status, phase, config, state, processed, total, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		j.UUID, j.Name, j.Target, j.Status, j.Phase, j.Config, j.State, j.Processed, j.Total, j.ErrorMessage, j.CreatedAt, j.UpdatedAt)

	if err := row.Scan(&j.ID); err != nil {
		return fmt.Errorf("storage: insert job: %w", err)
	}

	return nil
}

// GetJobByUUID loads one job row.
func (s *Store) GetJobByUUID(ctx context.Context, uuid string) (*JobRow, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE uuid = ?`, uuid))
}

// ListResumableJobs returns every job in Running or Queued state — the
// set rehydrated and resumed on process start (§4.3 point 2).
func (s *Store) ListResumableJobs(ctx context.Context) ([]*JobRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status IN ('running', 'queued')`)
	if err != nil {
		return nil, fmt.Errorf("storage: list resumable jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListPausedJobs returns jobs parked in Paused state, which remain in the
// queue until explicitly resumed (§4.3 "Lifecycle states").
func (s *Store) ListPausedJobs(ctx context.Context) ([]*JobRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'paused'`)
	if err != nil {
		return nil, fmt.Errorf("storage: list paused jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// UpdateJobCheckpoint persists a state/progress checkpoint (§4.3 point 2).
func (s *Store) UpdateJobCheckpoint(ctx context.Context, uuid string, state string, processed, total, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, processed = ?, total = ?, updated_at = ? WHERE uuid = ?`,
		state, processed, total, now, uuid)
	if err != nil {
		return fmt.Errorf("storage: update job checkpoint: %w", err)
	}

	return nil
}

// UpdateJobStatus transitions a job's lifecycle state (§4.3 "Lifecycle states").
func (s *Store) UpdateJobStatus(ctx context.Context, uuid, status, phase string, errMsg *string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, phase = ?, error_message = ?, updated_at = ? WHERE uuid = ?`,
		status, phase, errMsg, now, uuid)
	if err != nil {
		return fmt.Errorf("storage: update job status: %w", err)
	}

	return nil
}

func scanJob(row interface{ Scan(...any) error }) (*JobRow, error) {
	var j JobRow
	if err := row.Scan(&j.ID, &j.UUID, &j.Name, &j.Target, &j.Status, &j.Phase, &j.Config, &j.State,
		&j.Processed, &j.Total, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}

	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*JobRow, error) {
	var out []*JobRow

	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan job row: %w", err)
		}

		out = append(out, j)
	}

	return out, rows.Err()
}
