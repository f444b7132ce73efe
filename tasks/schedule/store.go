package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/basilisk-ti/basilisk/errors"
)

// Store handles persistence of scheduled jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, handler_name, payload, source,
	interval_seconds, next_run_at, last_run_at,
	last_execution_id, state, created_at, updated_at`

// CreateJob creates a new scheduled job
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO scheduled_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}
	lastExecutionID := sql.NullString{String: job.LastExecutionID, Valid: job.LastExecutionID != ""}

	_, err := s.db.Exec(query,
		job.ID,
		job.HandlerName,
		payload,
		job.Source,
		job.IntervalSeconds,
		job.NextRunAt,
		job.LastRunAt,
		lastExecutionID,
		job.State,
		now,
		now,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create scheduled job")
	}

	return nil
}

// GetJob retrieves a scheduled job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("scheduled job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get scheduled job")
	}
	return job, nil
}

// FindJobBySourceAndHandler returns the non-deleted scheduled job for the
// source/handler pair, or nil. Feed registration uses this to stay
// idempotent across daemon restarts.
func (s *Store) FindJobBySourceAndHandler(source, handlerName string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE source = ? AND handler_name = ? AND state != ?
		LIMIT 1`, source, handlerName, StateDeleted)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find scheduled job")
	}
	return job, nil
}

// ListJobsDue returns active scheduled jobs that are ready to run, oldest
// first. Limited to 100 jobs per batch to avoid flooding the worker pool.
func (s *Store) ListJobsDue(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE state = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT 100`, StateActive, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list due jobs")
	}
	defer rows.Close()

	return scanJobRows(rows)
}

// ListAllJobs returns all scheduled jobs except soft-deleted ones, newest
// first.
func (s *Store) ListAllJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE state != ?
		ORDER BY created_at DESC
		LIMIT 1000`, StateDeleted)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled jobs")
	}
	defer rows.Close()

	return scanJobRows(rows)
}

// UpdateJobState updates the state of a scheduled job
func (s *Store) UpdateJobState(jobID string, newState string) error {
	result, err := s.db.Exec(`
		UPDATE scheduled_jobs SET state = ?, updated_at = ? WHERE id = ?`,
		newState, time.Now().UTC(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to update scheduled job state")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled job %s", jobID)
	}

	return nil
}

// UpdateJobInterval updates the interval of a scheduled job
func (s *Store) UpdateJobInterval(jobID string, newInterval int) error {
	result, err := s.db.Exec(`
		UPDATE scheduled_jobs SET interval_seconds = ?, updated_at = ? WHERE id = ?`,
		newInterval, time.Now().UTC(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to update scheduled job interval")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled job %s", jobID)
	}

	return nil
}

// UpdateJobAfterExecution advances the schedule after an async job was
// enqueued for it.
func (s *Store) UpdateJobAfterExecution(jobID string, lastRun time.Time, executionID string, nextRun time.Time) error {
	result, err := s.db.Exec(`
		UPDATE scheduled_jobs
		SET last_run_at = ?, last_execution_id = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		lastRun, executionID, nextRun, time.Now().UTC(), jobID)
	if err != nil {
		return errors.Wrap(err, "failed to update scheduled job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled job %s", jobID)
	}

	return nil
}

// GetNextScheduledJob returns the soonest active scheduled job, or nil when
// nothing is scheduled.
func (s *Store) GetNextScheduledJob() (*Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobColumns+` FROM scheduled_jobs
		WHERE state = ? AND next_run_at IS NOT NULL
		ORDER BY next_run_at ASC
		LIMIT 1`, StateActive)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get next scheduled job")
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var payload, lastExecutionID sql.NullString
	var nextRunAt, lastRunAt sql.NullTime

	if err := row.Scan(
		&job.ID,
		&job.HandlerName,
		&payload,
		&job.Source,
		&job.IntervalSeconds,
		&nextRunAt,
		&lastRunAt,
		&lastExecutionID,
		&job.State,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	if lastExecutionID.Valid {
		job.LastExecutionID = lastExecutionID.String
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}

	return &job, nil
}

func scanJobRows(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan scheduled job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
