package schedule

import (
	"database/sql"

	"github.com/basilisk-ti/basilisk/errors"
)

// ExecutionStore handles persistence of job execution history
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

const executionColumns = `id, scheduled_job_id, async_job_id, status,
	started_at, completed_at, duration_ms,
	result_summary, error_message, created_at, updated_at`

// CreateExecution creates a new execution record
func (s *ExecutionStore) CreateExecution(exec *Execution) error {
	query := `
		INSERT INTO scheduled_job_executions (` + executionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		exec.ID,
		exec.ScheduledJobID,
		exec.AsyncJobID,
		exec.Status,
		exec.StartedAt,
		exec.CompletedAt,
		exec.DurationMs,
		exec.ResultSummary,
		exec.ErrorMessage,
		exec.CreatedAt,
		exec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}

	return nil
}

// UpdateExecution updates an existing execution record
func (s *ExecutionStore) UpdateExecution(exec *Execution) error {
	query := `
		UPDATE scheduled_job_executions
		SET async_job_id = ?,
		    status = ?,
		    completed_at = ?,
		    duration_ms = ?,
		    result_summary = ?,
		    error_message = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(query,
		exec.AsyncJobID,
		exec.Status,
		exec.CompletedAt,
		exec.DurationMs,
		exec.ResultSummary,
		exec.ErrorMessage,
		exec.UpdatedAt,
		exec.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("execution %s", exec.ID)
	}

	return nil
}

// GetExecution retrieves an execution by ID
func (s *ExecutionStore) GetExecution(id string) (*Execution, error) {
	row := s.db.QueryRow(`SELECT `+executionColumns+` FROM scheduled_job_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("execution %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}
	return exec, nil
}

// ListExecutionsByJob returns recent executions for a scheduled job, newest
// first.
func (s *ExecutionStore) ListExecutionsByJob(scheduledJobID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT `+executionColumns+` FROM scheduled_job_executions
		WHERE scheduled_job_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, scheduledJobID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var asyncJobID, resultSummary, errorMessage sql.NullString
	var completedAt sql.NullTime
	var durationMs sql.NullInt64

	if err := row.Scan(
		&exec.ID,
		&exec.ScheduledJobID,
		&asyncJobID,
		&exec.Status,
		&exec.StartedAt,
		&completedAt,
		&durationMs,
		&resultSummary,
		&errorMessage,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if asyncJobID.Valid {
		exec.AsyncJobID = &asyncJobID.String
	}
	if completedAt.Valid {
		exec.CompletedAt = &completedAt.Time
	}
	if durationMs.Valid {
		ms := int(durationMs.Int64)
		exec.DurationMs = &ms
	}
	if resultSummary.Valid {
		exec.ResultSummary = &resultSummary.String
	}
	if errorMessage.Valid {
		exec.ErrorMessage = &errorMessage.String
	}

	return &exec, nil
}
