package schedule

import "time"

// Execution statuses
const (
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

// Execution records one run of a scheduled job: when it fired, which async
// job it produced, and how it ended.
type Execution struct {
	ID             string
	ScheduledJobID string
	AsyncJobID     *string
	Status         string
	StartedAt      time.Time
	CompletedAt    *time.Time
	DurationMs     *int
	ResultSummary  *string
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
