// Package schedule provides recurring job scheduling. A ticker scans for due
// jobs and enqueues them on the async queue; per-run Execution records keep
// the history.
package schedule

import "time"

// Job represents a recurring scheduled job, typically one feed on its
// refresh interval.
type Job struct {
	ID              string
	HandlerName     string // Async handler to invoke (e.g., "feed.feodotracker")
	Payload         []byte // Pre-computed JSON payload for the handler
	Source          string // Source identity for deduplication
	IntervalSeconds int
	NextRunAt       *time.Time // Nil for one-shot force-triggered jobs
	LastRunAt       *time.Time
	LastExecutionID string
	State           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Interval returns the job's run interval as a duration.
func (j *Job) Interval() time.Duration {
	return time.Duration(j.IntervalSeconds) * time.Second
}

// State constants for scheduled jobs
const (
	StateActive   = "active"   // Job is running on schedule
	StatePaused   = "paused"   // Job is temporarily paused by operator
	StateInactive = "inactive" // Job is inactive (not running, not scheduled)
	StateDeleted  = "deleted"  // Job has been deleted (soft delete)
)
