package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
	"github.com/basilisk-ti/basilisk/tasks/async"
)

// Ticker scans for due scheduled jobs and enqueues them on the async queue.
// Each fired schedule leaves an Execution record behind.
type Ticker struct {
	store           *Store
	executions      *ExecutionStore
	queue           *async.Queue
	interval        time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	logger          *zap.SugaredLogger
	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastActiveWork  int
}

// TickerConfig contains configuration for the scheduler ticker
type TickerConfig struct {
	Interval time.Duration // How often to check for scheduled jobs (default: 1 second)
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 1 * time.Second,
	}
}

// NewTicker creates a new scheduler ticker
func NewTicker(store *Store, queue *async.Queue, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), store, queue, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, store *Store, queue *async.Queue, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		store:      store,
		executions: NewExecutionStore(store.db),
		queue:      queue,
		interval:   cfg.Interval,
		ctx:        tickerCtx,
		cancel:     cancel,
		logger:     log,
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow(sym.Pulse+" Scheduler started", "interval", t.interval)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow(sym.Pulse + " Scheduler stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			t.logHeartbeat(tickTime)

			if err := t.checkScheduledJobs(tickTime); err != nil {
				t.logger.Warnw(sym.Pulse+" Scheduler tick error", "error", err)
			}
		}
	}
}

// logHeartbeat logs time until the next scheduled job, but only when the
// amount of active work has changed since the last tick.
func (t *Ticker) logHeartbeat(now time.Time) {
	stats, err := t.queue.GetStats()
	if err != nil {
		t.logger.Warnw(sym.Pulse+" Failed to get queue stats", "error", err)
		stats = &async.QueueStats{}
	}
	activeWork := stats.Queued + stats.Running

	t.mu.Lock()
	changed := activeWork != t.lastActiveWork
	t.lastActiveWork = activeWork
	t.mu.Unlock()

	if !changed {
		return
	}

	nextJob, err := t.store.GetNextScheduledJob()
	if err != nil {
		t.logger.Warnw(sym.Pulse+" Failed to get next scheduled job", "error", err)
		return
	}

	if nextJob == nil || nextJob.NextRunAt == nil {
		t.logger.Infow(sym.Pulse+" No scheduled runs", "jobs_active", activeWork)
		return
	}

	timeUntil := nextJob.NextRunAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}

	t.logger.Infow(fmt.Sprintf("%s Next run '%s' in %s", sym.Pulse, nextJob.HandlerName, timeUntil.Round(time.Second)),
		"jobs_active", activeWork)
}

// checkScheduledJobs finds scheduled jobs ready to run and enqueues them
func (t *Ticker) checkScheduledJobs(now time.Time) error {
	jobs, err := t.store.ListJobsDue(t.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to list scheduled jobs")
	}

	for _, job := range jobs {
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		default:
		}

		if err := t.fireScheduledJob(job, now); err != nil {
			t.logger.Errorw(sym.Pulse+" Failed to fire scheduled job",
				"job_id", job.ID,
				"handler", job.HandlerName,
				"error", err)
			continue
		}
	}

	return nil
}

// fireScheduledJob creates an async job for the schedule, records the
// execution, and advances next_run_at.
func (t *Ticker) fireScheduledJob(scheduled *Job, now time.Time) error {
	startTime := time.Now().UTC()

	execution := &Execution{
		ID:             uuid.NewString(),
		ScheduledJobID: scheduled.ID,
		Status:         ExecutionStatusRunning,
		StartedAt:      startTime,
		CreatedAt:      startTime,
		UpdatedAt:      startTime,
	}
	if err := t.executions.CreateExecution(execution); err != nil {
		// Execution history is best-effort; the schedule still fires.
		t.logger.Errorw(sym.Pulse+" Failed to create execution record",
			"job_id", scheduled.ID,
			"error", err)
	}

	asyncJobID, err := t.enqueueAsyncJob(scheduled)

	completedAt := time.Now().UTC()
	durationMs := int(completedAt.Sub(startTime).Milliseconds())
	execution.CompletedAt = &completedAt
	execution.DurationMs = &durationMs
	execution.UpdatedAt = completedAt

	if err != nil {
		execution.Status = ExecutionStatusFailed
		errorMsg := err.Error()
		execution.ErrorMessage = &errorMsg

		t.logger.Errorw(sym.Pulse+" Schedule fire FAILED",
			"job_id", scheduled.ID,
			"handler", scheduled.HandlerName,
			"execution_id", execution.ID,
			"duration_ms", durationMs,
			"error", err)
	} else {
		execution.Status = ExecutionStatusCompleted
		execution.AsyncJobID = &asyncJobID
		summary := fmt.Sprintf("created async job %s", asyncJobID)
		execution.ResultSummary = &summary

		nextRun := now.Add(scheduled.Interval())

		t.logger.Infow(sym.Pulse+" Schedule fired",
			"job_id", scheduled.ID,
			"handler", scheduled.HandlerName,
			"async_job_id", asyncJobID,
			"execution_id", execution.ID,
			"next_run_at", nextRun.Format(time.RFC3339))

		if err := t.store.UpdateJobAfterExecution(scheduled.ID, now, execution.ID, nextRun); err != nil {
			return errors.Wrap(err, "failed to update scheduled job")
		}
	}

	if err := t.executions.UpdateExecution(execution); err != nil {
		t.logger.Errorw(sym.Pulse+" Failed to update execution record",
			"execution_id", execution.ID,
			"error", err)
	}

	return nil
}

// enqueueAsyncJob creates and enqueues an async job from the scheduled job.
// If an active job already exists for the same source and handler, its ID is
// returned instead of enqueueing a duplicate.
func (t *Ticker) enqueueAsyncJob(scheduled *Job) (string, error) {
	if scheduled.HandlerName == "" {
		return "", errors.Newf("scheduled job %s missing handler_name", scheduled.ID)
	}

	existing, err := t.queue.FindActiveJobBySourceAndHandler(scheduled.Source, scheduled.HandlerName)
	if err != nil {
		return "", errors.Wrap(err, "failed to check for duplicate job")
	}
	if existing != nil {
		t.logger.Debugw(sym.Pulse+" Skipping duplicate job",
			"source", scheduled.Source,
			"handler", scheduled.HandlerName,
			"existing_job_id", existing.ID,
			"existing_status", existing.Status)
		return existing.ID, nil
	}

	job, err := async.NewJob(scheduled.HandlerName, scheduled.Source, scheduled.Payload, 0)
	if err != nil {
		return "", errors.Wrap(err, "failed to create async job")
	}

	if err := t.queue.Enqueue(job); err != nil {
		return "", errors.Wrap(err, "failed to enqueue job")
	}

	return job.ID, nil
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
}
