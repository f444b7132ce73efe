package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
)

const (
	// MaxOrphanedJobsToRecover limits how many orphaned jobs we'll attempt
	// to recover on startup to prevent overwhelming the system after a crash
	MaxOrphanedJobsToRecover = 1000

	// MaxRetries is the maximum number of retry attempts for failed jobs
	MaxRetries = 2
)

// daemonLogger wraps zap.SugaredLogger with lifecycle-phase methods.
// Different levels create visual distinction in the output:
// - DEBUG level for startup (sym.PulseOpen)
// - WARN level for shutdown (sym.PulseClose)
// - INFO level for steady-state worker operations
type daemonLogger struct {
	*zap.SugaredLogger
}

func (l daemonLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

func (l daemonLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// WorkerPool manages a pool of workers that drain the async job queue.
type WorkerPool struct {
	queue         *Queue
	db            *sql.DB
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	executor      JobExecutor
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        daemonLogger
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // How often to check for new jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      2,
		PollInterval: 5 * time.Second,
	}
}

// NewWorkerPool creates a worker pool with an empty handler registry.
// Callers must register handlers via Registry() before calling Start().
//
// The parent context coordinates shutdown: when the caller cancels it,
// workers detect the cancellation, checkpoint, and exit cleanly.
func NewWorkerPool(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithRegistry(ctx, db, poolCfg, logger, NewHandlerRegistry())
}

// NewWorkerPoolWithRegistry creates a worker pool over a pre-built registry.
func NewWorkerPoolWithRegistry(ctx context.Context, db *sql.DB, poolCfg WorkerPoolConfig, logger *zap.SugaredLogger, registry *HandlerRegistry) *WorkerPool {
	workerCtx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:      NewQueue(db),
		db:         db,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		executor:   NewRegistryExecutor(registry),
		logger:     daemonLogger{logger.Named("daemon")},
	}
}

// Start begins processing jobs with the worker pool. Jobs orphaned in the
// running state by a previous crash are re-queued first.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()

	// If the context was cancelled by a previous Stop(), recreate it from
	// the parent before spawning workers.
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}

	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.Warnw("Failed to recover orphaned jobs", "error", err)
		// Continue starting workers even if recovery fails
	}

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// recoverOrphanedJobs finds jobs stuck in the running state from an
// ungraceful shutdown (crash, kill -9, power loss) and re-queues them.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	runningStatus := JobStatusRunning
	orphanedJobs, err := wp.queue.store.ListJobs(&runningStatus, MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list running jobs")
	}

	if len(orphanedJobs) == 0 {
		return nil
	}

	wp.logger.Starting("Found orphaned jobs from previous crash", "count", len(orphanedJobs))

	recovered := 0
	for _, job := range orphanedJobs {
		job.Status = JobStatusQueued
		job.Error = "" // Clear any stale error message

		if err := wp.queue.UpdateJob(job); err != nil {
			wp.logger.Warnw("Failed to recover orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}

	wp.logger.Starting("Recovered orphaned jobs", "recovered", recovered, "total", len(orphanedJobs))
	return nil
}

// Stop gracefully stops the worker pool. Workers checkpoint and exit on
// context cancellation, with a 30-second timeout so shutdown never blocks
// indefinitely on a stuck job.
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		wp.logger.Infow(sym.PulseClose + " WorkerPool stopped - all workers exited cleanly")
	case <-time.After(timeout):
		wp.logger.Closing("WorkerPool stop timeout - workers may still be checkpointing", "timeout", timeout)
	}
}

// worker processes jobs from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	interval := wp.getWorkerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.processNextJob(); err != nil {
				select {
				case <-wp.ctx.Done():
					// Shutting down - exit silently
					return
				default:
					if errors.Is(err, sql.ErrConnDone) {
						// Database closed during shutdown - exit silently
						return
					}
					errorCount++
					wp.logger.Errorw("Worker error processing job",
						"worker_id", id,
						"error", err,
						"consecutive_errors", errorCount)

					if errorCount >= maxConsecutiveErrors {
						wp.logger.Warnw("Worker backing off due to consecutive errors",
							"worker_id", id,
							"backoff", backoffDuration,
							"consecutive_errors", errorCount)
						time.Sleep(backoffDuration)
						backoffDuration = min(backoffDuration*2, maxBackoff)
					}
				}
			} else {
				if errorCount > 0 {
					wp.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}

			newInterval := wp.getWorkerInterval()
			if newInterval != interval {
				ticker.Reset(newInterval)
				interval = newInterval
			}
		}
	}
}

// getWorkerInterval returns the current worker polling interval.
// Starts at 1 second for gradual ramp-up, widens to 5 seconds after warmup.
// An explicitly configured PollInterval overrides the ramp-up.
func (wp *WorkerPool) getWorkerInterval() time.Duration {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.poolConfig.PollInterval > 0 {
		return wp.poolConfig.PollInterval
	}

	// Warmup: first 20 jobs or first 2 minutes at 1-second intervals
	elapsed := time.Since(wp.startTime)
	if wp.jobsProcessed < 20 || elapsed < 2*time.Minute {
		return 1 * time.Second
	}

	return 5 * time.Second
}

// processNextJob gets the next job from the queue and runs it
func (wp *WorkerPool) processNextJob() error {
	select {
	case <-wp.ctx.Done():
		return nil // Graceful shutdown - don't pick up new jobs
	default:
	}

	job, err := wp.queue.Dequeue()
	if err != nil {
		return errors.Wrap(err, "failed to dequeue job")
	}
	if job == nil {
		return nil // No jobs available
	}

	wp.mu.Lock()
	wp.jobsProcessed++
	wp.activeWorkers++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	if err := wp.executor.Execute(wp.ctx, job); err != nil {
		select {
		case <-wp.ctx.Done():
			// Cancelled mid-execution - re-queue so progress is not lost
			wp.logger.Closing("Job cancelled during execution, re-queuing", "job_id", job.ID)
			job.Status = JobStatusQueued
			if updateErr := wp.queue.UpdateJob(job); updateErr != nil {
				wp.logger.Errorw("Failed to re-queue cancelled job", "job_id", job.ID, "error", updateErr)
			}
			return nil
		default:
			if job.RetryCount < MaxRetries {
				job.RetryCount++
				job.Status = JobStatusQueued
				job.Error = err.Error()
				wp.logger.Warnw("Job failed, re-queuing for retry",
					"job_id", job.ID,
					"handler", job.HandlerName,
					"retry", job.RetryCount,
					"error", err)
				return wp.queue.UpdateJob(job)
			}
			return wp.queue.FailJob(job.ID, err)
		}
	}

	return wp.queue.CompleteJob(job.ID)
}

// GetQueue returns the job queue (useful for enqueuing jobs)
func (wp *WorkerPool) GetQueue() *Queue {
	return wp.queue
}

// Workers returns the number of concurrent workers configured for this pool
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Registry returns the handler registry for registering job handlers.
// Register handlers before calling Start():
//
//	pool := async.NewWorkerPool(ctx, db, poolCfg, logger)
//	feeds.RegisterHandlers(pool.Registry(), deps)
//	pool.Start()
func (wp *WorkerPool) Registry() *HandlerRegistry {
	if registryExec, ok := wp.executor.(*RegistryExecutor); ok {
		return registryExec.registry
	}
	return nil
}
