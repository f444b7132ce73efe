package async

import (
	"context"

	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/sym"
)

// WatchJobs subscribes to queue updates and logs every status transition
// until ctx is cancelled. Draining happens on its own goroutine, so the
// queue's non-blocking notify never waits on logging. The daemon runs one
// watcher for its whole lifetime.
func WatchJobs(ctx context.Context, queue *Queue, logger *zap.SugaredLogger) {
	updates := queue.Subscribe()

	go func() {
		defer queue.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-updates:
				logJobUpdate(logger, job)
			}
		}
	}()
}

// logJobUpdate picks the level by outcome: failures at warn so they surface
// in default daemon output, completions at info, intermediate states at
// debug.
func logJobUpdate(logger *zap.SugaredLogger, job *Job) {
	fields := []interface{}{
		"job_id", job.ID,
		"handler", job.HandlerName,
		"status", job.Status,
	}

	switch job.Status {
	case JobStatusFailed:
		logger.Warnw(sym.Pulse+" Job failed", append(fields, "error", job.Error)...)
	case JobStatusCompleted:
		if job.StartedAt != nil && job.CompletedAt != nil {
			fields = append(fields, "duration", job.CompletedAt.Sub(*job.StartedAt))
		}
		logger.Infow(sym.Pulse+" Job completed", fields...)
	default:
		logger.Debugw(sym.Pulse+" Job update", fields...)
	}
}
