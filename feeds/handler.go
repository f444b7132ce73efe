package feeds

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
	"github.com/basilisk-ti/basilisk/tasks/async"
	"github.com/basilisk-ti/basilisk/tasks/schedule"
)

// Handler adapts a Feed to the async job queue.
type Handler struct {
	feed Feed
	deps *Deps
}

// NewHandler wraps a feed as an async.JobHandler.
func NewHandler(feed Feed, deps *Deps) *Handler {
	return &Handler{feed: feed, deps: deps}
}

// Name implements async.JobHandler.
func (h *Handler) Name() string {
	return HandlerName(h.feed)
}

// Execute implements async.JobHandler by running the feed.
func (h *Handler) Execute(ctx context.Context, job *async.Job) error {
	log := h.deps.Logger.With("feed", h.feed.Name(), "job_id", job.ID)
	log.Infow(sym.Feed + " Feed run starting")

	start := time.Now()
	if err := h.feed.Run(ctx, h.deps); err != nil {
		return errors.Wrapf(err, "feed %s", h.feed.Name())
	}

	log.Infow(sym.Feed+" Feed run finished", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// Bootstrap registers every feed in the registry as an async handler and
// ensures it has an active scheduled job on its refresh interval. Existing
// schedules are left untouched so operator interval overrides survive
// restarts. Safe to call on every daemon start.
func Bootstrap(reg *Registry, deps *Deps, handlers *async.HandlerRegistry, schedules *schedule.Store) error {
	for _, feed := range reg.All() {
		handlerName := HandlerName(feed)
		handlers.Register(NewHandler(feed, deps))

		existing, err := schedules.FindJobBySourceAndHandler(feed.Source(), handlerName)
		if err != nil {
			return errors.Wrapf(err, "failed to look up schedule for %s", handlerName)
		}
		if existing != nil {
			continue
		}

		now := time.Now().UTC()
		job := &schedule.Job{
			ID:              uuid.NewString(),
			HandlerName:     handlerName,
			Source:          feed.Source(),
			IntervalSeconds: int(feed.Frequency().Seconds()),
			NextRunAt:       &now,
			State:           schedule.StateActive,
		}
		if err := schedules.CreateJob(job); err != nil {
			return errors.Wrapf(err, "failed to schedule %s", handlerName)
		}

		deps.Logger.Infow(sym.Feed+" Feed scheduled",
			"feed", feed.Name(),
			"handler", handlerName,
			"interval", feed.Frequency())
	}

	return nil
}
