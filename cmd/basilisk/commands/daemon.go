package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/config"
	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/feeds"
	"github.com/basilisk-ti/basilisk/logger"
	"github.com/basilisk-ti/basilisk/sym"
	"github.com/basilisk-ti/basilisk/tasks/async"
	"github.com/basilisk-ti/basilisk/tasks/schedule"
)

// DaemonCmd runs the background daemon: worker pool, scheduler ticker and
// feed registration.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: sym.Pulse + " Run the background daemon (workers + scheduler)",
	Long: sym.Pulse + ` daemon — Run the background daemon.

The daemon:
- Registers the built-in feeds and schedules them on their intervals
- Runs the worker pool that executes feed jobs
- Runs the scheduler ticker that enqueues due jobs
- Reloads feed intervals when the config file changes
- Shuts down gracefully on Ctrl+C, finishing in-flight jobs

Example:
  basilisk daemon              # Run in foreground
  basilisk daemon --workers 4  # Override configured worker count`,
	RunE: runDaemon,
}

func init() {
	DaemonCmd.Flags().Int("workers", 0, "Number of concurrent workers (0 = configured value)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = cfg.Daemon.Workers
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	poolCfg := async.DefaultWorkerPoolConfig()
	poolCfg.Workers = workers
	pool := async.NewWorkerPool(ctx, database, poolCfg, logger.Logger)

	stores := newKBStores(database)
	deps := &feeds.Deps{
		Engine:      stores.engine,
		Observables: stores.observables,
		Entities:    stores.entities,
		Links:       stores.links,
		Fetcher:     feeds.NewHTTPFetcher(cfg.HTTPTimeout(), cfg.HTTP.RequestsPerMinute),
		Logger:      logger.Logger,
	}

	registry := feeds.NewRegistry()
	for _, feed := range feeds.Defaults().All() {
		if cfg.FeedEnabled(feeds.HandlerName(feed)) {
			registry.Register(feed)
		}
	}

	scheduleStore := schedule.NewStore(database)
	if err := feeds.Bootstrap(registry, deps, pool.Registry(), scheduleStore); err != nil {
		return errors.Wrap(err, "failed to bootstrap feeds")
	}
	if err := applyFeedIntervals(cfg, registry, scheduleStore); err != nil {
		return errors.Wrap(err, "failed to apply feed intervals")
	}

	pool.Start()
	async.WatchJobs(ctx, pool.GetQueue(), logger.Logger)

	tickerCfg := schedule.TickerConfig{Interval: cfg.TickerInterval()}
	ticker := schedule.NewTickerWithContext(ctx, scheduleStore, pool.GetQueue(), tickerCfg, logger.Logger)
	ticker.Start()

	watcher := watchConfig(registry, scheduleStore)

	metrics := pool.GetSystemMetrics()
	fmt.Printf("%s basilisk daemon started\n", sym.Pulse)
	fmt.Printf("  Workers:            %d\n", workers)
	fmt.Printf("  Scheduler interval: %v\n", tickerCfg.Interval)
	fmt.Printf("  Feeds:              %d registered\n", len(registry.All()))
	if metrics.MemoryTotalGB > 0 {
		fmt.Printf("  Memory:             %.1f/%.1f GB (%.0f%%)\n",
			metrics.MemoryUsedGB, metrics.MemoryTotalGB, metrics.MemoryPercent)
	}
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Printf("\n%s Shutting down...\n", sym.Pulse)

	if watcher != nil {
		watcher.Stop()
	}
	ticker.Stop()
	pool.Stop()
	cancel()

	fmt.Printf("%s basilisk daemon stopped\n", sym.Pulse)
	return nil
}

// applyFeedIntervals pushes configured interval overrides onto the
// scheduled jobs.
func applyFeedIntervals(cfg *config.Config, registry *feeds.Registry, schedules *schedule.Store) error {
	for _, feed := range registry.All() {
		handlerName := feeds.HandlerName(feed)
		interval := cfg.FeedInterval(handlerName, feed.Frequency())
		if interval == feed.Frequency() {
			continue
		}

		job, err := schedules.FindJobBySourceAndHandler(feed.Source(), handlerName)
		if err != nil {
			return err
		}
		if job == nil || job.Interval() == interval {
			continue
		}

		if err := schedules.UpdateJobInterval(job.ID, int(interval.Seconds())); err != nil {
			return err
		}
		logger.Infow(sym.Feed+" Feed interval updated",
			"handler", handlerName, "interval", interval)
	}
	return nil
}

// watchConfig reloads feed intervals when the project config file changes.
// Returns nil when no config file exists to watch.
func watchConfig(registry *feeds.Registry, schedules *schedule.Store) *config.ConfigWatcher {
	path := "basilisk.toml"
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable", "error", err)
		return nil
	}

	watcher.OnReload(func(newCfg *config.Config) error {
		return applyFeedIntervals(newCfg, registry, schedules)
	})
	watcher.Start()

	return watcher
}
