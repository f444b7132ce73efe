// Package feeds pulls external threat intelligence into the knowledge base.
// Each Feed fetches its source on a refresh interval, creates observables and
// tags them through the tagging engine. Feeds run as async jobs; Bootstrap
// wires them into the handler registry and the scheduler.
package feeds

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basilisk-ti/basilisk/graph"
	"github.com/basilisk-ti/basilisk/kb/storage"
	"github.com/basilisk-ti/basilisk/kb/tagging"
)

// Feed is one external intelligence source.
type Feed interface {
	// Name is the feed's display name (e.g. "FeodoTracker").
	Name() string
	// Source is the URL the feed fetches.
	Source() string
	// Frequency is the refresh interval.
	Frequency() time.Duration
	// Description is a one-line summary for listings.
	Description() string
	// Run fetches the source and ingests it.
	Run(ctx context.Context, deps *Deps) error
}

// Deps bundles what feeds need to ingest data. One instance is shared by all
// feeds; stores are safe for concurrent use.
type Deps struct {
	Engine      *tagging.Engine
	Observables *storage.ObservableStore
	Entities    *storage.EntityStore
	Links       *graph.LinkStore
	Fetcher     Fetcher
	Logger      *zap.SugaredLogger
}

// HandlerName returns the async handler name for a feed, e.g.
// "feed.feodotracker".
func HandlerName(f Feed) string {
	return "feed." + strings.ToLower(f.Name())
}
