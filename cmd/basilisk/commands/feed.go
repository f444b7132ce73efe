package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/config"
	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/feeds"
	"github.com/basilisk-ti/basilisk/logger"
	"github.com/basilisk-ti/basilisk/sym"
)

// FeedCmd represents the feed command
var FeedCmd = &cobra.Command{
	Use:   "feed",
	Short: sym.Feed + " List and run intelligence feeds",
	Long: sym.Feed + ` feed — List and run intelligence feeds

Feeds normally run on their schedule inside the daemon. "feed run" executes
one in the foreground, which is useful for first-time population and
debugging.

Examples:
  basilisk feed ls
  basilisk feed run feed.feodotracker`,
}

var feedLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List available feeds",
	RunE:  runFeedLs,
}

var feedRunCmd = &cobra.Command{
	Use:   "run <handler>",
	Short: "Run one feed in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedRun,
}

func init() {
	FeedCmd.AddCommand(feedLsCmd)
	FeedCmd.AddCommand(feedRunCmd)
}

func runFeedLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	data := pterm.TableData{{"Handler", "Name", "Interval", "Enabled", "Description"}}
	for _, feed := range feeds.Defaults().All() {
		handlerName := feeds.HandlerName(feed)
		data = append(data, []string{
			handlerName,
			feed.Name(),
			cfg.FeedInterval(handlerName, feed.Frequency()).String(),
			fmt.Sprintf("%v", cfg.FeedEnabled(handlerName)),
			feed.Description(),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runFeedRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	feed := feeds.Defaults().Get(args[0])
	if feed == nil {
		return errors.Newf("unknown feed %q (try 'basilisk feed ls')", args[0])
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)
	deps := &feeds.Deps{
		Engine:      stores.engine,
		Observables: stores.observables,
		Entities:    stores.entities,
		Links:       stores.links,
		Fetcher:     feeds.NewHTTPFetcher(cfg.HTTPTimeout(), cfg.HTTP.RequestsPerMinute),
		Logger:      logger.Logger,
	}

	fmt.Printf("%s Running %s...\n", sym.Feed, feed.Name())
	if err := feed.Run(cmd.Context(), deps); err != nil {
		return errors.Wrapf(err, "feed %s failed", feed.Name())
	}
	fmt.Printf("%s Done\n", sym.Feed)

	return nil
}
