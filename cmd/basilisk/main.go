package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/cmd/basilisk/commands"
	"github.com/basilisk-ti/basilisk/logger"
)

var rootCmd = &cobra.Command{
	Use:   "basilisk",
	Short: "basilisk - threat intelligence knowledge base",
	Long: `basilisk - threat intelligence knowledge base.

basilisk tracks technical indicators (observables), their lifecycle tags,
the entities they point at, and the feeds that keep them current.

Available commands:
  observable - Add and inspect observables
  tag        - Manage the tag catalog
  entity     - Manage entities and their declared tags
  feed       - List and run intelligence feeds
  daemon     - Run the background daemon (workers + scheduler)
  db         - Database operations and statistics
  version    - Show version information

Examples:
  basilisk observable add 198.51.100.7 --tags c2,blocklist
  basilisk observable info 198.51.100.7
  basilisk tag ls
  basilisk feed run feed.feodotracker
  basilisk daemon`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithVerbosity(false, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")

	rootCmd.AddCommand(commands.ObservableCmd)
	rootCmd.AddCommand(commands.TagCmd)
	rootCmd.AddCommand(commands.EntityCmd)
	rootCmd.AddCommand(commands.FeedCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
