package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/config"
	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage basilisk database",
	Long: sym.DB + ` db — Manage basilisk database operations

Examples:
  basilisk db stats     # Show database statistics`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	counts := []struct {
		label string
		query string
	}{
		{"Observables", "SELECT COUNT(*) FROM observables"},
		{"Tag applications", "SELECT COUNT(*) FROM observable_tags"},
		{"Fresh applications", "SELECT COUNT(*) FROM observable_tags WHERE fresh = 1"},
		{"Catalog tags", "SELECT COUNT(*) FROM tags"},
		{"Entities", "SELECT COUNT(*) FROM entities"},
		{"Graph edges", "SELECT COUNT(*) FROM links"},
		{"Async jobs", "SELECT COUNT(*) FROM async_jobs"},
		{"Scheduled jobs", "SELECT COUNT(*) FROM scheduled_jobs WHERE state != 'deleted'"},
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:      %s\n\n", dbPath)

	for _, c := range counts {
		var n int
		if err := database.QueryRow(c.query).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", c.label)
		}
		fmt.Printf("%-20s %d\n", c.label+":", n)
	}

	return nil
}
