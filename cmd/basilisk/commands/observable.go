package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/graph"
	"github.com/basilisk-ti/basilisk/kb/tagging"
	"github.com/basilisk-ti/basilisk/sym"
)

// ObservableCmd represents the observable command
var ObservableCmd = &cobra.Command{
	Use:   "observable",
	Short: sym.Observable + " Add and inspect observables",
	Long: sym.Observable + ` observable — Add and inspect observables

Observables are technical indicators: IPs, URLs, hostnames, emails, hashes
and certificate references. Types are inferred from the value.

Examples:
  basilisk observable add 198.51.100.7 --tags c2,blocklist
  basilisk observable add phish.example.com
  basilisk observable info 198.51.100.7`,
}

var (
	observableTagsFlag   []string
	observableStrictFlag bool
	observableExpireFlag time.Duration
)

var observableAddCmd = &cobra.Command{
	Use:   "add <value>...",
	Short: "Add observables, inferring their type",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runObservableAdd,
}

var observableInfoCmd = &cobra.Command{
	Use:   "info <value>",
	Short: "Show an observable's tags, context and links",
	Args:  cobra.ExactArgs(1),
	RunE:  runObservableInfo,
}

func init() {
	observableAddCmd.Flags().StringSliceVar(&observableTagsFlag, "tags", nil, "Tags to apply (comma-separated)")
	observableAddCmd.Flags().BoolVar(&observableStrictFlag, "strict", false, "Remove fresh tags not in the given set")
	observableAddCmd.Flags().DurationVar(&observableExpireFlag, "expiration", 0, "Override tag expiration (e.g. 168h)")

	ObservableCmd.AddCommand(observableAddCmd)
	ObservableCmd.AddCommand(observableInfoCmd)
}

func runObservableAdd(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)
	ctx := cmd.Context()

	opts := tagging.TagOptions{Strict: observableStrictFlag}
	if observableExpireFlag > 0 {
		expiration := observableExpireFlag
		opts.Expiration = &expiration
	}

	for _, value := range args {
		obs, err := stores.observables.GetOrCreate(ctx, value)
		if err != nil {
			return errors.Wrapf(err, "failed to add %q", value)
		}

		if len(observableTagsFlag) > 0 {
			if obs, err = stores.engine.Tag(ctx, obs, observableTagsFlag, opts); err != nil {
				return errors.Wrapf(err, "failed to tag %q", value)
			}
		}

		fmt.Printf("%s %s (%s) tags=[%s]\n",
			sym.Observable, obs.Value, obs.Type, strings.Join(obs.TagNames(false), ", "))
	}

	return nil
}

func runObservableInfo(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)
	ctx := cmd.Context()

	obs, err := stores.observables.Find(ctx, args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.Newf("observable %q not found", args[0])
		}
		return err
	}

	fmt.Printf("%s %s\n", sym.Observable, obs.Value)
	fmt.Printf("  Type:    %s\n", obs.Type)
	fmt.Printf("  ID:      %s\n", obs.ID)
	fmt.Printf("  Created: %s\n", obs.Created.Format(time.RFC3339))
	if obs.LastTagged != nil {
		fmt.Printf("  Tagged:  %s\n", obs.LastTagged.Format(time.RFC3339))
	}

	if len(obs.Tags) > 0 {
		fmt.Printf("\n%s Tags\n", sym.Tag)
		data := pterm.TableData{{"Name", "Fresh", "First seen", "Last seen", "Expires"}}
		for _, app := range obs.Tags {
			expires := "never"
			if app.Expiration != nil {
				expires = app.LastSeen.Add(*app.Expiration).Format(time.RFC3339)
			}
			data = append(data, []string{
				app.Name,
				fmt.Sprintf("%v", app.Fresh),
				app.FirstSeen.Format(time.RFC3339),
				app.LastSeen.Format(time.RFC3339),
				expires,
			})
		}
		pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	}

	if len(obs.Context) > 0 {
		fmt.Printf("\n%s Context\n", sym.Feed)
		for _, entry := range obs.Context {
			keys := make([]string, 0, len(entry))
			for k := range entry {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%s", k, entry[k]))
			}
			fmt.Printf("  - %s\n", strings.Join(parts, " "))
		}
	}

	neighbors, err := stores.links.ListNeighbors(ctx, graph.ObservableRef(obs.ID))
	if err != nil {
		return errors.Wrap(err, "failed to list links")
	}
	if len(neighbors) > 0 {
		fmt.Printf("\n%s Links\n", sym.Graph)
		for _, rel := range neighbors {
			fmt.Printf("  %s -[%s]-> %s\n", rel.Source, rel.Type, rel.Target)
		}
	}

	recommended, err := stores.engine.FindRecommendedTags(ctx, obs)
	if err == nil && len(recommended) > 0 {
		names := make([]string, 0, len(recommended))
		for name := range recommended {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Printf("\n%s Recommended tags: %s\n", sym.Tag, strings.Join(names, ", "))
	}

	return nil
}
