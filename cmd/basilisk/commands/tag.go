package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
)

// TagCmd represents the tag command
var TagCmd = &cobra.Command{
	Use:   "tag",
	Short: sym.Tag + " Manage the tag catalog",
	Long: sym.Tag + ` tag — Manage the tag catalog

Catalog tags carry aliases (replaces), implied tags (produces) and a default
expiration for their applications.

Examples:
  basilisk tag ls
  basilisk tag update banker --produces malicious,crimeware
  basilisk tag update c2 --expiration 336h
  basilisk tag merge heodo --into emotet
  basilisk tag rename zeus zloader`,
}

var tagLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List catalog tags",
	RunE:  runTagLs,
}

var (
	tagProducesFlag   []string
	tagReplacesFlag   []string
	tagExpirationFlag time.Duration
	tagMergeIntoFlag  string
)

var tagUpdateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a catalog tag's produces, replaces or expiration",
	Args:  cobra.ExactArgs(1),
	RunE:  runTagUpdate,
}

var tagMergeCmd = &cobra.Command{
	Use:   "merge <name>...",
	Short: "Merge tags into another, absorbing their aliases and counts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTagMerge,
}

var tagRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a tag across every observable that carries it",
	Args:  cobra.ExactArgs(2),
	RunE:  runTagRename,
}

func init() {
	tagUpdateCmd.Flags().StringSliceVar(&tagProducesFlag, "produces", nil, "Tags implied by this tag")
	tagUpdateCmd.Flags().StringSliceVar(&tagReplacesFlag, "replaces", nil, "Deprecated names resolving to this tag")
	tagUpdateCmd.Flags().DurationVar(&tagExpirationFlag, "expiration", 0, "Default expiration for applications (0 = never)")
	tagMergeCmd.Flags().StringVar(&tagMergeIntoFlag, "into", "", "Tag that absorbs the merged tags (required)")
	tagMergeCmd.MarkFlagRequired("into")

	TagCmd.AddCommand(tagLsCmd)
	TagCmd.AddCommand(tagUpdateCmd)
	TagCmd.AddCommand(tagMergeCmd)
	TagCmd.AddCommand(tagRenameCmd)
}

func runTagLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)

	tags, err := stores.tags.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		fmt.Printf("%s No tags in catalog\n", sym.Tag)
		return nil
	}

	data := pterm.TableData{{"Name", "Count", "Produces", "Replaces", "Expiration"}}
	for _, tag := range tags {
		expiration := "never"
		if tag.DefaultExpiration != nil {
			expiration = tag.DefaultExpiration.String()
		}
		data = append(data, []string{
			tag.Name,
			fmt.Sprintf("%d", tag.Count),
			strings.Join(tag.Produces, ","),
			strings.Join(tag.Replaces, ","),
			expiration,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runTagUpdate(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)
	ctx := cmd.Context()

	tag, err := stores.tags.GetOrCreate(ctx, args[0])
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("produces") {
		tag.Produces = tagProducesFlag
	}
	if cmd.Flags().Changed("replaces") {
		tag.Replaces = tagReplacesFlag
	}
	if cmd.Flags().Changed("expiration") {
		if tagExpirationFlag > 0 {
			expiration := tagExpirationFlag
			tag.DefaultExpiration = &expiration
		} else {
			tag.DefaultExpiration = nil
		}
	}

	if err := stores.tags.Update(ctx, tag); err != nil {
		return errors.Wrapf(err, "failed to update tag %q", tag.Name)
	}

	fmt.Printf("%s Updated %s\n", sym.Tag, tag.Name)
	return nil
}

func runTagMerge(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)
	ctx := cmd.Context()

	for _, from := range args {
		if err := stores.tags.Merge(ctx, from, tagMergeIntoFlag); err != nil {
			return errors.Wrapf(err, "failed to merge %q into %q", from, tagMergeIntoFlag)
		}
		fmt.Printf("%s Merged %s into %s\n", sym.Tag, from, tagMergeIntoFlag)
	}

	return nil
}

func runTagRename(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)

	changed, err := stores.engine.ChangeAllTags(cmd.Context(), args[0], args[1])
	if err != nil {
		return errors.Wrapf(err, "failed to rename %q to %q", args[0], args[1])
	}

	fmt.Printf("%s Renamed %s to %s on %d observable(s)\n", sym.Tag, args[0], args[1], changed)
	return nil
}
