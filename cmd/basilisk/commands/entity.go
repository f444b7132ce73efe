package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/basilisk-ti/basilisk/errors"
	"github.com/basilisk-ti/basilisk/sym"
)

// EntityCmd represents the entity command
var EntityCmd = &cobra.Command{
	Use:   "entity",
	Short: sym.Entity + " Manage entities",
	Long: sym.Entity + ` entity — Manage entities

Entities are the actors behind indicators: malware families, threat actors,
campaigns. An entity's declared tags drive automatic observable linking.

Examples:
  basilisk entity ls
  basilisk entity import entities.yaml`,
}

var entityLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List entities",
	RunE:  runEntityLs,
}

var entityImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import entities from a YAML seed file",
	Long: `Import entities from a YAML list. Re-importing updates entities in place.

Example file:
  - name: Emotet
    type: malware
    description: Modular banking trojan turned loader.
    tags: [emotet, heodo]`,
	Args: cobra.ExactArgs(1),
	RunE: runEntityImport,
}

func init() {
	EntityCmd.AddCommand(entityLsCmd)
	EntityCmd.AddCommand(entityImportCmd)
}

func runEntityLs(cmd *cobra.Command, args []string) error {
	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)

	entities, err := stores.entities.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		fmt.Printf("%s No entities\n", sym.Entity)
		return nil
	}

	data := pterm.TableData{{"Name", "Type", "Tags", "Description"}}
	for _, entity := range entities {
		data = append(data, []string{
			entity.Name,
			string(entity.Type),
			strings.Join(entity.Tags, ","),
			entity.Description,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runEntityImport(cmd *cobra.Command, args []string) error {
	file, err := os.Open(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", args[0])
	}
	defer file.Close()

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	stores := newKBStores(database)

	imported, err := stores.entities.Import(cmd.Context(), file)
	if err != nil {
		return errors.Wrapf(err, "failed to import %s", args[0])
	}

	fmt.Printf("%s Imported %d entit%s from %s\n", sym.Entity, imported, plural(imported, "y", "ies"), args[0])
	return nil
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
