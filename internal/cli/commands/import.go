package commands

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewImportCommand creates the import command.
func NewImportCommand() *cobra.Command {
	var tableName string

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import a CSV file as a new table",
		Long: `Import a CSV file into the workbench with an inferred schema.

A timeline is created for the table and a baseline snapshot is taken
immediately, so the very first undo is instant.`,
		Example: `  # Import with a table name derived from the file name
  cleanslate import customers.csv

  # Import under an explicit name
  cleanslate import export_2024.csv --table customers`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			name := tableName
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				name = strings.ReplaceAll(name, "-", "_")
			}

			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			state, err := wb.ImportCSV(cmd.Context(), core.TableID(name), path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s: %d row(s), %d column(s)\n",
				name, state.RowCount, len(state.Columns))
			return nil
		},
	}

	cmd.Flags().StringVar(&tableName, "table", "", "Table name (default: derived from file name)")
	return cmd
}
