package commands

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "history <table>",
		Short: "Show the table's command timeline",
		Long: `List the table's command log in causal order, with the cursor marking
the current position. Position -1 is the imported baseline.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			tableID := core.TableID(args[0])
			commands, err := wb.History(tableID)
			if err != nil {
				return err
			}
			status, err := wb.Status(tableID)
			if err != nil {
				return err
			}

			switch format {
			case "json":
				return renderHistoryJSON(cmd, status, commands)
			case "yaml":
				return renderHistoryYAML(cmd, status, commands)
			default:
				renderHistoryTable(cmd, status, commands)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "table", "Output format (table|json|yaml)")
	return cmd
}

type historyOutput struct {
	Table    core.TableID   `json:"table" yaml:"table"`
	Position int            `json:"position" yaml:"position"`
	Commands []core.Command `json:"commands" yaml:"commands"`
}

func renderHistoryJSON(cmd *cobra.Command, status core.TimelineStatus, commands []core.Command) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(historyOutput{Table: status.Table, Position: status.Position, Commands: commands})
}

func renderHistoryYAML(cmd *cobra.Command, status core.TimelineStatus, commands []core.Command) error {
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer func() { _ = enc.Close() }()
	return enc.Encode(historyOutput{Table: status.Table, Position: status.Position, Commands: commands})
}

func renderHistoryTable(cmd *cobra.Command, status core.TimelineStatus, commands []core.Command) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "Pos", "Kind", "Label", "Rows"})

	cursor := func(pos int) string {
		if pos == status.Position {
			return ">"
		}
		return ""
	}

	t.AppendRow(table.Row{cursor(-1), -1, "", "baseline (import)", ""})
	for i, c := range commands {
		t.AppendRow(table.Row{cursor(i), i, string(c.Kind), c.Label, c.RowsAffected})
	}
	t.Render()

	if status.CanUndo {
		fmt.Fprintf(cmd.OutOrStdout(), "undo: %s\n", status.UndoLabel)
	}
	if status.CanRedo {
		fmt.Fprintf(cmd.OutOrStdout(), "redo: %s\n", status.RedoLabel)
	}
}
