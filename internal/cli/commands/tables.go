package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List live tables and their timeline positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			infos, err := wb.Tables(cmd.Context())
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tables. Use 'cleanslate import' to get started.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Table", "Rows", "Columns", "Position", "History"})
			for _, info := range infos {
				position, history := "-", "-"
				if info.Timeline != nil {
					position = fmt.Sprintf("%d", info.Timeline.Position)
					history = fmt.Sprintf("%d", info.Timeline.Total)
				}
				t.AppendRow(table.Row{
					string(info.Table), info.State.RowCount, len(info.State.Columns), position, history,
				})
			}
			t.Render()
			return nil
		},
	}
}

// NewAuditCommand creates the audit command.
func NewAuditCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <table>",
		Short: "Show the audit log for a table",
		Long: `Show the append-only audit log: one entry per command, recorded at
original apply time. Undo, redo, and jump never add entries.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			entries, err := wb.Audit(cmd.Context(), core.TableID(args[0]), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit entries")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"When", "Kind", "Label", "Rows"})
			for _, e := range entries {
				t.AppendRow(table.Row{
					e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					string(e.Kind), e.Label, e.RowsAffected,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show (0 for all)")
	return cmd
}
