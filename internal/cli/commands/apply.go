package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewApplyCommand creates the apply command group. Every subcommand
// appends one command to the table's timeline. If the cursor sits before
// the end of the log, the redo tail is discarded after confirmation.
func NewApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a transformation to a table",
		Long: `Apply one dataset mutation and record it on the table's timeline.

Applying while undone commands exist discards them permanently; pass
--force to skip the confirmation prompt.`,
	}

	cmd.PersistentFlags().Bool("force", false, "Discard any redoable commands without prompting")

	cmd.AddCommand(newApplyTransformCommand())
	cmd.AddCommand(newApplyScrubCommand())
	cmd.AddCommand(newApplyEditCommand())
	cmd.AddCommand(newApplyInsertCommand())
	cmd.AddCommand(newApplyDeleteCommand())
	cmd.AddCommand(newApplyMergeCommand())
	cmd.AddCommand(newApplyAddColumnCommand())
	return cmd
}

// runApply owns the shared append flow: confirm branch discard, apply,
// report.
func runApply(cmd *cobra.Command, table core.TableID, build func() (core.Command, error)) error {
	force, _ := cmd.Flags().GetBool("force")

	c, err := build()
	if err != nil {
		return err
	}

	wb, err := openWorkbench(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = wb.Close() }()

	if err := confirmDiscard(cmd, wb, table, force); err != nil {
		return err
	}
	return applyAndReport(cmd, wb, table, c)
}

func newApplyTransformCommand() *cobra.Command {
	var find, with string

	cmd := &cobra.Command{
		Use:   "transform <table> <column> <op>",
		Short: "Rewrite a column with trim, upper, lower, or replace",
		Example: `  cleanslate apply transform customers email lower
  cleanslate apply transform customers name replace --find "  " --with " "`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				params := core.Params{}
				if args[2] == "replace" {
					if find == "" {
						return core.Command{}, fmt.Errorf("replace requires --find")
					}
					params["find"] = find
					params["with"] = with
				}
				return core.NewColumnTransform(args[1], args[2], params), nil
			})
		},
	}

	cmd.Flags().StringVar(&find, "find", "", "Substring to find (replace op)")
	cmd.Flags().StringVar(&with, "with", "", "Replacement text (replace op)")
	return cmd
}

func newApplyScrubCommand() *cobra.Command {
	var days int64

	cmd := &cobra.Command{
		Use:   "scrub <table> <column> <algorithm>",
		Short: "De-identify a column with hash, mask, jitter_days, or scramble_digits",
		Long: `De-identify a column. Randomized algorithms capture a seed when the
command is created, so undo/redo replays produce the exact values that
were originally shown and audited.`,
		Example: `  cleanslate apply scrub patients ssn hash
  cleanslate apply scrub patients admitted jitter_days --days 14`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				params := core.Params{}
				if days > 0 {
					params["days"] = days
				}
				return core.NewScrubRule(args[1], args[2], params), nil
			})
		},
	}

	cmd.Flags().Int64Var(&days, "days", 0, "Jitter window in days (jitter_days)")
	return cmd
}

func newApplyEditCommand() *cobra.Command {
	var whereCol, whereVal, value string

	cmd := &cobra.Command{
		Use:     "edit <table> <column>",
		Short:   "Set one cell, addressed by a key column and value",
		Example: `  cleanslate apply edit customers email --where-col id --where-val 42 --value jane@example.com`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if whereCol == "" {
				return fmt.Errorf("--where-col is required")
			}
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				return core.NewManualCellEdit(args[1], whereCol, whereVal, value), nil
			})
		},
	}

	cmd.Flags().StringVar(&whereCol, "where-col", "", "Key column")
	cmd.Flags().StringVar(&whereVal, "where-val", "", "Key value")
	cmd.Flags().StringVar(&value, "value", "", "New cell value")
	return cmd
}

func newApplyInsertCommand() *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:     "insert <table>",
		Short:   "Insert one row",
		Example: `  cleanslate apply insert customers --set id=43 --set name="Jane Doe"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sets) == 0 {
				return fmt.Errorf("at least one --set column=value is required")
			}
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				values, err := parseAssignments(sets)
				if err != nil {
					return core.Command{}, err
				}
				return core.NewRowInsert(values), nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "Column assignment (repeatable)")
	return cmd
}

func newApplyDeleteCommand() *cobra.Command {
	var whereCol, whereVal string

	cmd := &cobra.Command{
		Use:     "delete <table>",
		Short:   "Delete the rows matching a key column and value",
		Example: `  cleanslate apply delete customers --where-col id --where-val 42`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if whereCol == "" {
				return fmt.Errorf("--where-col is required")
			}
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				return core.NewRowDelete(whereCol, whereVal), nil
			})
		},
	}

	cmd.Flags().StringVar(&whereCol, "where-col", "", "Key column")
	cmd.Flags().StringVar(&whereVal, "where-val", "", "Key value")
	return cmd
}

func newApplyMergeCommand() *cobra.Command {
	var on string

	cmd := &cobra.Command{
		Use:     "merge <table>",
		Short:   "Collapse duplicate rows sharing the same key columns",
		Example: `  cleanslate apply merge customers --on email,zip`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on == "" {
				return fmt.Errorf("--on is required")
			}
			keyCols := strings.Split(on, ",")
			for i := range keyCols {
				keyCols[i] = strings.TrimSpace(keyCols[i])
			}
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				return core.NewRecordMerge(keyCols), nil
			})
		},
	}

	cmd.Flags().StringVar(&on, "on", "", "Comma-separated key columns")
	return cmd
}

func newApplyAddColumnCommand() *cobra.Command {
	var sqlType, expr string

	cmd := &cobra.Command{
		Use:   "add-column <table> <column>",
		Short: "Add a column, optionally computed from an expression",
		Example: `  cleanslate apply add-column customers full_name --expr "first || ' ' || last"
  cleanslate apply add-column customers score --type INTEGER`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, core.TableID(args[0]), func() (core.Command, error) {
				return core.NewColumnAdd(args[1], sqlType, expr), nil
			})
		},
	}

	cmd.Flags().StringVar(&sqlType, "type", "", "Column type (default VARCHAR)")
	cmd.Flags().StringVar(&expr, "expr", "", "SQL expression to populate the column")
	return cmd
}
