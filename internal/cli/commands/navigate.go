package commands

// navigate.go - undo, redo, jump, and checkpoint commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <table>",
		Short: "Step the table back one command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			table := core.TableID(args[0])
			state, err := wb.Undo(cmd.Context(), table)
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to undo")
				return nil
			}
			return reportPosition(cmd, wb, table, *state)
		},
	}
}

// NewRedoCommand creates the redo command.
func NewRedoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redo <table>",
		Short: "Step the table forward one command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			table := core.TableID(args[0])
			state, err := wb.Redo(cmd.Context(), table)
			if err != nil {
				return err
			}
			if state == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to redo")
				return nil
			}
			return reportPosition(cmd, wb, table, *state)
		},
	}
}

// NewJumpCommand creates the jump command.
func NewJumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jump <table> <position>",
		Short: "Replay the table to an arbitrary timeline position",
		Long: `Move the table to the state it had at a timeline position.

Position -1 is the original imported baseline; positions 0 and up are the
state after each recorded command. The engine restores the nearest
snapshot at or before the target and replays only the commands between
them.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			position, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid position %q: %w", args[1], err)
			}

			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			table := core.TableID(args[0])
			state, err := wb.Jump(cmd.Context(), table, position)
			if err != nil {
				return err
			}
			return reportPosition(cmd, wb, table, state)
		},
	}
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint <table>",
		Short: "Materialize a snapshot at the current position",
		Long: `Take an explicit snapshot at the table's current timeline position,
in addition to the periodic ones. Useful before a long scripted batch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			table := core.TableID(args[0])
			if err := wb.Checkpoint(cmd.Context(), table); err != nil {
				return err
			}
			status, err := wb.Status(table)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checkpoint at position %d\n", status.Position)
			return nil
		},
	}
}

// reportPosition prints the cursor and table state after a navigation.
func reportPosition(cmd *cobra.Command, wb statuser, table core.TableID, state core.TableState) error {
	status, err := wb.Status(table)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s at position %d/%d: %d row(s), %d column(s)\n",
		table, status.Position, status.Total-1, state.RowCount, len(state.Columns))
	return nil
}

type statuser interface {
	Status(table core.TableID) (core.TimelineStatus, error)
}
