package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nitro41992/cleanslate/internal/workbench"
	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewShellCommand creates the interactive shell command.
func NewShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive timeline shell",
		Long: `Open an interactive shell over the workbench. The databases stay open
for the whole session, which makes stepping through history much faster
than one process per command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()
			return runShell(cmd, wb)
		},
	}
}

func runShell(cmd *cobra.Command, wb *workbench.Workbench) error {
	historyFile := filepath.Join(filepath.Dir(getConfig().State), "shell_history")

	completer := readline.NewPrefixCompleter(
		readline.PcItem("tables"),
		readline.PcItem("history"),
		readline.PcItem("status"),
		readline.PcItem("undo"),
		readline.PcItem("redo"),
		readline.PcItem("jump"),
		readline.PcItem("checkpoint"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cleanslate> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize shell: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "CleanSlate shell. Type 'help' for commands, 'quit' to exit.")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}

		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "quit" || fields[0] == "exit" {
			return nil
		}
		if err := runShellCommand(cmd, wb, fields); err != nil {
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func runShellCommand(cmd *cobra.Command, wb *workbench.Workbench, fields []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	arg := func(i int) (core.TableID, error) {
		if len(fields) <= i {
			return "", fmt.Errorf("usage: %s <table>", fields[0])
		}
		return core.TableID(fields[i]), nil
	}

	switch fields[0] {
	case "help":
		_, _ = fmt.Fprintln(out, "Commands:")
		_, _ = fmt.Fprintln(out, "  tables                 list tables")
		_, _ = fmt.Fprintln(out, "  history <table>        show the command timeline")
		_, _ = fmt.Fprintln(out, "  status <table>         show cursor and undo/redo labels")
		_, _ = fmt.Fprintln(out, "  undo <table>           step back one command")
		_, _ = fmt.Fprintln(out, "  redo <table>           step forward one command")
		_, _ = fmt.Fprintln(out, "  jump <table> <pos>     replay to a position (-1 = baseline)")
		_, _ = fmt.Fprintln(out, "  checkpoint <table>     snapshot the current position")
		_, _ = fmt.Fprintln(out, "  quit                   exit")
		return nil

	case "tables":
		infos, err := wb.Tables(ctx)
		if err != nil {
			return err
		}
		for _, info := range infos {
			_, _ = fmt.Fprintf(out, "  %s: %d row(s)\n", info.Table, info.State.RowCount)
		}
		return nil

	case "history":
		table, err := arg(1)
		if err != nil {
			return err
		}
		commands, err := wb.History(table)
		if err != nil {
			return err
		}
		status, err := wb.Status(table)
		if err != nil {
			return err
		}
		renderHistoryTable(cmd, status, commands)
		return nil

	case "status":
		table, err := arg(1)
		if err != nil {
			return err
		}
		status, err := wb.Status(table)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s: position %d of %d command(s)\n", table, status.Position, status.Total)
		if status.CanUndo {
			_, _ = fmt.Fprintf(out, "  undo: %s\n", status.UndoLabel)
		}
		if status.CanRedo {
			_, _ = fmt.Fprintf(out, "  redo: %s\n", status.RedoLabel)
		}
		return nil

	case "undo":
		table, err := arg(1)
		if err != nil {
			return err
		}
		state, err := wb.Undo(ctx, table)
		if err != nil {
			return err
		}
		if state == nil {
			_, _ = fmt.Fprintln(out, "nothing to undo")
			return nil
		}
		return reportPosition(cmd, wb, table, *state)

	case "redo":
		table, err := arg(1)
		if err != nil {
			return err
		}
		state, err := wb.Redo(ctx, table)
		if err != nil {
			return err
		}
		if state == nil {
			_, _ = fmt.Fprintln(out, "nothing to redo")
			return nil
		}
		return reportPosition(cmd, wb, table, *state)

	case "jump":
		table, err := arg(1)
		if err != nil {
			return err
		}
		if len(fields) < 3 {
			return fmt.Errorf("usage: jump <table> <position>")
		}
		position, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("invalid position %q", fields[2])
		}
		state, err := wb.Jump(ctx, table, position)
		if err != nil {
			return err
		}
		return reportPosition(cmd, wb, table, state)

	case "checkpoint":
		table, err := arg(1)
		if err != nil {
			return err
		}
		return wb.Checkpoint(ctx, table)

	default:
		return fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}
}
