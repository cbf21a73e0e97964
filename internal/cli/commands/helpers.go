package commands

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nitro41992/cleanslate/internal/config"
	"github.com/nitro41992/cleanslate/internal/workbench"
	"github.com/nitro41992/cleanslate/pkg/core"
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

// Setup injects the resolved configuration and logger. Called by the root
// command before any subcommand runs.
func Setup(c *config.Config, l *slog.Logger) {
	cfg = c
	logger = l
}

func getConfig() *config.Config {
	if cfg == nil {
		c := &config.Config{}
		c.ApplyDefaults()
		return c
	}
	return cfg
}

func getLogger() *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// openWorkbench builds the workbench from the resolved configuration.
// Replay progress goes to stderr when verbose.
func openWorkbench(cmd *cobra.Command) (*workbench.Workbench, error) {
	c := getConfig()

	var progress func(table core.TableID, step, total int)
	if c.Verbose {
		progress = func(table core.TableID, step, total int) {
			fmt.Fprintf(cmd.ErrOrStderr(), "  replay %s: %d/%d\n", table, step, total)
		}
	}

	return workbench.Open(cmd.Context(), workbench.Config{
		DatabasePath:       c.Database,
		StatePath:          c.State,
		SnapshotDir:        c.SnapshotDir,
		CheckpointInterval: c.Timeline.CheckpointInterval,
		Debounce:           c.Debounce(),
		Progress:           progress,
		Logger:             getLogger(),
	})
}

// confirmDiscard enforces the branch-invalidation contract: appending with
// a redo tail discards it irreversibly, so the user confirms first unless
// --force. Non-interactive runs must pass --force.
func confirmDiscard(cmd *cobra.Command, wb *workbench.Workbench, table core.TableID, force bool) error {
	status, err := wb.Status(table)
	if err != nil {
		return err
	}
	if !status.CanRedo {
		return nil
	}

	discarded := status.Total - (status.Position + 1)
	if force {
		fmt.Fprintf(cmd.ErrOrStderr(), "Discarding %d redoable command(s)\n", discarded)
		return nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("appending would discard %d redoable command(s); re-run with --force", discarded)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"This will permanently discard %d redoable command(s). Continue? [y/N] ", discarded)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	if answer != "y" && answer != "yes" {
		return fmt.Errorf("aborted")
	}
	return nil
}

// applyAndReport runs one command through the workbench and prints the
// outcome.
func applyAndReport(cmd *cobra.Command, wb *workbench.Workbench, table core.TableID, c core.Command) error {
	result, err := wb.Apply(cmd.Context(), table, c)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d row(s) affected, %d row(s) total\n",
		c.Label, result.RowsAffected, result.State.RowCount)
	return nil
}

// parseAssignments parses col=value pairs from CLI arguments.
func parseAssignments(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		col, val, ok := strings.Cut(pair, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected column=value", pair)
		}
		values[col] = val
	}
	return values, nil
}
