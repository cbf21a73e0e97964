// Package cli provides the command-line interface for CleanSlate.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nitro41992/cleanslate/internal/cli/commands"
	"github.com/nitro41992/cleanslate/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

var cfgFile string

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cleanslate",
		Short: "CleanSlate - Data Cleaning Workbench",
		Long: `CleanSlate is a workbench for cleaning, deduplicating, and de-identifying
tabular data, built with Go and DuckDB.

Every transformation is recorded on a per-table command timeline with
periodic snapshots, so any sequence of destructive edits can be undone,
redone, or replayed to an arbitrary point - even across restarts.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, configPath, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))

			if cfg.Verbose && configPath != "" {
				fmt.Fprintf(os.Stderr, "Using config file: %s\n", configPath)
			}

			commands.Setup(cfg, logger)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Built with Go and DuckDB
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./cleanslate.yaml)")
	rootCmd.PersistentFlags().String("database", "", "Path to DuckDB database holding live tables")
	rootCmd.PersistentFlags().String("state", "", "Path to timeline state database")
	rootCmd.PersistentFlags().String("snapshot-dir", "", "Directory for snapshot materializations")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit))
	rootCmd.AddCommand(commands.NewImportCommand())
	rootCmd.AddCommand(commands.NewApplyCommand())
	rootCmd.AddCommand(commands.NewUndoCommand())
	rootCmd.AddCommand(commands.NewRedoCommand())
	rootCmd.AddCommand(commands.NewJumpCommand())
	rootCmd.AddCommand(commands.NewCheckpointCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewAuditCommand())
	rootCmd.AddCommand(commands.NewTablesCommand())
	rootCmd.AddCommand(commands.NewDropCommand())
	rootCmd.AddCommand(commands.NewShellCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
