package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nitro41992/cleanslate/pkg/core"
)

// NewDropCommand creates the drop command.
func NewDropCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "drop <table>",
		Short: "Delete a table, its timeline, and all its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := core.TableID(args[0])

			if !force {
				if !term.IsTerminal(int(os.Stdin.Fd())) {
					return fmt.Errorf("dropping %s is irreversible; re-run with --force", table)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Drop %s and its entire history? [y/N] ", table)
				reader := bufio.NewReader(os.Stdin)
				answer, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				answer = strings.ToLower(strings.TrimSpace(answer))
				if answer != "y" && answer != "yes" {
					return fmt.Errorf("aborted")
				}
			}

			wb, err := openWorkbench(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = wb.Close() }()

			if err := wb.Drop(cmd.Context(), table); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", table)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Drop without prompting")
	return cmd
}
