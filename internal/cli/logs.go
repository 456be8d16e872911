package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/matzehuels/nixupdate/pkg/store"
)

var storeFlags = map[string]string{
	"database": "database",
}

// logsCommand creates the logs command.
func (c *CLI) logsCommand() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "logs <drv-or-attr>",
		Short: "Show the build output of failed updates",
		Long: `Show recorded failures by derivation or attribute path.

The argument is first looked up as a derivation path. A bare derivation
file name (without /nix/store/) matches any store path ending in it. If no
derivation matches, all failures of the attribute path are shown, newest
first.`,
		Example: `  nixupdate logs hello
  nixupdate logs /nix/store/abc123-hello-2.12.drv
  nixupdate logs python3Packages.requests --interactive`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd, storeFlags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := c.openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := findLogs(ctx, st, args[0])
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				printInfo("No failures recorded for %s", args[0])
				return nil
			}

			if interactive {
				_, err := tea.NewProgram(NewLogBrowserModel(logs), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
				return err
			}
			for i, l := range logs {
				if i > 0 {
					fmt.Println()
				}
				fmt.Print(renderLog(l))
			}
			return nil
		},
	}

	cmd.Flags().String("database", "", "state database path (sqlite store)")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "browse the failures in a terminal UI")

	return cmd
}

// findLogs resolves id to a single derivation log or to every failure of
// an attribute path.
func findLogs(ctx context.Context, st store.Store, id string) ([]store.Log, error) {
	l, err := st.GetLogByDrv(ctx, id)
	switch {
	case err == nil:
		return []store.Log{*l}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}
	return st.GetFailedLogsByAttr(ctx, id)
}
