package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// statusCommand creates the status command.
func (c *CLI) statusCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the update history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd, storeFlags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			spinner := newSpinner(ctx, "Loading update history...")
			spinner.Start()
			st, err := c.openStore(ctx, cfg)
			if err != nil {
				spinner.StopWithError("Could not open the %s store", cfg.Store)
				return err
			}
			defer st.Close()

			stats, err := st.Stats(ctx, time.Now())
			if err != nil {
				spinner.Stop()
				return err
			}
			spinner.Stop()

			fmt.Print(renderStats(stats))
			if !all {
				if stats.Records > 0 {
					fmt.Println()
					printNextStep("List every package", appName+" status --all")
				}
				return nil
			}

			records, err := st.ListRecords(ctx)
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Print(renderRecords(records))
			return nil
		},
	}

	cmd.Flags().String("database", "", "state database path (sqlite store)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "list every tracked package")

	return cmd
}
