package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/engine"
)

func isValidation(err error) bool {
	return errors.Is(err, engine.ErrValidation)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one decay sweep: dormancy, reconnection and demotion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.engine.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d: %d dormant, %d reconnected, %d reactivated, %d demoted\n",
			res.Scanned, res.Dormant, res.Reconnected, res.Reactivated, res.Demoted)
		return nil
	},
}

var narrateBatch int

var narrateCmd = &cobra.Command{
	Use:   "narrate",
	Short: "Generate backstories for relationships that need one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer rt.Close()

		res, err := rt.engine.RunNarrativeBatch(cmd.Context(), narrateBatch)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, item := range res.Items {
			line := fmt.Sprintf("  %-9s %s", item.Status, item.AgentID)
			if item.Error != "" {
				line += ": " + item.Error
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "generated %d, failed %d, skipped %d, arcs %d in %s\n",
			res.Generated, res.Failed, res.Skipped, res.Arcs, res.Elapsed.Round(time.Millisecond))
		return nil
	},
}

func init() {
	narrateCmd.Flags().IntVarP(&narrateBatch, "batch-size", "n", 0, "relationships per batch (default from config)")
}
