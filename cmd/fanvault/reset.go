package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fanvault/pkg/logger"
	"fanvault/pkg/pipeline"
	"fanvault/pkg/statusstore"
)

var resetPhase string

var resetCmd = &cobra.Command{
	Use:   "reset <item-id>",
	Short: "Force an item's phase back to pending",
	Long: `Reset returns an item to pending and zeroes its attempt count. This is the
only way out of the abandoned status and exists for operator intervention
after the underlying problem (bad item, platform change) has been dealt with.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var phase statusstore.Phase
		switch resetPhase {
		case "phase1", "discovery":
			phase = statusstore.PhaseDiscovery
		case "phase2", "extraction":
			phase = statusstore.PhaseExtraction
		default:
			return fmt.Errorf("unknown phase %q (expected phase1 or phase2)", resetPhase)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		machine := pipeline.New(store, cfg.Pipeline.MaxAttempts, logger.GetLogger())
		item, err := machine.Reset(cmd.Context(), args[0], phase)
		if err != nil {
			return err
		}

		fmt.Printf("Item %s reset: phase1=%s phase2=%s attempts=%d\n",
			item.ID, item.Phase1Status, item.Phase2Status, item.AttemptCount)
		return nil
	},
}

func init() {
	resetCmd.Flags().StringVar(&resetPhase, "phase", "phase2", "phase to reset (phase1 or phase2)")
	rootCmd.AddCommand(resetCmd)
}
