package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fanvault/pkg/stats"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats <creator-id>",
	Short: "Recompute progress counts for a creator",
	Long: `Stats recomputes the creator's progress from the live item set on every
invocation. Nothing is cached, so counts are correct even after maintenance
tooling edited items directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := stats.New(store).Recompute(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if statsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		fmt.Printf("Creator %s\n", result.CreatorID)
		fmt.Printf("  Total:     %d\n", result.Total)
		fmt.Printf("  Completed: %d\n", result.Completed)
		fmt.Printf("  Pending:   %d\n", result.Pending)
		fmt.Printf("  Failed:    %d\n", result.Failed)
		if !result.LastUpdated.IsZero() {
			fmt.Printf("  Updated:   %s\n", result.LastUpdated.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit JSON instead of text")
	rootCmd.AddCommand(statsCmd)
}
