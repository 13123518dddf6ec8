package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <item-id>",
	Short: "Soft-delete an item so pipeline runs skip it",
	Long: `Delete marks an item deleted without removing its record. Deleted items are
excluded from batches and stats but stay in the store for audit.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SoftDelete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Item %s deleted\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
