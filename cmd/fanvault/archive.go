package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fanvault/pkg/archiver"
	"fanvault/pkg/auth"
)

var (
	archiveReportPath string
	archiveProfile    string
)

var archiveCmd = &cobra.Command{
	Use:   "archive <creator-id>",
	Short: "Download media for every runnable item of a creator",
	Long: `Archive runs the extraction phase: it bridges the stored session cookies
into the download client, then processes every discovered item that is still
pending or previously failed. Items that exhausted the retry ceiling are
marked abandoned and skipped until reset.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creatorID := args[0]

		manager, err := auth.NewManager()
		if err != nil {
			return err
		}
		profile := archiveProfile
		if profile == "" {
			profile = cfg.Platform.Profile
		}
		bundle, err := manager.Retrieve(profile)
		if err != nil {
			return fmt.Errorf("no session for profile %q, run 'fanvault auth import' first: %w", profile, err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		client, err := newClient()
		if err != nil {
			return err
		}
		if bundle.UserAgent != "" {
			client.SetHeader("User-Agent", bundle.UserAgent)
		}

		arch := archiver.New(store, client, cfg, log)
		report, runErr := arch.RunBatch(cmd.Context(), creatorID, bundle.Cookies, archiver.StoredRefsExtractor{})

		if archiveReportPath != "" {
			if err := report.WriteFile(archiveReportPath); err != nil {
				log.WithError(err).Error("failed to write batch report")
			}
		}

		fmt.Printf("Batch %s: %d completed, %d failed, %d skipped\n",
			report.BatchID, report.Succeeded, report.Failed, report.Skipped)
		return runErr
	},
}

func init() {
	archiveCmd.Flags().StringVar(&archiveReportPath, "report", "", "write a JSON batch report to this path")
	archiveCmd.Flags().StringVar(&archiveProfile, "profile", "", "session profile to use (defaults to config)")
	rootCmd.AddCommand(archiveCmd)
}
