package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fanvault/pkg/config"
	"fanvault/pkg/httpx"
	"fanvault/pkg/logger"
	"fanvault/pkg/statusstore"
	"fanvault/pkg/statusstore/firetree"
	"fanvault/pkg/statusstore/sqlite"
)

var (
	cfgPath  string
	logLevel string

	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fanvault",
	Short: "Archive creator content through a two-phase pipeline",
	Long: `fanvault archives subscription-platform creator content in two phases:
discovery records which content items exist, extraction pulls each item's
detail and downloads its media. Progress is tracked per item in a status
store so interrupted runs resume where they left off.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if err := logger.Initialize(logger.Options{
			Level: cfg.Logging.Level,
			File:  cfg.Logging.File,
		}); err != nil {
			return err
		}
		log = logger.GetLogger()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// openStore builds the configured backend wrapped in connection retries.
func openStore() (statusstore.Store, error) {
	var inner statusstore.Store
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := sqlite.Open(cfg.Store.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		inner = s
	case "firetree":
		client, err := httpx.NewClient(30*time.Second, log)
		if err != nil {
			return nil, err
		}
		inner = firetree.Open(cfg.Store.FiretreeURL, cfg.Store.FiretreeAuth, client, log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	return statusstore.WithRetry(inner, cfg.Store.ConnectRetries, log), nil
}

// newClient builds the bulk HTTP client used for downloads.
func newClient() (*httpx.Client, error) {
	client, err := httpx.NewClient(cfg.Download.RequestTimeout, log)
	if err != nil {
		return nil, err
	}
	if cfg.Platform.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.Platform.UserAgent)
	}
	return client, nil
}
