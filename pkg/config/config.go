package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the archiver
type Config struct {
	// Platform session settings
	Platform PlatformConfig `yaml:"platform" json:"platform"`

	// Status store backend selection
	Store StoreConfig `yaml:"store" json:"store"`

	// Download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Pipeline retry accounting
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Rate limiting for platform API calls
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PlatformConfig holds settings for talking to the subscription platform
type PlatformConfig struct {
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// Profile names the stored session bundle used to bridge browser cookies
	// into the bulk client.
	Profile string `yaml:"profile" json:"profile"`
}

// StoreConfig selects and configures the status store backend
type StoreConfig struct {
	// Backend is either "sqlite" or "firetree".
	Backend string `yaml:"backend" json:"backend"`
	// SQLitePath locates the relational backend database file.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`
	// FiretreeURL is the base URL of the realtime-tree document store.
	FiretreeURL string `yaml:"firetree_url" json:"firetree_url"`
	// FiretreeAuth is the access token appended to realtime-tree requests.
	FiretreeAuth string `yaml:"firetree_auth" json:"firetree_auth"`
	// ConnectRetries bounds retries when the backend is unreachable.
	ConnectRetries int `yaml:"connect_retries" json:"connect_retries"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	// ConcurrentItems is the phase-2 worker count, one item per worker.
	ConcurrentItems int `yaml:"concurrent_items" json:"concurrent_items"`
	// PerItemDownloads caps concurrent asset downloads within one item.
	PerItemDownloads int `yaml:"per_item_downloads" json:"per_item_downloads"`
	// GlobalDownloads caps concurrent asset downloads across all workers.
	GlobalDownloads int           `yaml:"global_downloads" json:"global_downloads"`
	RequestTimeout  time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// RetryAttempts bounds retries of one candidate URL on transient failures.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// SkipExisting skips network activity when the destination file already
	// exists with non-zero size. Trades a small staleness risk for avoiding
	// redundant large transfers.
	SkipExisting bool `yaml:"skip_existing" json:"skip_existing"`
}

// PipelineConfig holds retry accounting for the state machine
type PipelineConfig struct {
	// MaxAttempts is the ceiling after which an item is flagged abandoned.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory        string `yaml:"base_directory" json:"base_directory"`
	CreateCreatorFolders bool   `yaml:"create_creator_folders" json:"create_creator_folders"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Profile:   "default",
		},
		Store: StoreConfig{
			Backend:        "sqlite",
			SQLitePath:     "./fanvault.db",
			ConnectRetries: 3,
		},
		Download: DownloadConfig{
			ConcurrentItems:  3,
			PerItemDownloads: 2,
			GlobalDownloads:  6,
			RequestTimeout:   30 * time.Second,
			RetryAttempts:    3,
			SkipExisting:     true,
		},
		Pipeline: PipelineConfig{
			MaxAttempts: 5,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 60,
		},
		Output: OutputConfig{
			BaseDirectory:        "./downloads",
			CreateCreatorFolders: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration overrides from environment variables,
// consulting a .env file first when present.
func (c *Config) LoadFromEnv() error {
	_ = godotenv.Load()

	if v := os.Getenv("FANVAULT_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("FANVAULT_SQLITE_PATH"); v != "" {
		c.Store.SQLitePath = v
	}
	if v := os.Getenv("FANVAULT_FIRETREE_URL"); v != "" {
		c.Store.FiretreeURL = v
	}
	if v := os.Getenv("FANVAULT_FIRETREE_AUTH"); v != "" {
		c.Store.FiretreeAuth = v
	}
	if v := os.Getenv("FANVAULT_PROFILE"); v != "" {
		c.Platform.Profile = v
	}
	if v := os.Getenv("FANVAULT_OUTPUT_DIR"); v != "" {
		c.Output.BaseDirectory = v
	}
	if v := os.Getenv("FANVAULT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FANVAULT_CONCURRENT_ITEMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FANVAULT_CONCURRENT_ITEMS: %w", err)
		}
		c.Download.ConcurrentItems = n
	}
	if v := os.Getenv("FANVAULT_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FANVAULT_MAX_ATTEMPTS: %w", err)
		}
		c.Pipeline.MaxAttempts = n
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case "firetree":
		if c.Store.FiretreeURL == "" {
			return fmt.Errorf("store.firetree_url is required for the firetree backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q (expected sqlite or firetree)", c.Store.Backend)
	}

	if c.Download.ConcurrentItems < 1 {
		return fmt.Errorf("download.concurrent_items must be at least 1")
	}
	if c.Download.PerItemDownloads < 1 {
		return fmt.Errorf("download.per_item_downloads must be at least 1")
	}
	if c.Download.GlobalDownloads < c.Download.PerItemDownloads {
		return fmt.Errorf("download.global_downloads must be >= per_item_downloads")
	}
	if c.Download.RequestTimeout <= 0 {
		return fmt.Errorf("download.request_timeout must be positive")
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1")
	}
	if c.Output.BaseDirectory == "" {
		return fmt.Errorf("output.base_directory is required")
	}
	return nil
}

// findConfigFile looks for a config file in the standard locations
func findConfigFile() string {
	candidates := []string{
		"fanvault.yaml",
		".fanvault.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "fanvault", "config.yaml"),
			filepath.Join(home, ".fanvault.yaml"),
		)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load builds the effective configuration: defaults, then the config file
// (explicit path or discovered), then environment overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := cfg.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
