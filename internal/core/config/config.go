// Package config handles configuration loading and validation for earn.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Review   ReviewConfig   `yaml:"review"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// ReviewConfig controls the auto-approval countdown.
type ReviewConfig struct {
	// Window is how long a submitted task stays in review before it is
	// approved automatically.
	Window time.Duration `yaml:"window"`
	// FireRetries is how many times a failed auto-approval is retried
	// back to back. After that the countdown is re-armed with a backoff
	// that doubles up to MaxBackoff until the approval lands.
	FireRetries  int           `yaml:"fire_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

// LedgerConfig controls the cached earnings totals.
type LedgerConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// CatalogConfig locates the task definition files.
type CatalogConfig struct {
	// Paths are doublestar glob patterns. Relative patterns resolve against
	// the data directory.
	Paths []string `yaml:"paths"`
	Watch bool     `yaml:"watch"`
}

// DatabaseConfig holds SQLite connection settings.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Review: ReviewConfig{
			Window:       30 * time.Second,
			FireRetries:  3,
			RetryBackoff: 500 * time.Millisecond,
			MaxBackoff:   30 * time.Second,
		},
		Ledger: LedgerConfig{
			CacheTTL: 10 * time.Minute,
		},
		Catalog: CatalogConfig{
			Paths: []string{"tasks/*.yaml"},
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Review.Window == 0 {
		c.Review.Window = defaults.Review.Window
	}
	if c.Review.RetryBackoff == 0 {
		c.Review.RetryBackoff = defaults.Review.RetryBackoff
	}
	if c.Review.MaxBackoff == 0 {
		c.Review.MaxBackoff = defaults.Review.MaxBackoff
	}
	if c.Ledger.CacheTTL == 0 {
		c.Ledger.CacheTTL = defaults.Ledger.CacheTTL
	}
	if len(c.Catalog.Paths) == 0 {
		c.Catalog.Paths = defaults.Catalog.Paths
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Review.Window <= 0 {
		return fmt.Errorf("review.window must be positive")
	}

	if c.Review.FireRetries < 0 {
		return fmt.Errorf("review.fire_retries cannot be negative")
	}

	if c.Review.MaxBackoff < 0 {
		return fmt.Errorf("review.max_backoff cannot be negative")
	}

	if c.Ledger.CacheTTL < 0 {
		return fmt.Errorf("ledger.cache_ttl cannot be negative")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns cannot exceed max_open_conns")
	}

	return nil
}

// CatalogPatterns returns the catalog globs with relative patterns resolved
// against the data directory.
func (c *Config) CatalogPatterns() []string {
	out := make([]string, 0, len(c.Catalog.Paths))
	for _, p := range c.Catalog.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.DataDir, p)
		}
		out = append(out, p)
	}
	return out
}

// TasksDir returns the default directory for task definition files.
func (c *Config) TasksDir() string {
	return filepath.Join(c.DataDir, "tasks")
}
