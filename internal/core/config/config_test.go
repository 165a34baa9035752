package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load("", dataDir)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, 30*time.Second, cfg.Review.Window)
	assert.Equal(t, 3, cfg.Review.FireRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Review.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Review.MaxBackoff)
	assert.Equal(t, 10*time.Minute, cfg.Ledger.CacheTTL)
	assert.Equal(t, "127.0.0.1:8787", cfg.Server.Addr)
	assert.Equal(t, []string{filepath.Join(dataDir, "tasks/*.yaml")}, cfg.CatalogPatterns())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Review, cfg.Review)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
review:
  window: 2m
  fire_retries: 5
ledger:
  cache_ttl: 1m
catalog:
  paths:
    - /etc/earn/tasks/**/*.yaml
    - extra/*.yaml
  watch: true
database:
  max_open_conns: 4
  max_idle_conns: 2
server:
  addr: ":9000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Review.Window)
	assert.Equal(t, 5, cfg.Review.FireRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Review.RetryBackoff, "unset keys keep defaults")
	assert.Equal(t, time.Minute, cfg.Ledger.CacheTTL)
	assert.True(t, cfg.Catalog.Watch)
	assert.Equal(t, []string{
		"/etc/earn/tasks/**/*.yaml",
		filepath.Join(dir, "extra/*.yaml"),
	}, cfg.CatalogPatterns())
	assert.Equal(t, 4, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5000, cfg.Database.BusyTimeout)
	assert.Equal(t, ":9000", cfg.Server.Addr)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("review: [unclosed"), 0o644))

	_, err := Load(path, dir)
	assert.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data directory"},
		{name: "negative window", mutate: func(c *Config) { c.Review.Window = -time.Second }, wantErr: "review.window"},
		{name: "negative retries", mutate: func(c *Config) { c.Review.FireRetries = -1 }, wantErr: "fire_retries"},
		{name: "negative max backoff", mutate: func(c *Config) { c.Review.MaxBackoff = -time.Second }, wantErr: "max_backoff"},
		{name: "negative ttl", mutate: func(c *Config) { c.Ledger.CacheTTL = -time.Second }, wantErr: "cache_ttl"},
		{name: "no connections", mutate: func(c *Config) { c.Database.MaxOpenConns = 0 }, wantErr: "max_open_conns"},
		{name: "idle exceeds open", mutate: func(c *Config) { c.Database.MaxIdleConns = 20 }, wantErr: "max_idle_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
