package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, Validate(cfg))

	assert.Equal(t, "daily_prices", cfg.Warehouse.PricesTable)
	assert.Equal(t, "daily_sopr", cfg.Warehouse.SoprTable)
	assert.Equal(t, "BTC-USD", cfg.MarketData.ProductID)
	assert.Equal(t, 30, cfg.Dashboard.DefaultLookbackDays)
	assert.Equal(t, 1.0, cfg.Dashboard.SoprThreshold)
	assert.Equal(t, "2019-01-01", cfg.Ingest.HistoricalStartDate)
	assert.Equal(t, 0.0001, cfg.Ingest.DustThreshold)
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	m := NewManager("", nil)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Warehouse.DatabasePath, cfg.Warehouse.DatabasePath)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{
		"warehouse": {"database_path": "/tmp/test.db", "prices_table": "daily_prices", "sopr_table": "daily_sopr"},
		"dashboard": {"default_lookback_days": 90, "sopr_threshold": 1.0, "sample_days": 30, "cache_ttl": "30m"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	m := NewManager(path, nil)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Warehouse.DatabasePath)
	assert.Equal(t, 90, cfg.Dashboard.DefaultLookbackDays)
	assert.Equal(t, "30m", cfg.Dashboard.CacheTTL)
	// File omits logging, so defaults remain
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "missing.json"), nil)
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, Default().MarketData.ProductID, cfg.MarketData.ProductID)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("MARKET_PRODUCT_ID", "ETH-USD")
	t.Setenv("LOOKBACK_DAYS", "60")
	t.Setenv("USE_SAMPLE_SOPR", "false")

	m := NewManager("", nil)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "ETH-USD", cfg.MarketData.ProductID)
	assert.Equal(t, 60, cfg.Dashboard.DefaultLookbackDays)
	assert.False(t, cfg.Dashboard.UseSampleSopr)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"missing database path", func(c *AppConfig) { c.Warehouse.DatabasePath = "" }, "database_path"},
		{"missing product", func(c *AppConfig) { c.MarketData.ProductID = "" }, "product_id"},
		{"zero rate limit", func(c *AppConfig) { c.MarketData.RateLimit = 0 }, "rate_limit"},
		{"zero lookback", func(c *AppConfig) { c.Dashboard.DefaultLookbackDays = 0 }, "default_lookback_days"},
		{"bad cache ttl", func(c *AppConfig) { c.Dashboard.CacheTTL = "soon" }, "cache_ttl"},
		{"bad start date", func(c *AppConfig) { c.Ingest.HistoricalStartDate = "2019-02-30" }, "historical_start_date"},
		{"negative dust threshold", func(c *AppConfig) { c.Ingest.DustThreshold = -1 }, "dust_threshold"},
		{"bad log level", func(c *AppConfig) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *AppConfig) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCacheTTLDuration(t *testing.T) {
	cfg := DashboardConfig{CacheTTL: "30m"}
	assert.Equal(t, 30*time.Minute, cfg.CacheTTLDuration())

	broken := DashboardConfig{CacheTTL: "nonsense"}
	assert.Equal(t, time.Hour, broken.CacheTTLDuration(), "unparseable TTL falls back to one hour")
}
