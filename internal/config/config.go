// Package config provides centralized configuration management for the SOPR
// analytics service. Configuration is loaded from a JSON file and environment
// variables, validated, and passed explicitly into component constructors so
// there is no process-global configuration state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/onchainlab/sopr-analytics/internal/models"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	// Application metadata
	AppName string `json:"app_name" env:"APP_NAME"`
	Version string `json:"version" env:"VERSION"`

	// Warehouse configuration
	Warehouse WarehouseConfig `json:"warehouse"`

	// Market data source configuration
	MarketData MarketDataConfig `json:"market_data"`

	// Dashboard configuration
	Dashboard DashboardConfig `json:"dashboard"`

	// Ingestion job configuration
	Ingest IngestConfig `json:"ingest"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// WarehouseConfig configures the analytical store
type WarehouseConfig struct {
	DatabasePath string `json:"database_path" env:"WAREHOUSE_DB_PATH"` // DuckDB file path or ":memory:"
	SQLDir       string `json:"sql_dir" env:"WAREHOUSE_SQL_DIR"`       // Directory holding query template files
	PricesTable  string `json:"prices_table" env:"PRICES_TABLE"`       // Daily price table name
	SoprTable    string `json:"sopr_table" env:"SOPR_TABLE"`           // Daily SOPR table name
	QueryTimeout string `json:"query_timeout" env:"QUERY_TIMEOUT"`     // Query execution timeout
}

// MarketDataConfig configures the external OHLCV source
type MarketDataConfig struct {
	ProductID string `json:"product_id" env:"MARKET_PRODUCT_ID"` // Asset identifier, e.g. "BTC-USD"
	RateLimit int    `json:"rate_limit" env:"MARKET_RATE_LIMIT"` // Requests per second
	Timeout   string `json:"timeout" env:"MARKET_HTTP_TIMEOUT"`  // HTTP request timeout
}

// DashboardConfig configures the dashboard API server
type DashboardConfig struct {
	ListenAddr          string  `json:"listen_addr" env:"DASHBOARD_LISTEN_ADDR"`   // HTTP bind address
	CacheTTL            string  `json:"cache_ttl" env:"CACHE_TTL"`                 // Response cache lifetime
	DefaultLookbackDays int     `json:"default_lookback_days" env:"LOOKBACK_DAYS"` // Default date window
	SoprThreshold       float64 `json:"sopr_threshold" env:"SOPR_THRESHOLD"`       // Break-even line
	UseSampleSopr       bool    `json:"use_sample_sopr" env:"USE_SAMPLE_SOPR"`     // Serve sample SOPR by default
	SampleDays          int     `json:"sample_days" env:"SAMPLE_DAYS"`             // Length of generated sample series
}

// IngestConfig configures the price ingestion job
type IngestConfig struct {
	HistoricalStartDate string  `json:"historical_start_date" env:"HISTORICAL_START_DATE"` // Earliest date to fetch
	DustThreshold       float64 `json:"dust_threshold" env:"DUST_THRESHOLD"`               // BTC; outputs below this are ignored upstream
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" env:"LOG_LEVEL"`             // Log level: debug, info, warn, error
	Format        string            `json:"format" env:"LOG_FORMAT"`           // Log format: json, text
	Output        string            `json:"output" env:"LOG_OUTPUT"`           // Output: stdout, stderr, file
	FilePath      string            `json:"file_path" env:"LOG_FILE_PATH"`     // Log file path
	MaxSize       int               `json:"max_size" env:"LOG_MAX_SIZE"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" env:"LOG_MAX_BACKUPS"` // Maximum log file backups
	MaxAge        int               `json:"max_age" env:"LOG_MAX_AGE"`         // Maximum log file age in days
	Compress      bool              `json:"compress" env:"LOG_COMPRESS"`       // Compress rotated files
	ContextFields map[string]string `json:"context_fields"`                    // Additional context fields
}

// Manager handles configuration loading and validation
type Manager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewManager creates a new configuration manager
func NewManager(configPath string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		configPath: configPath,
		logger:     logger,
	}
}

// Load loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (m *Manager) Load() (*AppConfig, error) {
	config := Default()

	if m.configPath != "" {
		if err := m.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := m.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = config
	m.logger.Info("configuration loaded successfully",
		"config_path", m.configPath,
		"database_path", config.Warehouse.DatabasePath,
		"product_id", config.MarketData.ProductID,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON file
func (m *Manager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.logger.Debug("config file does not exist, using defaults", "path", m.configPath)
		return nil
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", m.configPath, err)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", m.configPath, err)
	}

	m.logger.Debug("loaded configuration from file", "path", m.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (m *Manager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}
	if val := os.Getenv("VERSION"); val != "" {
		config.Version = val
	}

	// Warehouse config
	if val := os.Getenv("WAREHOUSE_DB_PATH"); val != "" {
		config.Warehouse.DatabasePath = val
	}
	if val := os.Getenv("WAREHOUSE_SQL_DIR"); val != "" {
		config.Warehouse.SQLDir = val
	}
	if val := os.Getenv("PRICES_TABLE"); val != "" {
		config.Warehouse.PricesTable = val
	}
	if val := os.Getenv("SOPR_TABLE"); val != "" {
		config.Warehouse.SoprTable = val
	}

	// Market data config
	if val := os.Getenv("MARKET_PRODUCT_ID"); val != "" {
		config.MarketData.ProductID = val
	}
	if val := os.Getenv("MARKET_RATE_LIMIT"); val != "" {
		if rateLimit, err := strconv.Atoi(val); err == nil {
			config.MarketData.RateLimit = rateLimit
		}
	}
	if val := os.Getenv("MARKET_HTTP_TIMEOUT"); val != "" {
		config.MarketData.Timeout = val
	}

	// Dashboard config
	if val := os.Getenv("DASHBOARD_LISTEN_ADDR"); val != "" {
		config.Dashboard.ListenAddr = val
	}
	if val := os.Getenv("CACHE_TTL"); val != "" {
		config.Dashboard.CacheTTL = val
	}
	if val := os.Getenv("LOOKBACK_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			config.Dashboard.DefaultLookbackDays = days
		}
	}
	if val := os.Getenv("SOPR_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			config.Dashboard.SoprThreshold = threshold
		}
	}
	if val := os.Getenv("USE_SAMPLE_SOPR"); val != "" {
		config.Dashboard.UseSampleSopr = val == "true"
	}

	// Ingest config
	if val := os.Getenv("HISTORICAL_START_DATE"); val != "" {
		config.Ingest.HistoricalStartDate = val
	}
	if val := os.Getenv("DUST_THRESHOLD"); val != "" {
		if threshold, err := strconv.ParseFloat(val, 64); err == nil {
			config.Ingest.DustThreshold = threshold
		}
	}

	// Logging config
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	m.logger.Debug("loaded configuration from environment variables")
	return nil
}

// Validate checks the configuration for consistency and required fields
func Validate(config *AppConfig) error {
	var errors []string

	if config.Warehouse.DatabasePath == "" {
		errors = append(errors, "warehouse.database_path is required")
	}
	if config.Warehouse.PricesTable == "" {
		errors = append(errors, "warehouse.prices_table is required")
	}
	if config.Warehouse.SoprTable == "" {
		errors = append(errors, "warehouse.sopr_table is required")
	}

	if config.MarketData.ProductID == "" {
		errors = append(errors, "market_data.product_id is required")
	}
	if config.MarketData.RateLimit <= 0 {
		errors = append(errors, "market_data.rate_limit must be greater than 0")
	}

	if config.Dashboard.DefaultLookbackDays <= 0 {
		errors = append(errors, "dashboard.default_lookback_days must be greater than 0")
	}
	if config.Dashboard.SoprThreshold <= 0 {
		errors = append(errors, "dashboard.sopr_threshold must be greater than 0")
	}
	if config.Dashboard.SampleDays <= 0 {
		errors = append(errors, "dashboard.sample_days must be greater than 0")
	}
	if config.Dashboard.CacheTTL != "" {
		if _, err := time.ParseDuration(config.Dashboard.CacheTTL); err != nil {
			errors = append(errors, fmt.Sprintf("dashboard.cache_ttl is not a valid duration: %v", err))
		}
	}

	if config.Ingest.HistoricalStartDate != "" {
		if _, err := models.ParseDate(config.Ingest.HistoricalStartDate); err != nil {
			errors = append(errors, fmt.Sprintf("ingest.historical_start_date is not a valid date: %v", err))
		}
	}
	if config.Ingest.DustThreshold < 0 {
		errors = append(errors, "ingest.dust_threshold must be non-negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Get returns the current configuration
func (m *Manager) Get() *AppConfig {
	return m.config
}

// CacheTTLDuration returns the parsed dashboard cache TTL.
func (c *DashboardConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return time.Hour
	}
	return d
}

// Default returns a configuration with sensible defaults
func Default() *AppConfig {
	return &AppConfig{
		AppName: "sopr-analytics",
		Version: "1.0.0",
		Warehouse: WarehouseConfig{
			DatabasePath: "./data/sopr.db",
			SQLDir:       "./sql",
			PricesTable:  "daily_prices",
			SoprTable:    "daily_sopr",
			QueryTimeout: "30s",
		},
		MarketData: MarketDataConfig{
			ProductID: "BTC-USD",
			RateLimit: 10,
			Timeout:   "30s",
		},
		Dashboard: DashboardConfig{
			ListenAddr:          ":8080",
			CacheTTL:            "1h",
			DefaultLookbackDays: 30,
			SoprThreshold:       1.0, // Break-even line
			UseSampleSopr:       true,
			SampleDays:          30,
		},
		Ingest: IngestConfig{
			HistoricalStartDate: "2019-01-01", // Don't fetch before this
			DustThreshold:       0.0001,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "",
			MaxSize:    100, // 100MB
			MaxBackups: 5,
			MaxAge:     30, // 30 days
			Compress:   true,
			ContextFields: map[string]string{
				"service": "sopr-analytics",
				"version": "1.0.0",
			},
		},
	}
}

// String returns a string representation of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
