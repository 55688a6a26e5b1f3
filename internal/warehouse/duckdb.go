// Package warehouse provides a DuckDB-backed analytical store for daily price
// and SOPR series. The implementation uses the DuckDB Appender API for
// high-performance bulk loads and leverages DuckDB's analytical query
// capabilities for fast time-series reads.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb/v2"
	"github.com/shopspring/decimal"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/logger"
	"github.com/onchainlab/sopr-analytics/internal/models"
)

// soprQueryFile is the name of the SOPR query template under the SQL
// directory. Keeping the query in a standalone file lets analysts iterate on
// it without a rebuild.
const soprQueryFile = "sopr_query.sql"

// DuckDBWarehouse implements the Warehouse interface using DuckDB as the
// backend. The price table is maintained as a whole-table snapshot while the
// SOPR table is read-only from the service's perspective.
type DuckDBWarehouse struct {
	db     *sql.DB
	cfg    config.WarehouseConfig
	logger *slog.Logger
	mu     sync.RWMutex

	soprQueryOnce sync.Once
	soprQuery     string
	soprQueryErr  error
}

// NewDuckDBWarehouse creates a new DuckDB warehouse instance.
// The database path can be ":memory:" for an in-memory database or a file
// path for persistent storage.
func NewDuckDBWarehouse(cfg config.WarehouseConfig, logger *slog.Logger) (*DuckDBWarehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("duckdb", cfg.DatabasePath)
	if err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to open DuckDB database: %w", err))
	}

	// Single writer pattern as recommended for DuckDB
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &DuckDBWarehouse{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Initialize implements Manager.Initialize.
// Creates the price and SOPR tables with their constraints and indexes.
func (d *DuckDBWarehouse) Initialize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("initializing DuckDB warehouse", "db_path", d.cfg.DatabasePath)

	if err := d.createPricesTable(ctx); err != nil {
		return NewStorageError("initialize", d.cfg.PricesTable, "", fmt.Errorf("failed to create prices table: %w", err))
	}

	if err := d.createSoprTable(ctx); err != nil {
		return NewStorageError("initialize", d.cfg.SoprTable, "", fmt.Errorf("failed to create sopr table: %w", err))
	}

	if err := d.createIndexes(ctx); err != nil {
		return NewStorageError("initialize", "", "", fmt.Errorf("failed to create indexes: %w", err))
	}

	d.logger.Info("DuckDB warehouse initialized successfully")
	return nil
}

// createPricesTable creates the daily price table keyed by calendar date.
func (d *DuckDBWarehouse) createPricesTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		date DATE NOT NULL,
		open DOUBLE NOT NULL,
		high DOUBLE NOT NULL,
		low DOUBLE NOT NULL,
		close DOUBLE NOT NULL,
		volume DOUBLE NOT NULL,
		loaded_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT %s_pk PRIMARY KEY (date),
		CONSTRAINT %s_ohlc_valid CHECK (high >= open AND high >= close AND low <= open AND low <= close),
		CONSTRAINT %s_prices_positive CHECK (open > 0 AND high > 0 AND low > 0 AND close > 0),
		CONSTRAINT %s_volume_non_negative CHECK (volume >= 0)
	)`, d.cfg.PricesTable, d.cfg.PricesTable, d.cfg.PricesTable, d.cfg.PricesTable, d.cfg.PricesTable)

	_, err := d.db.ExecContext(ctx, query)
	return err
}

// createSoprTable creates the daily SOPR table keyed by calendar date.
func (d *DuckDBWarehouse) createSoprTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		date DATE NOT NULL,
		sopr DOUBLE NOT NULL,
		CONSTRAINT %s_pk PRIMARY KEY (date),
		CONSTRAINT %s_non_negative CHECK (sopr >= 0)
	)`, d.cfg.SoprTable, d.cfg.SoprTable, d.cfg.SoprTable)

	_, err := d.db.ExecContext(ctx, query)
	return err
}

// createIndexes creates indexes for date-windowed queries.
func (d *DuckDBWarehouse) createIndexes(ctx context.Context) error {
	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_date ON %s (date)", d.cfg.PricesTable, d.cfg.PricesTable),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_date ON %s (date)", d.cfg.SoprTable, d.cfg.SoprTable),
	}

	for _, indexQuery := range indexes {
		if _, err := d.db.ExecContext(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// QueryPrices implements SeriesReader.QueryPrices.
// Returns daily closing prices within the window, most recent first.
func (d *DuckDBWarehouse) QueryPrices(ctx context.Context, req SeriesRequest) ([]models.PriceObservation, error) {
	query := fmt.Sprintf(
		"SELECT date, close AS price FROM %s WHERE date BETWEEN $1 AND $2 ORDER BY date DESC",
		d.cfg.PricesTable)

	d.logger.Debug("executing price query",
		"start", req.Start.Format(models.DateLayout),
		"end", req.End.Format(models.DateLayout))

	rows, err := d.db.QueryContext(ctx, query, req.Start, req.End)
	if err != nil {
		return nil, NewQueryError(d.cfg.PricesTable, query, fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var series []models.PriceObservation
	for rows.Next() {
		var obs models.PriceObservation
		if err := rows.Scan(&obs.Date, &obs.Price); err != nil {
			return nil, NewQueryError(d.cfg.PricesTable, query, fmt.Errorf("failed to scan row: %w", err))
		}
		obs.Date = models.DateOnly(obs.Date)
		series = append(series, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, NewQueryError(d.cfg.PricesTable, query, fmt.Errorf("row iteration error: %w", err))
	}

	return series, nil
}

// QuerySopr implements SeriesReader.QuerySopr.
// The query text is loaded once from the SQL directory and reused.
func (d *DuckDBWarehouse) QuerySopr(ctx context.Context, req SeriesRequest) ([]models.SoprObservation, error) {
	query, err := d.loadSoprQuery()
	if err != nil {
		return nil, NewQueryError(d.cfg.SoprTable, "", fmt.Errorf("failed to load query template: %w", err))
	}

	d.logger.Debug("executing sopr query",
		"start", req.Start.Format(models.DateLayout),
		"end", req.End.Format(models.DateLayout))

	rows, err := d.db.QueryContext(ctx, query, req.Start, req.End)
	if err != nil {
		return nil, NewQueryError(d.cfg.SoprTable, query, fmt.Errorf("failed to execute query: %w", err))
	}
	defer rows.Close()

	var series []models.SoprObservation
	for rows.Next() {
		var obs models.SoprObservation
		if err := rows.Scan(&obs.Date, &obs.Sopr); err != nil {
			return nil, NewQueryError(d.cfg.SoprTable, query, fmt.Errorf("failed to scan row: %w", err))
		}
		obs.Date = models.DateOnly(obs.Date)
		series = append(series, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, NewQueryError(d.cfg.SoprTable, query, fmt.Errorf("row iteration error: %w", err))
	}

	return series, nil
}

// loadSoprQuery reads the SOPR query template from disk, once.
func (d *DuckDBWarehouse) loadSoprQuery() (string, error) {
	d.soprQueryOnce.Do(func() {
		path := filepath.Join(d.cfg.SQLDir, soprQueryFile)
		data, err := os.ReadFile(path)
		if err != nil {
			d.soprQueryErr = fmt.Errorf("failed to read %s: %w", path, err)
			return
		}
		d.soprQuery = string(data)
	})
	return d.soprQuery, d.soprQueryErr
}

// CountPrices implements PriceWriter.CountPrices.
// A price table that does not exist yet counts as zero rows.
func (d *DuckDBWarehouse) CountPrices(ctx context.Context) (int64, error) {
	exists, err := d.tableExists(ctx, d.cfg.PricesTable)
	if err != nil {
		return 0, NewQueryError(d.cfg.PricesTable, "", fmt.Errorf("failed to check table existence: %w", err))
	}
	if !exists {
		return 0, nil
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", d.cfg.PricesTable)

	var count int64
	if err := d.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, NewQueryError(d.cfg.PricesTable, query, fmt.Errorf("failed to count rows: %w", err))
	}

	return count, nil
}

// tableExists checks the catalog for the named table.
func (d *DuckDBWarehouse) tableExists(ctx context.Context, table string) (bool, error) {
	query := "SELECT COUNT(*) FROM information_schema.tables WHERE table_name = $1"

	var count int64
	if err := d.db.QueryRowContext(ctx, query, table).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReplacePrices implements PriceWriter.ReplacePrices.
// Deletes every existing row, then bulk loads the new bars through the DuckDB
// Appender API. All bars are validated up front, and the delete and the load
// run in a single transaction on one connection, so a failed append or flush
// rolls back and the previous snapshot stays in place.
func (d *DuckDBWarehouse) ReplacePrices(ctx context.Context, bars []models.PriceBar) error {
	start := time.Now()

	for i, bar := range bars {
		if err := bar.Validate(); err != nil {
			return NewInsertError(d.cfg.PricesTable, fmt.Errorf("invalid bar at index %d: %w", i, err))
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("database connection is closed"))
	}

	conn, err := d.db.Conn(ctx)
	if err != nil {
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to get connection: %w", err))
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN TRANSACTION"); err != nil {
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to begin transaction: %w", err))
	}

	if err := d.replaceOnConn(ctx, conn, bars); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			d.logger.Error("rollback failed after aborted price load",
				"table", d.cfg.PricesTable, "error", rbErr)
		}
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			d.logger.Error("rollback failed after aborted price load",
				"table", d.cfg.PricesTable, "error", rbErr)
		}
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to commit transaction: %w", err))
	}

	log := d.logger
	if jobID := logger.GetJobID(ctx); jobID != "" {
		log = log.With("job_id", jobID)
	}
	log.Info("replaced price table contents",
		"table", d.cfg.PricesTable,
		"rows", len(bars),
		"duration", time.Since(start))

	return nil
}

// replaceOnConn clears the table and appends the new bars on the connection
// holding the open transaction. The appender is closed before the caller
// commits so flush failures still surface inside the transaction.
func (d *DuckDBWarehouse) replaceOnConn(ctx context.Context, conn *sql.Conn, bars []models.PriceBar) error {
	deleteQuery := fmt.Sprintf("DELETE FROM %s", d.cfg.PricesTable)
	if _, err := conn.ExecContext(ctx, deleteQuery); err != nil {
		return NewDeleteError(d.cfg.PricesTable, fmt.Errorf("failed to clear table: %w", err))
	}

	if len(bars) == 0 {
		d.logger.Warn("replacing prices with empty batch", "table", d.cfg.PricesTable)
		return nil
	}

	var driverConn *duckdb.Conn
	err := conn.Raw(func(dc interface{}) error {
		var ok bool
		driverConn, ok = dc.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("underlying connection is not a DuckDB connection")
		}
		return nil
	})
	if err != nil {
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to get DuckDB connection: %w", err))
	}

	appender, err := duckdb.NewAppenderFromConn(driverConn, "", d.cfg.PricesTable)
	if err != nil {
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to create appender: %w", err))
	}

	for _, bar := range bars {
		if err := d.appendBar(appender, bar); err != nil {
			appender.Close()
			return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to append bar %s: %w", bar.String(), err))
		}
	}

	if err := appender.Close(); err != nil {
		return NewInsertError(d.cfg.PricesTable, fmt.Errorf("failed to flush appender: %w", err))
	}

	return nil
}

// appendBar appends a single bar to the DuckDB appender.
// Decimal strings are converted to float64 under the fixed table schema.
func (d *DuckDBWarehouse) appendBar(appender *duckdb.Appender, bar models.PriceBar) error {
	open, err := decimal.NewFromString(bar.Open)
	if err != nil {
		return fmt.Errorf("invalid open price: %w", err)
	}
	high, err := decimal.NewFromString(bar.High)
	if err != nil {
		return fmt.Errorf("invalid high price: %w", err)
	}
	low, err := decimal.NewFromString(bar.Low)
	if err != nil {
		return fmt.Errorf("invalid low price: %w", err)
	}
	closePrice, err := decimal.NewFromString(bar.Close)
	if err != nil {
		return fmt.Errorf("invalid close price: %w", err)
	}
	volume, err := decimal.NewFromString(bar.Volume)
	if err != nil {
		return fmt.Errorf("invalid volume: %w", err)
	}

	openFloat, _ := open.Float64()
	highFloat, _ := high.Float64()
	lowFloat, _ := low.Float64()
	closeFloat, _ := closePrice.Float64()
	volumeFloat, _ := volume.Float64()

	if err := appender.AppendRow(
		bar.Date,
		openFloat,
		highFloat,
		lowFloat,
		closeFloat,
		volumeFloat,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to append row: %w", err)
	}

	return nil
}

// GetStats implements Manager.GetStats.
func (d *DuckDBWarehouse) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	priceCount, err := d.CountPrices(ctx)
	if err != nil {
		return nil, err
	}
	stats.PriceRows = priceCount

	soprExists, err := d.tableExists(ctx, d.cfg.SoprTable)
	if err != nil {
		return nil, NewQueryError(d.cfg.SoprTable, "", fmt.Errorf("failed to check table existence: %w", err))
	}
	if soprExists {
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", d.cfg.SoprTable)
		if err := d.db.QueryRowContext(ctx, query).Scan(&stats.SoprRows); err != nil {
			return nil, NewQueryError(d.cfg.SoprTable, query, fmt.Errorf("failed to count rows: %w", err))
		}
	}

	if stats.PriceRows > 0 {
		query := fmt.Sprintf("SELECT MIN(date), MAX(date) FROM %s", d.cfg.PricesTable)
		var earliest, latest sql.NullTime
		if err := d.db.QueryRowContext(ctx, query).Scan(&earliest, &latest); err != nil {
			return nil, NewQueryError(d.cfg.PricesTable, query, fmt.Errorf("failed to get date bounds: %w", err))
		}
		if earliest.Valid {
			stats.EarliestPriceDate = models.DateOnly(earliest.Time)
		}
		if latest.Valid {
			stats.LatestPriceDate = models.DateOnly(latest.Time)
		}
	}

	return stats, nil
}

// HealthCheck implements HealthChecker.HealthCheck.
func (d *DuckDBWarehouse) HealthCheck(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("database connection is closed"))
	}

	var result int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return NewStorageError("health_check", "", "", fmt.Errorf("health check query failed: %w", err))
	}

	return nil
}

// Close implements Manager.Close.
func (d *DuckDBWarehouse) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}

	if err := d.db.Close(); err != nil {
		return NewStorageError("close", "", "", fmt.Errorf("failed to close database: %w", err))
	}
	d.db = nil

	d.logger.Info("DuckDB warehouse closed")
	return nil
}

// Compile-time interface checks
var (
	_ SeriesReader  = (*DuckDBWarehouse)(nil)
	_ PriceWriter   = (*DuckDBWarehouse)(nil)
	_ Manager       = (*DuckDBWarehouse)(nil)
	_ HealthChecker = (*DuckDBWarehouse)(nil)
	_ Warehouse     = (*DuckDBWarehouse)(nil)
)
