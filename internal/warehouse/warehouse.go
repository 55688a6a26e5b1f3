// Package warehouse defines the analytical store interfaces for daily price
// and SOPR series persistence. These interfaces provide abstractions over the
// storage backend while maintaining contract compatibility and enabling
// dependency injection.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/onchainlab/sopr-analytics/internal/models"
)

// SeriesReader handles date-windowed series retrieval.
// Both queries return rows ordered by descending date, matching the stored
// query templates.
type SeriesReader interface {
	// QueryPrices retrieves daily closing prices within the request window,
	// both endpoints inclusive.
	QueryPrices(ctx context.Context, req SeriesRequest) ([]models.PriceObservation, error)

	// QuerySopr retrieves daily SOPR values within the request window,
	// both endpoints inclusive.
	QuerySopr(ctx context.Context, req SeriesRequest) ([]models.SoprObservation, error)
}

// PriceWriter handles price table mutations.
// The price table is maintained as a whole-table snapshot: each load replaces
// every existing row rather than merging.
type PriceWriter interface {
	// ReplacePrices atomically swaps the full contents of the price table for
	// the given bars. All bars are validated before any row is written.
	ReplacePrices(ctx context.Context, bars []models.PriceBar) error

	// CountPrices returns the number of rows currently in the price table.
	// A missing table counts as zero rows rather than an error.
	CountPrices(ctx context.Context) (int64, error)
}

// Manager handles warehouse lifecycle and operational concerns.
type Manager interface {
	// Initialize prepares the backend for operation: tables, indexes, and
	// schema setup. Idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Close gracefully shuts down the backend. After Close() the instance
	// should not be used.
	Close() error

	// GetStats returns operational statistics about the stored series.
	GetStats(ctx context.Context) (*Stats, error)

	// HealthChecker embedded interface for health monitoring
	HealthChecker
}

// HealthChecker provides health monitoring capabilities for the warehouse.
type HealthChecker interface {
	// HealthCheck verifies that the backend is operational via a lightweight
	// query. Returns an error if the backend is unhealthy.
	HealthCheck(ctx context.Context) error
}

// Warehouse combines all capabilities into a single interface.
// This is the primary interface implementations should satisfy.
type Warehouse interface {
	SeriesReader
	PriceWriter
	Manager
}

// SeriesRequest defines the date window for a series query.
// Both bounds are calendar dates; the window is inclusive on both ends.
type SeriesRequest struct {
	// Start is the earliest date to include in results
	Start time.Time

	// End is the latest date to include in results
	End time.Time
}

// Stats provides operational metrics about the stored series.
type Stats struct {
	// PriceRows is the number of rows in the price table
	PriceRows int64

	// SoprRows is the number of rows in the SOPR table
	SoprRows int64

	// EarliestPriceDate is the date of the oldest price row
	EarliestPriceDate time.Time

	// LatestPriceDate is the date of the newest price row
	LatestPriceDate time.Time
}

// StorageError represents errors that occur during warehouse operations.
// Provides structured error information for better error handling and debugging.
type StorageError struct {
	// Operation is the operation that failed (e.g., "insert", "query")
	Operation string

	// Table is the database table involved in the operation
	Table string

	// Query is the SQL query or operation details (may be empty)
	Query string

	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("warehouse operation %s on table %s failed: %v", e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("warehouse operation %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the provided details.
func NewStorageError(operation, table, query string, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewQueryError creates a StorageError specifically for query operations.
func NewQueryError(table, query string, err error) *StorageError {
	return &StorageError{
		Operation: "query",
		Table:     table,
		Query:     query,
		Err:       err,
	}
}

// NewInsertError creates a StorageError specifically for insert operations.
func NewInsertError(table string, err error) *StorageError {
	return &StorageError{
		Operation: "insert",
		Table:     table,
		Err:       err,
	}
}

// NewDeleteError creates a StorageError specifically for delete operations.
func NewDeleteError(table string, err error) *StorageError {
	return &StorageError{
		Operation: "delete",
		Table:     table,
		Err:       err,
	}
}
