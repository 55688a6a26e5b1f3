// Package marketdata defines the external OHLCV source abstraction used by
// the price ingestion job. Implementations fetch daily bars for a single
// configured asset.
package marketdata

import (
	"context"
	"time"

	"github.com/onchainlab/sopr-analytics/internal/models"
)

// BarFetcher retrieves daily OHLCV bars from an external source.
type BarFetcher interface {
	// FetchDailyBars retrieves one bar per calendar day in [start, end).
	// Bars are returned in ascending date order. An empty window or a window
	// with no published data returns an empty slice, not an error.
	FetchDailyBars(ctx context.Context, start, end time.Time) ([]models.PriceBar, error)
}

// HealthChecker verifies that the external source is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Source combines fetching and health monitoring.
type Source interface {
	BarFetcher
	HealthChecker
}
