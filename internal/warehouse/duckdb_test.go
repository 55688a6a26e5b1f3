package warehouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/models"
)

func newTestWarehouse(t *testing.T) *DuckDBWarehouse {
	t.Helper()

	sqlDir := t.TempDir()
	template := "SELECT date, sopr FROM daily_sopr WHERE date BETWEEN $1 AND $2 ORDER BY date DESC"
	require.NoError(t, os.WriteFile(filepath.Join(sqlDir, soprQueryFile), []byte(template), 0644))

	cfg := config.WarehouseConfig{
		DatabasePath: ":memory:",
		SQLDir:       sqlDir,
		PricesTable:  "daily_prices",
		SoprTable:    "daily_sopr",
	}

	w, err := NewDuckDBWarehouse(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(context.Background()))

	t.Cleanup(func() { w.Close() })
	return w
}

func mustBar(t *testing.T, date string, close string) models.PriceBar {
	t.Helper()

	day, err := models.ParseDate(date)
	require.NoError(t, err)

	bar, err := models.NewPriceBar(day, close, close, close, close, "1000")
	require.NoError(t, err)
	return *bar
}

func TestInitializeIsIdempotent(t *testing.T) {
	w := newTestWarehouse(t)
	assert.NoError(t, w.Initialize(context.Background()))
}

func TestReplacePricesAndCount(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	count, err := w.CountPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	bars := []models.PriceBar{
		mustBar(t, "2024-01-01", "42000"),
		mustBar(t, "2024-01-02", "42100"),
		mustBar(t, "2024-01-03", "42200"),
	}
	require.NoError(t, w.ReplacePrices(ctx, bars))

	count, err = w.CountPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestReplacePricesOverwritesWholeTable(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	first := []models.PriceBar{
		mustBar(t, "2024-01-01", "42000"),
		mustBar(t, "2024-01-02", "42100"),
	}
	require.NoError(t, w.ReplacePrices(ctx, first))

	second := []models.PriceBar{
		mustBar(t, "2024-02-01", "50000"),
	}
	require.NoError(t, w.ReplacePrices(ctx, second))

	count, err := w.CountPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "replace must not merge with previous contents")

	series, err := w.QueryPrices(ctx, SeriesRequest{
		Start: mustDate(t, "2024-01-01"),
		End:   mustDate(t, "2024-12-31"),
	})
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, 50000.0, series[0].Price)
}

func TestReplacePricesRejectsInvalidBatchBeforeDelete(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	require.NoError(t, w.ReplacePrices(ctx, []models.PriceBar{
		mustBar(t, "2024-01-01", "42000"),
	}))

	bad := models.PriceBar{
		Date: mustDate(t, "2024-01-02"),
		Open: "not-a-number", High: "1", Low: "1", Close: "1", Volume: "0",
	}
	err := w.ReplacePrices(ctx, []models.PriceBar{bad})
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "insert", storageErr.Operation)

	count, err := w.CountPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "failed batch must leave existing rows untouched")
}

func TestReplacePricesRollsBackOnAppendFailure(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	previous := []models.PriceBar{
		mustBar(t, "2024-01-01", "42000"),
		mustBar(t, "2024-01-02", "42100"),
	}
	require.NoError(t, w.ReplacePrices(ctx, previous))

	// Both bars pass validation but collide on the primary key, so the
	// failure only surfaces when the appender flushes.
	duplicated := []models.PriceBar{
		mustBar(t, "2024-02-01", "50000"),
		mustBar(t, "2024-02-01", "50100"),
	}
	err := w.ReplacePrices(ctx, duplicated)
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "insert", storageErr.Operation)

	count, err := w.CountPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "aborted load must roll back to the previous snapshot")

	series, err := w.QueryPrices(ctx, SeriesRequest{
		Start: mustDate(t, "2024-01-01"),
		End:   mustDate(t, "2024-12-31"),
	})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 42100.0, series[0].Price, "previous rows must survive the aborted load")
}

func TestQueryPricesWindowAndOrder(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	bars := []models.PriceBar{
		mustBar(t, "2024-01-01", "42000"),
		mustBar(t, "2024-01-02", "42100"),
		mustBar(t, "2024-01-03", "42200"),
		mustBar(t, "2024-01-04", "42300"),
	}
	require.NoError(t, w.ReplacePrices(ctx, bars))

	series, err := w.QueryPrices(ctx, SeriesRequest{
		Start: mustDate(t, "2024-01-02"),
		End:   mustDate(t, "2024-01-03"),
	})
	require.NoError(t, err)
	require.Len(t, series, 2, "window is inclusive on both ends")

	assert.Equal(t, "2024-01-03", series[0].Date.Format(models.DateLayout), "most recent first")
	assert.Equal(t, 42200.0, series[0].Price)
	assert.Equal(t, "2024-01-02", series[1].Date.Format(models.DateLayout))
	assert.Equal(t, 42100.0, series[1].Price)
}

func TestQuerySoprReadsTemplateFromDisk(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	_, err := w.db.ExecContext(ctx,
		"INSERT INTO daily_sopr (date, sopr) VALUES ($1, $2), ($3, $4)",
		mustDate(t, "2024-03-01"), 1.02,
		mustDate(t, "2024-03-02"), 0.97)
	require.NoError(t, err)

	series, err := w.QuerySopr(ctx, SeriesRequest{
		Start: mustDate(t, "2024-03-01"),
		End:   mustDate(t, "2024-03-02"),
	})
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, 0.97, series[0].Sopr, "most recent first")
	assert.Equal(t, 1.02, series[1].Sopr)
}

func TestQuerySoprMissingTemplate(t *testing.T) {
	cfg := config.WarehouseConfig{
		DatabasePath: ":memory:",
		SQLDir:       t.TempDir(), // no template file written
		PricesTable:  "daily_prices",
		SoprTable:    "daily_sopr",
	}

	w, err := NewDuckDBWarehouse(cfg, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Initialize(context.Background()))

	_, err = w.QuerySopr(context.Background(), SeriesRequest{
		Start: mustDate(t, "2024-01-01"),
		End:   mustDate(t, "2024-01-31"),
	})
	require.Error(t, err)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "query", storageErr.Operation)
}

func TestGetStats(t *testing.T) {
	w := newTestWarehouse(t)
	ctx := context.Background()

	require.NoError(t, w.ReplacePrices(ctx, []models.PriceBar{
		mustBar(t, "2024-01-01", "42000"),
		mustBar(t, "2024-01-05", "43000"),
	}))

	stats, err := w.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.PriceRows)
	assert.Equal(t, int64(0), stats.SoprRows)
	assert.Equal(t, "2024-01-01", stats.EarliestPriceDate.Format(models.DateLayout))
	assert.Equal(t, "2024-01-05", stats.LatestPriceDate.Format(models.DateLayout))
}

func TestHealthCheck(t *testing.T) {
	w := newTestWarehouse(t)
	assert.NoError(t, w.HealthCheck(context.Background()))

	require.NoError(t, w.Close())
	assert.Error(t, w.HealthCheck(context.Background()))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	day, err := models.ParseDate(s)
	require.NoError(t, err)
	return day
}
