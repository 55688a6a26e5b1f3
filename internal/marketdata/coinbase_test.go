package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/models"
)

func testSource(t *testing.T, handler http.Handler) *CoinbaseSource {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src := NewCoinbaseSource(config.MarketDataConfig{
		ProductID: "BTC-USD",
		RateLimit: 100,
		Timeout:   "5s",
	}, nil)
	src.baseURL = server.URL
	return src
}

func candleJSON(date string, open, high, low, closePrice, volume string) string {
	day, _ := models.ParseDate(date)
	return fmt.Sprintf(`{"start":"%d","low":"%s","high":"%s","open":"%s","close":"%s","volume":"%s"}`,
		day.Unix(), low, high, open, closePrice, volume)
}

func TestFetchDailyBars(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/brokerage/products/BTC-USD/candles", r.URL.Path)
		assert.Equal(t, "86400", r.URL.Query().Get("granularity"))

		// Newest first, as the API returns them
		fmt.Fprintf(w, `{"candles":[%s,%s]}`,
			candleJSON("2024-01-02", "42100", "42500", "42000", "42300", "900"),
			candleJSON("2024-01-01", "42000", "42400", "41900", "42100", "1000"))
	})

	src := testSource(t, handler)

	start, _ := models.ParseDate("2024-01-01")
	end, _ := models.ParseDate("2024-01-03")

	bars, err := src.FetchDailyBars(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "2024-01-01", bars[0].Date.Format(models.DateLayout), "bars must come back oldest first")
	assert.Equal(t, "42100", bars[0].Close)
	assert.Equal(t, "2024-01-02", bars[1].Date.Format(models.DateLayout))
	assert.Equal(t, "42300", bars[1].Close)
}

func TestFetchDailyBarsSkipsMalformedCandles(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		day, _ := models.ParseDate("2024-01-01")
		fmt.Fprintf(w, `{"candles":[%s,{"start":"%d","low":"x","high":"x","open":"x","close":"x","volume":"x"}]}`,
			candleJSON("2024-01-02", "42100", "42500", "42000", "42300", "900"), day.Unix())
	})

	src := testSource(t, handler)

	start, _ := models.ParseDate("2024-01-01")
	end, _ := models.ParseDate("2024-01-03")

	bars, err := src.FetchDailyBars(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, bars, 1, "malformed candles are skipped, not fatal")
	assert.Equal(t, "2024-01-02", bars[0].Date.Format(models.DateLayout))
}

func TestFetchDailyBarsEmptyWindow(t *testing.T) {
	src := testSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an empty window")
	}))

	day, _ := models.ParseDate("2024-01-01")
	bars, err := src.FetchDailyBars(context.Background(), day, day)
	require.NoError(t, err)
	assert.Empty(t, bars)
}

func TestFetchDailyBarsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"candles":[%s]}`,
			candleJSON("2024-01-01", "42000", "42400", "41900", "42100", "1000"))
	})

	src := testSource(t, handler)

	start, _ := models.ParseDate("2024-01-01")
	end, _ := models.ParseDate("2024-01-02")

	bars, err := src.FetchDailyBars(context.Background(), start, end)
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.GreaterOrEqual(t, calls.Load(), int64(2))
}

func TestFetchDailyBarsClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})

	src := testSource(t, handler)

	start, _ := models.ParseDate("2024-01-01")
	end, _ := models.ParseDate("2024-01-02")

	_, err := src.FetchDailyBars(context.Background(), start, end)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client error 404")
	assert.Equal(t, int64(1), calls.Load(), "client errors must not be retried")
}

func TestChunkWindowSplitsLongRanges(t *testing.T) {
	src := NewCoinbaseSource(config.MarketDataConfig{ProductID: "BTC-USD", RateLimit: 10}, nil)

	start, _ := models.ParseDate("2019-01-01")
	end := start.AddDate(0, 0, 650)

	chunks := src.chunkWindow(start, end)
	require.Len(t, chunks, 3)

	assert.True(t, chunks[0].start.Equal(start))
	assert.True(t, chunks[len(chunks)-1].end.Equal(end))
	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].start.Equal(chunks[i-1].end), "chunks must be contiguous")
		span := chunks[i].end.Sub(chunks[i].start)
		assert.LessOrEqual(t, span, time.Duration(maxCandlesPerRequest)*24*time.Hour)
	}
}

func TestHealthCheck(t *testing.T) {
	ok := testSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	assert.NoError(t, ok.HealthCheck(context.Background()))

	bad := testSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.Error(t, bad.HealthCheck(context.Background()))
}
