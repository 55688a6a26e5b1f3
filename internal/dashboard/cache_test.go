package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainlab/sopr-analytics/internal/series"
)

func TestResultCacheHitAndMiss(t *testing.T) {
	c := newResultCache(time.Hour)
	key := cacheKey{start: "2024-01-01", end: "2024-01-31", useSample: false}

	_, ok := c.getSopr(key)
	assert.False(t, ok)

	result := &series.SoprResult{Source: series.SourceLive}
	c.putSopr(key, result)

	cached, ok := c.getSopr(key)
	require.True(t, ok)
	assert.Same(t, result, cached)
}

func TestResultCacheKeySeparatesSampleFromLive(t *testing.T) {
	c := newResultCache(time.Hour)

	live := cacheKey{start: "2024-01-01", end: "2024-01-31", useSample: false}
	sampled := cacheKey{start: "2024-01-01", end: "2024-01-31", useSample: true}

	c.putSopr(live, &series.SoprResult{Source: series.SourceLive})

	_, ok := c.getSopr(sampled)
	assert.False(t, ok, "sample and live results must not share cache entries")
}

func TestResultCacheExpiry(t *testing.T) {
	c := newResultCache(time.Hour)

	current := time.Now()
	c.now = func() time.Time { return current }

	key := cacheKey{start: "2024-01-01", end: "2024-01-31"}
	c.putSopr(key, &series.SoprResult{Source: series.SourceLive})

	_, ok := c.getSopr(key)
	assert.True(t, ok)

	current = current.Add(time.Hour + time.Minute)
	_, ok = c.getSopr(key)
	assert.False(t, ok, "entries past their TTL must not be served")
}

func TestResultCachePrices(t *testing.T) {
	c := newResultCache(time.Hour)
	key := cacheKey{start: "2024-01-01", end: "2024-01-31"}

	result := &series.PriceResult{Source: series.SourceSample}
	c.putPrices(key, result)

	cached, ok := c.getPrices(key)
	require.True(t, ok)
	assert.Same(t, result, cached)
}
