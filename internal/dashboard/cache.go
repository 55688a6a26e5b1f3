package dashboard

import (
	"sync"
	"time"

	"github.com/onchainlab/sopr-analytics/internal/series"
)

// cacheKey identifies one cached window. Sample and live results for the same
// window are cached separately.
type cacheKey struct {
	start     string
	end       string
	useSample bool
}

type soprEntry struct {
	result  *series.SoprResult
	expires time.Time
}

type priceEntry struct {
	result  *series.PriceResult
	expires time.Time
}

// resultCache holds windowed query results with a fixed TTL.
// Expired entries are overwritten on the next miss; there is no background
// eviction since the key space is bounded by distinct dashboard windows.
type resultCache struct {
	mu     sync.RWMutex
	ttl    time.Duration
	sopr   map[cacheKey]soprEntry
	prices map[cacheKey]priceEntry
	now    func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		ttl:    ttl,
		sopr:   make(map[cacheKey]soprEntry),
		prices: make(map[cacheKey]priceEntry),
		now:    time.Now,
	}
}

func (c *resultCache) getSopr(key cacheKey) (*series.SoprResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.sopr[key]
	if !ok || c.now().After(entry.expires) {
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) putSopr(key cacheKey, result *series.SoprResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sopr[key] = soprEntry{result: result, expires: c.now().Add(c.ttl)}
}

func (c *resultCache) getPrices(key cacheKey) (*series.PriceResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.prices[key]
	if !ok || c.now().After(entry.expires) {
		return nil, false
	}
	return entry.result, true
}

func (c *resultCache) putPrices(key cacheKey, result *series.PriceResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[key] = priceEntry{result: result, expires: c.now().Add(c.ttl)}
}
