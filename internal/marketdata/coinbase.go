// Coinbase Advanced Trade API adapter for daily OHLCV bars.
//
// The adapter applies client-side rate limiting, exponential backoff with
// jitter on transient failures, and chunks long date windows to respect the
// API's per-request candle cap.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/models"
)

const (
	coinbaseBaseURL = "https://api.coinbase.com"

	productsEndpoint = "/api/v3/brokerage/products"
	candlesEndpoint  = "/api/v3/brokerage/products/%s/candles"

	// Daily granularity in seconds
	dayGranularity = 86400

	// Coinbase caps candles per request
	maxCandlesPerRequest = 300

	rateLimitBurst = 1

	defaultRequestTimeout = 30 * time.Second

	initialRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
	retryMultiplier   = 2.0
	retryJitter       = 0.5

	healthCheckTimeout = 5 * time.Second

	userAgent = "sopr-analytics/1.0"
)

// CoinbaseSource implements the Source interface against the Coinbase
// Advanced Trade API for one configured product.
type CoinbaseSource struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	productID   string
	logger      *slog.Logger
}

// NewCoinbaseSource creates a Coinbase market data source from configuration.
func NewCoinbaseSource(cfg config.MarketDataConfig, logger *slog.Logger) *CoinbaseSource {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := defaultRequestTimeout
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}

	return &CoinbaseSource{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), rateLimitBurst),
		baseURL:     coinbaseBaseURL,
		productID:   cfg.ProductID,
		logger:      logger,
	}
}

// FetchDailyBars implements BarFetcher.FetchDailyBars.
func (c *CoinbaseSource) FetchDailyBars(ctx context.Context, start, end time.Time) ([]models.PriceBar, error) {
	start = models.DateOnly(start)
	end = models.DateOnly(end)
	if !start.Before(end) {
		return nil, nil
	}

	c.logger.Debug("fetching daily bars",
		"product", c.productID,
		"start", start.Format(models.DateLayout),
		"end", end.Format(models.DateLayout))

	bars := make([]models.PriceBar, 0, int(end.Sub(start).Hours()/24))

	for _, chunk := range c.chunkWindow(start, end) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}

		candles, err := c.fetchCandleChunk(ctx, chunk.start, chunk.end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bars for %s..%s: %w",
				chunk.start.Format(models.DateLayout), chunk.end.Format(models.DateLayout), err)
		}

		for _, candle := range candles {
			bar, err := c.convertCandle(candle)
			if err != nil {
				c.logger.Warn("skipping malformed candle",
					"start", candle.Start,
					"error", err)
				continue
			}
			bars = append(bars, *bar)
		}
	}

	// The API returns newest first within each chunk
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	c.logger.Debug("fetched daily bars", "count", len(bars))
	return bars, nil
}

// HealthCheck implements HealthChecker.HealthCheck via a lightweight products
// listing request.
func (c *CoinbaseSource) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	requestURL := c.baseURL + productsEndpoint + "?limit=1"

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	return nil
}

type timeChunk struct {
	start time.Time
	end   time.Time
}

// chunkWindow splits [start, end) into spans of at most maxCandlesPerRequest
// days each.
func (c *CoinbaseSource) chunkWindow(start, end time.Time) []timeChunk {
	chunkSpan := time.Duration(maxCandlesPerRequest) * dayGranularity * time.Second

	var chunks []timeChunk
	for current := start; current.Before(end); {
		chunkEnd := current.Add(chunkSpan)
		if chunkEnd.After(end) {
			chunkEnd = end
		}
		chunks = append(chunks, timeChunk{start: current, end: chunkEnd})
		current = chunkEnd
	}
	return chunks
}

func (c *CoinbaseSource) fetchCandleChunk(ctx context.Context, start, end time.Time) ([]coinbaseCandle, error) {
	requestURL := fmt.Sprintf(c.baseURL+candlesEndpoint, c.productID)

	params := url.Values{}
	params.Add("start", strconv.FormatInt(start.Unix(), 10))
	params.Add("end", strconv.FormatInt(end.Unix(), 10))
	params.Add("granularity", strconv.Itoa(dayGranularity))

	body, err := c.makeRequestWithRetry(ctx, requestURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Candles []coinbaseCandle `json:"candles"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse candles response: %w", err)
	}

	return apiResponse.Candles, nil
}

// makeRequestWithRetry issues a GET with exponential backoff. Rate limit
// responses and server errors are retried; client errors are permanent.
func (c *CoinbaseSource) makeRequestWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = initialRetryDelay
	backoffConfig.MaxInterval = maxRetryDelay
	backoffConfig.Multiplier = retryMultiplier
	backoffConfig.RandomizationFactor = retryJitter
	backoffConfig.MaxElapsedTime = 0 // rely on context for the overall deadline

	var responseBody []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			if retryAfter > 0 {
				c.logger.Warn("rate limited by upstream", "retry_after", retryAfter)
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return fmt.Errorf("rate limited")
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(body)))
		}

		responseBody = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(backoffConfig, ctx)); err != nil {
		return nil, err
	}

	return responseBody, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}

	return 0
}

// convertCandle maps an API candle to a validated daily bar.
func (c *CoinbaseSource) convertCandle(candle coinbaseCandle) (*models.PriceBar, error) {
	date := time.Unix(candle.Start, 0).UTC()
	return models.NewPriceBar(date, candle.Open, candle.High, candle.Low, candle.Close, candle.Volume)
}

type coinbaseCandle struct {
	Start  int64  `json:"start,string"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

// Compile-time interface checks
var (
	_ BarFetcher    = (*CoinbaseSource)(nil)
	_ HealthChecker = (*CoinbaseSource)(nil)
	_ Source        = (*CoinbaseSource)(nil)
)
