// Package series provides the data access layer for daily SOPR and price
// series. It validates date windows, queries the warehouse, and falls back to
// deterministic sample data when the warehouse cannot serve a request. Every
// result carries a source tag so callers and dashboards can tell live data
// from generated data.
package series

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/logger"
	"github.com/onchainlab/sopr-analytics/internal/models"
	"github.com/onchainlab/sopr-analytics/internal/sample"
	"github.com/onchainlab/sopr-analytics/internal/warehouse"
)

// Source identifies where a result's observations came from.
type Source string

const (
	// SourceLive marks observations read from the warehouse.
	SourceLive Source = "live"

	// SourceSample marks observations generated on request.
	SourceSample Source = "sample"

	// SourceSampleFallback marks generated observations served because a
	// live query failed. The result carries the failure reason.
	SourceSampleFallback Source = "sample_fallback"
)

// SoprResult is a dated SOPR series with its source tag.
// Observations are ordered by ascending date.
type SoprResult struct {
	Observations   []models.SoprObservation `json:"observations"`
	Source         Source                   `json:"source"`
	FallbackReason string                   `json:"fallback_reason,omitempty"`
}

// PriceResult is a dated price series with its source tag.
// Observations are ordered by ascending date.
type PriceResult struct {
	Observations   []models.PriceObservation `json:"observations"`
	Source         Source                    `json:"source"`
	FallbackReason string                    `json:"fallback_reason,omitempty"`
}

// InvalidDateRangeError reports a request window that cannot be served:
// unparseable dates, impossible calendar dates, or start after end.
// It is returned before any warehouse or sample access happens.
type InvalidDateRangeError struct {
	Start  string
	End    string
	Reason string
}

// Error implements the error interface.
func (e *InvalidDateRangeError) Error() string {
	return fmt.Sprintf("invalid date range [%s, %s]: %s", e.Start, e.End, e.Reason)
}

// Provider serves dated SOPR and price series from the warehouse with sample
// fallback. All dependencies are passed in explicitly.
type Provider struct {
	reader warehouse.SeriesReader
	cfg    config.DashboardConfig
	logger *slog.Logger
}

// NewProvider creates a series provider backed by the given warehouse reader.
func NewProvider(reader warehouse.SeriesReader, cfg config.DashboardConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		reader: reader,
		cfg:    cfg,
		logger: logger,
	}
}

// GetSopr returns the daily SOPR series for the inclusive window [start, end].
//
// When useSample is true the warehouse is never touched and a generated
// series is returned. Otherwise the warehouse is queried once; if the query
// fails the generated series is served instead, tagged with the failure
// reason. A live query that succeeds with zero rows is returned as-is, since
// an empty window is a valid answer.
//
// Date validation always runs first: a malformed date or a start after end is
// an error regardless of useSample.
func (p *Provider) GetSopr(ctx context.Context, start, end string, useSample bool) (*SoprResult, error) {
	window, err := p.parseWindow(start, end)
	if err != nil {
		return nil, err
	}

	if useSample {
		return &SoprResult{
			Observations: p.sampleSopr(window),
			Source:       SourceSample,
		}, nil
	}

	observations, err := p.reader.QuerySopr(logger.WithDateRange(ctx, start, end), window)
	if err != nil {
		p.logger.Warn("live sopr query failed, serving sample data",
			"start", start,
			"end", end,
			"error", err)
		return &SoprResult{
			Observations:   p.sampleSopr(window),
			Source:         SourceSampleFallback,
			FallbackReason: err.Error(),
		}, nil
	}

	return &SoprResult{
		Observations: ascendingSopr(observations),
		Source:       SourceLive,
	}, nil
}

// GetPrices returns the daily closing price series for the inclusive window
// [start, end]. Semantics mirror GetSopr: sample on request, sample fallback
// on live failure, empty live results returned as-is.
func (p *Provider) GetPrices(ctx context.Context, start, end string, useSample bool) (*PriceResult, error) {
	window, err := p.parseWindow(start, end)
	if err != nil {
		return nil, err
	}

	if useSample {
		return &PriceResult{
			Observations: p.samplePrices(window),
			Source:       SourceSample,
		}, nil
	}

	observations, err := p.reader.QueryPrices(logger.WithDateRange(ctx, start, end), window)
	if err != nil {
		p.logger.Warn("live price query failed, serving sample data",
			"start", start,
			"end", end,
			"error", err)
		return &PriceResult{
			Observations:   p.samplePrices(window),
			Source:         SourceSampleFallback,
			FallbackReason: err.Error(),
		}, nil
	}

	return &PriceResult{
		Observations: ascendingPrices(observations),
		Source:       SourceLive,
	}, nil
}

// DefaultWindow returns the provider's default request window: the configured
// lookback ending today, formatted as calendar dates.
func (p *Provider) DefaultWindow() (start, end string) {
	today := models.DateOnly(time.Now())
	first := today.AddDate(0, 0, -(p.cfg.DefaultLookbackDays - 1))
	return first.Format(models.DateLayout), today.Format(models.DateLayout)
}

// parseWindow validates both dates and their ordering.
func (p *Provider) parseWindow(start, end string) (warehouse.SeriesRequest, error) {
	startDate, err := models.ParseDate(start)
	if err != nil {
		return warehouse.SeriesRequest{}, &InvalidDateRangeError{
			Start:  start,
			End:    end,
			Reason: fmt.Sprintf("invalid start date: %v", err),
		}
	}

	endDate, err := models.ParseDate(end)
	if err != nil {
		return warehouse.SeriesRequest{}, &InvalidDateRangeError{
			Start:  start,
			End:    end,
			Reason: fmt.Sprintf("invalid end date: %v", err),
		}
	}

	if startDate.After(endDate) {
		return warehouse.SeriesRequest{}, &InvalidDateRangeError{
			Start:  start,
			End:    end,
			Reason: "start date is after end date",
		}
	}

	return warehouse.SeriesRequest{Start: startDate, End: endDate}, nil
}

// sampleSopr serves the generated series trimmed to the window. Sample data
// covers a fixed trailing span of SampleDays ending today, so windows reaching
// further back come back partial and windows entirely outside the span come
// back empty.
func (p *Provider) sampleSopr(window warehouse.SeriesRequest) []models.SoprObservation {
	generated := sample.SoprSeries(p.cfg.SampleDays)

	var filtered []models.SoprObservation
	for _, obs := range generated {
		if inWindow(obs.Date, window) {
			filtered = append(filtered, obs)
		}
	}
	return filtered
}

// samplePrices mirrors sampleSopr for the price series.
func (p *Provider) samplePrices(window warehouse.SeriesRequest) []models.PriceObservation {
	generated := sample.PriceSeries(p.cfg.SampleDays)

	var filtered []models.PriceObservation
	for _, obs := range generated {
		if inWindow(obs.Date, window) {
			filtered = append(filtered, obs)
		}
	}
	return filtered
}

func inWindow(date time.Time, window warehouse.SeriesRequest) bool {
	return !date.Before(window.Start) && !date.After(window.End)
}

// ascendingSopr reverses the warehouse's date-descending order for
// presentation. The input slice is not modified.
func ascendingSopr(observations []models.SoprObservation) []models.SoprObservation {
	if len(observations) == 0 {
		return observations
	}

	out := make([]models.SoprObservation, len(observations))
	for i, obs := range observations {
		out[len(observations)-1-i] = obs
	}
	return out
}

func ascendingPrices(observations []models.PriceObservation) []models.PriceObservation {
	if len(observations) == 0 {
		return observations
	}

	out := make([]models.PriceObservation, len(observations))
	for i, obs := range observations {
		out[len(observations)-1-i] = obs
	}
	return out
}
