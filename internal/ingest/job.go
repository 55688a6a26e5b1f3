// Package ingest implements the price ingestion job. A run walks a fixed
// sequence of phases: check the current table state, confirm the overwrite,
// fetch bars from the market data source, transform them into clean daily
// rows, load them as a whole-table replacement, and verify the final row
// count. The table is only mutated in the load phase, so a run that stops
// earlier leaves existing data untouched.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/logger"
	"github.com/onchainlab/sopr-analytics/internal/marketdata"
	"github.com/onchainlab/sopr-analytics/internal/models"
	"github.com/onchainlab/sopr-analytics/internal/warehouse"
)

// Outcome is the terminal state of an ingestion run.
type Outcome string

const (
	// OutcomeCompleted means bars were fetched, loaded, and verified.
	OutcomeCompleted Outcome = "completed"

	// OutcomeCancelled means the operator declined the overwrite.
	// No data was written.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeNoData means the source returned no usable bars.
	// No data was written.
	OutcomeNoData Outcome = "no_data"
)

// Confirmer approves or declines replacing the existing price table.
// The existing row count is provided so interactive implementations can show
// the operator what is about to be overwritten.
type Confirmer interface {
	ConfirmOverwrite(ctx context.Context, existingRows int64) (bool, error)
}

// AutoConfirm approves every overwrite. Used for non-interactive runs.
type AutoConfirm struct{}

// ConfirmOverwrite implements Confirmer.
func (AutoConfirm) ConfirmOverwrite(ctx context.Context, existingRows int64) (bool, error) {
	return true, nil
}

// Result describes a finished ingestion run.
type Result struct {
	JobID       string    `json:"job_id"`
	Outcome     Outcome   `json:"outcome"`
	RowsFetched int       `json:"rows_fetched"`
	RowsLoaded  int64     `json:"rows_loaded"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Job orchestrates one price ingestion run. All dependencies are injected.
type Job struct {
	fetcher   marketdata.BarFetcher
	writer    warehouse.PriceWriter
	confirmer Confirmer
	cfg       config.IngestConfig
	logger    *slog.Logger
}

// NewJob creates an ingestion job. A nil confirmer defaults to AutoConfirm.
func NewJob(fetcher marketdata.BarFetcher, writer warehouse.PriceWriter, confirmer Confirmer, cfg config.IngestConfig, log *slog.Logger) *Job {
	if confirmer == nil {
		confirmer = AutoConfirm{}
	}
	if log == nil {
		log = slog.Default()
	}

	return &Job{
		fetcher:   fetcher,
		writer:    writer,
		confirmer: confirmer,
		cfg:       cfg,
		logger:    log,
	}
}

// Run executes the full ingestion sequence and returns the run result.
// Fetch, load, and verify failures are fatal and abort the run with an
// error; a declined confirmation or an empty fetch ends the run cleanly
// with the matching outcome.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	result := &Result{
		JobID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	ctx = logger.WithJobID(ctx, result.JobID)
	log := j.logger.With("job_id", result.JobID)

	log.Info("ingestion run started",
		"historical_start", j.cfg.HistoricalStartDate)

	// Check
	existing, err := j.writer.CountPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing prices: %w", err)
	}
	log.Info("checked price table", "existing_rows", existing)

	// Confirm. An empty table has nothing to overwrite, so only runs that
	// would replace existing rows prompt the operator.
	if existing > 0 {
		approved, err := j.confirmer.ConfirmOverwrite(ctx, existing)
		if err != nil {
			return nil, fmt.Errorf("confirmation failed: %w", err)
		}
		if !approved {
			log.Info("ingestion cancelled by operator", "existing_rows", existing)
			result.Outcome = OutcomeCancelled
			result.CompletedAt = time.Now().UTC()
			return result, nil
		}
	}

	// Fetch
	start, err := models.ParseDate(j.cfg.HistoricalStartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid historical start date %q: %w", j.cfg.HistoricalStartDate, err)
	}
	end := models.DateOnly(time.Now()).AddDate(0, 0, 1)

	bars, err := j.fetcher.FetchDailyBars(logger.WithOperation(ctx, "fetch"), start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	result.RowsFetched = len(bars)
	log.Info("fetched daily bars", "count", len(bars))

	// Transform
	clean := j.transform(bars, log)
	if len(clean) == 0 {
		log.Warn("no usable bars after transform, leaving table untouched")
		result.Outcome = OutcomeNoData
		result.CompletedAt = time.Now().UTC()
		return result, nil
	}

	// Load
	if err := j.writer.ReplacePrices(logger.WithOperation(ctx, "load"), clean); err != nil {
		return nil, fmt.Errorf("load failed: %w", err)
	}
	log.Info("loaded price table", "rows", len(clean))

	// Verify
	loaded, err := j.writer.CountPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("verification count failed: %w", err)
	}
	if loaded != int64(len(clean)) {
		return nil, fmt.Errorf("verification failed: loaded %d rows, expected %d", loaded, len(clean))
	}
	result.RowsLoaded = loaded

	result.Outcome = OutcomeCompleted
	result.CompletedAt = time.Now().UTC()

	log.Info("ingestion run completed",
		"rows_loaded", loaded,
		"duration", result.CompletedAt.Sub(result.StartedAt))

	return result, nil
}

// transform normalizes fetched bars into clean daily rows: dates truncated to
// calendar days, invalid bars dropped, duplicate days collapsed to the last
// occurrence, output sorted ascending.
func (j *Job) transform(bars []models.PriceBar, log *slog.Logger) []models.PriceBar {
	byDate := make(map[time.Time]models.PriceBar, len(bars))

	for _, bar := range bars {
		bar.TruncateDate()
		if err := bar.Validate(); err != nil {
			log.Warn("dropping invalid bar", "bar", bar.String(), "error", err)
			continue
		}
		byDate[bar.Date] = bar
	}

	clean := make([]models.PriceBar, 0, len(byDate))
	for _, bar := range byDate {
		clean = append(clean, bar)
	}
	sort.Slice(clean, func(i, k int) bool { return clean[i].Date.Before(clean[k].Date) })

	return clean
}
