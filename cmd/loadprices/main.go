// Command loadprices runs the daily price ingestion job.
//
// It fetches the full daily OHLCV history for the configured product from
// Coinbase and replaces the warehouse price table with the result. The
// overwrite is confirmed interactively unless --yes is given.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/ingest"
	"github.com/onchainlab/sopr-analytics/internal/logger"
	"github.com/onchainlab/sopr-analytics/internal/marketdata"
	"github.com/onchainlab/sopr-analytics/internal/models"
	"github.com/onchainlab/sopr-analytics/internal/warehouse"
)

// Exit codes by outcome.
const (
	exitOK     = 0 // completed, or cancelled by the operator
	exitError  = 1 // run failed
	exitNoData = 2 // source returned nothing, table untouched
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loadprices: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(code)
}

func run() (int, error) {
	configPath := flag.String("config", "", "path to JSON configuration file")
	startDate := flag.String("start", "", "override the historical start date (YYYY-MM-DD)")
	autoYes := flag.Bool("yes", false, "overwrite the price table without prompting")
	flag.Parse()

	cfgManager := config.NewManager(*configPath, nil)
	cfg, err := cfgManager.Load()
	if err != nil {
		return exitError, fmt.Errorf("failed to load configuration: %w", err)
	}

	if *startDate != "" {
		if _, err := models.ParseDate(*startDate); err != nil {
			return exitError, fmt.Errorf("invalid --start date %q: %w", *startDate, err)
		}
		cfg.Ingest.HistoricalStartDate = *startDate
	}

	logManager, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return exitError, fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logManager.Close()

	log := logManager.GetComponentLogger("loadprices")
	log.Info("starting price ingestion",
		"product", cfg.MarketData.ProductID,
		"historical_start", cfg.Ingest.HistoricalStartDate)

	wh, err := warehouse.NewDuckDBWarehouse(cfg.Warehouse, logManager.GetComponentLogger("warehouse").Logger)
	if err != nil {
		return exitError, fmt.Errorf("failed to open warehouse: %w", err)
	}
	defer wh.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := wh.Initialize(ctx); err != nil {
		return exitError, fmt.Errorf("failed to initialize warehouse: %w", err)
	}

	source := marketdata.NewCoinbaseSource(cfg.MarketData, logManager.GetComponentLogger("marketdata").Logger)

	var confirmer ingest.Confirmer
	if *autoYes {
		confirmer = ingest.AutoConfirm{}
	} else {
		confirmer = &terminalConfirmer{in: bufio.NewReader(os.Stdin), out: os.Stdout}
	}

	job := ingest.NewJob(source, wh, confirmer, cfg.Ingest, logManager.GetComponentLogger("ingest").Logger)

	ctx = logger.WithProduct(ctx, cfg.MarketData.ProductID)

	var result *ingest.Result
	runErr := log.LogOperation(ctx, "load_prices", func() error {
		var err error
		result, err = job.Run(ctx)
		return err
	})
	if runErr != nil {
		return exitError, runErr
	}

	logManager.WithContext(ctx).Info("ingestion finished",
		"outcome", string(result.Outcome),
		"rows_loaded", result.RowsLoaded)

	switch result.Outcome {
	case ingest.OutcomeCompleted:
		fmt.Printf("Loaded %d daily bars (job %s)\n", result.RowsLoaded, result.JobID)
	case ingest.OutcomeCancelled:
		fmt.Println("Cancelled, price table left untouched")
	case ingest.OutcomeNoData:
		fmt.Println("Source returned no data, price table left untouched")
		return exitNoData, nil
	}

	return exitOK, nil
}

// terminalConfirmer prompts the operator before an overwrite.
type terminalConfirmer struct {
	in  *bufio.Reader
	out *os.File
}

// ConfirmOverwrite implements ingest.Confirmer. Anything other than an
// explicit yes declines.
func (c *terminalConfirmer) ConfirmOverwrite(ctx context.Context, existingRows int64) (bool, error) {
	if existingRows > 0 {
		fmt.Fprintf(c.out, "The price table holds %d rows that will be replaced.\n", existingRows)
	}
	fmt.Fprint(c.out, "Replace the entire price table? [y/N]: ")

	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
