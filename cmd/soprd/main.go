// Command soprd runs the SOPR analytics dashboard API server.
//
// It opens the DuckDB warehouse, wires the series provider with sample
// fallback, and serves the HTTP API until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/dashboard"
	"github.com/onchainlab/sopr-analytics/internal/logger"
	"github.com/onchainlab/sopr-analytics/internal/series"
	"github.com/onchainlab/sopr-analytics/internal/warehouse"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "soprd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to JSON configuration file")
	listenAddr := flag.String("listen", "", "override the configured listen address")
	flag.Parse()

	cfgManager := config.NewManager(*configPath, nil)
	cfg, err := cfgManager.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *listenAddr != "" {
		cfg.Dashboard.ListenAddr = *listenAddr
	}

	logManager, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logManager.Close()

	log := logManager.GetComponentLogger("soprd")
	log.Info("starting dashboard server",
		"version", cfg.Version,
		"listen_addr", cfg.Dashboard.ListenAddr)

	wh, err := warehouse.NewDuckDBWarehouse(cfg.Warehouse, logManager.GetComponentLogger("warehouse").Logger)
	if err != nil {
		return fmt.Errorf("failed to open warehouse: %w", err)
	}
	defer wh.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := wh.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize warehouse: %w", err)
	}

	provider := series.NewProvider(wh, cfg.Dashboard, logManager.GetComponentLogger("series").Logger)
	server := dashboard.NewServer(provider, wh, cfg.Dashboard, logManager.GetComponentLogger("dashboard").Logger)

	httpServer := &http.Server{
		Addr:              cfg.Dashboard.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Dashboard.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	log.Info("stopped cleanly")
	return nil
}
