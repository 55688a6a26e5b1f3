package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/onchainlab/sopr-analytics/internal/config"
	"github.com/onchainlab/sopr-analytics/internal/export"
	"github.com/onchainlab/sopr-analytics/internal/series"
	"github.com/onchainlab/sopr-analytics/internal/warehouse"
)

// Server exposes the dashboard API over HTTP.
type Server struct {
	provider *series.Provider
	health   warehouse.HealthChecker
	cfg      config.DashboardConfig
	logger   *slog.Logger
	cache    *resultCache
}

// NewServer creates a dashboard server backed by the given series provider.
// The health checker may be nil, in which case /healthz only reports the
// process as up.
func NewServer(provider *series.Provider, health warehouse.HealthChecker, cfg config.DashboardConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		provider: provider,
		health:   health,
		cfg:      cfg,
		logger:   logger,
		cache:    newResultCache(cfg.CacheTTLDuration()),
	}
}

// Router builds the HTTP route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sopr", s.handleSopr)
		r.Get("/prices", s.handlePrices)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/export/sopr.csv", s.handleExportCSV)
		r.Get("/export/sopr.json", s.handleExportJSON)
	})

	r.Get("/healthz", s.handleHealth)

	return r
}

// requestWindow extracts and defaults the query window parameters.
func (s *Server) requestWindow(r *http.Request) (start, end string, useSample bool) {
	q := r.URL.Query()

	start = q.Get("start")
	end = q.Get("end")
	if start == "" && end == "" {
		start, end = s.provider.DefaultWindow()
	}

	useSample = s.cfg.UseSampleSopr
	if v := q.Get("sample"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			useSample = parsed
		}
	}

	return start, end, useSample
}

func (s *Server) soprWindow(r *http.Request) (*series.SoprResult, error) {
	start, end, useSample := s.requestWindow(r)
	key := cacheKey{start: start, end: end, useSample: useSample}

	if cached, ok := s.cache.getSopr(key); ok {
		return cached, nil
	}

	result, err := s.provider.GetSopr(r.Context(), start, end, useSample)
	if err != nil {
		return nil, err
	}

	s.cache.putSopr(key, result)
	return result, nil
}

func (s *Server) priceWindow(r *http.Request) (*series.PriceResult, error) {
	start, end, useSample := s.requestWindow(r)
	key := cacheKey{start: start, end: end, useSample: useSample}

	if cached, ok := s.cache.getPrices(key); ok {
		return cached, nil
	}

	result, err := s.provider.GetPrices(r.Context(), start, end, useSample)
	if err != nil {
		return nil, err
	}

	s.cache.putPrices(key, result)
	return result, nil
}

func (s *Server) handleSopr(w http.ResponseWriter, r *http.Request) {
	result, err := s.soprWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	result, err := s.priceWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// metricsResponse pairs the computed metrics with the source tags of the
// series they were derived from.
type metricsResponse struct {
	Metrics     *Metrics      `json:"metrics"`
	SoprSource  series.Source `json:"sopr_source"`
	PriceSource series.Source `json:"price_source"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	soprResult, err := s.soprWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	priceResult, err := s.priceWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	metrics := ComputeMetrics(soprResult.Observations, priceResult.Observations, s.cfg.SoprThreshold)
	if metrics == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no observations in the requested window",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, metricsResponse{
		Metrics:     metrics,
		SoprSource:  soprResult.Source,
		PriceSource: priceResult.Source,
	})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	result, err := s.soprWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sopr.csv"`)
	if err := export.WriteSoprCSV(w, result.Observations); err != nil {
		s.logger.Error("csv export failed", "error", err)
	}
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	result, err := s.soprWindow(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="sopr.json"`)
	if err := export.WriteSoprJSON(w, result.Observations); err != nil {
		s.logger.Error("json export failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}

	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			s.logger.Warn("warehouse health check failed", "error", err)
			status["status"] = "degraded"
			status["warehouse"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["warehouse"] = "ok"
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps provider errors to HTTP status codes. Invalid windows are
// client errors; everything else is a server error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rangeErr *series.InvalidDateRangeError
	if errors.As(err, &rangeErr) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": rangeErr.Error()})
		return
	}

	s.logger.Error("request failed", "error", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": fmt.Sprintf("internal error: %v", err),
	})
}
