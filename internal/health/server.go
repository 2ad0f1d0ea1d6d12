// Package health serves the surveillance engine's read-only HTTP readout:
// three JSON routes (/health, /stats, /alerts) plus a Prometheus /metrics
// route. Every handler is read-only and must see a consistent snapshot of
// its underlying counters.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"surveillance/internal/alert"
	"surveillance/internal/config"
	"surveillance/internal/tradestore"
	"surveillance/pkg/types"
)

// MarketSet reports how many markets are currently monitored.
type MarketSet interface {
	Monitored() map[string]types.Market
}

// Server runs the HTTP readout and metrics endpoints.
type Server struct {
	cfg       config.HealthConfig
	markets   MarketSet
	trades    *tradestore.Store
	alerts    *alert.Store
	startedAt time.Time
	server    *http.Server
	logger    *slog.Logger
}

// NewServer builds a Server. It does not start listening until Start is called.
func NewServer(cfg config.HealthConfig, markets MarketSet, trades *tradestore.Store, alerts *alert.Store, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		markets:   markets,
		trades:    trades,
		alerts:    alerts,
		startedAt: time.Now(),
		logger:    logger.With("component", "health.server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withCORS(s.handleHealth))
	mux.HandleFunc("/stats", s.withCORS(s.handleStats))
	mux.HandleFunc("/alerts", s.withCORS(s.handleAlerts))
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called, returning
// http.ErrServerClosed wrapped as nil on a clean shutdown.
func (s *Server) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	s.logger.Info("health server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// withCORS wraps a handler with permissive CORS headers, per the spec's
// "all responses are JSON with permissive CORS" requirement.
func (s *Server) withCORS(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET")
		w.Header().Set("Content-Type", "application/json")
		fn(w, r)
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	UptimeMs       int64  `json:"uptimeMs"`
	Markets        int    `json:"markets"`
	Trades         int    `json:"trades"`
	AlertsThisHour int    `json:"alertsThisHour"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		UptimeMs:       time.Since(s.startedAt).Milliseconds(),
		Markets:        len(s.markets.Monitored()),
		Trades:         s.trades.TotalTrades(),
		AlertsThisHour: s.alerts.AlertsInLastHour(),
	}
	s.encode(w, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.alerts.Stats())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	s.encode(w, s.alerts.Recent(50))
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
