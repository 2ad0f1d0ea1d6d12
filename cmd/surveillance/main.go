// Command surveillance runs the real-time market-surveillance engine: it
// ingests the exchange's trade stream, detects anomalies against rolling
// per-market baselines, raises rate-limited alerts, discovers
// leader-follower market pairs on a slow cadence, and watches leader
// markets for resolution, near-certainty, and cascade events.
//
// Architecture:
//
//	main.go                     — entry point: loads config, wires every
//	                              subsystem, waits for SIGINT/SIGTERM
//	internal/orchestrator       — detector pipeline: feed -> trade store ->
//	                              anomaly engine -> alert manager
//	internal/discovery          — periodic leader-follower pair discovery
//	internal/monitor            — leader resolution/near-certainty/cascade
//	internal/health             — read-only HTTP readout + /metrics
//	internal/oppstate           — durable opportunity + discovery cache
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"surveillance/internal/alert"
	"surveillance/internal/anomaly"
	"surveillance/internal/baseline"
	"surveillance/internal/clock"
	"surveillance/internal/config"
	"surveillance/internal/discovery"
	"surveillance/internal/exchange"
	"surveillance/internal/filter"
	"surveillance/internal/health"
	"surveillance/internal/monitor"
	"surveillance/internal/notifier"
	"surveillance/internal/oppstate"
	"surveillance/internal/orchestrator"
	"surveillance/internal/percentile"
	"surveillance/internal/tradestore"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	minTrade := flag.Float64("min-trade", 0, "override detection.large_trade_min (0 keeps the config value)")
	minSeverity := flag.String("min-severity", "", "override detection.min_severity (empty keeps the config value)")
	flag.Parse()

	if p := os.Getenv("SURV_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	if *minTrade > 0 {
		cfg.Detection.LargeTradeMin = *minTrade
	}
	if *minSeverity != "" {
		cfg.Detection.MinSeverity = *minSeverity
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("surveillance engine exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// longestWindow returns the widest lookback window any detector reads, so
// the Trade Store retains enough history to serve all of them.
func longestWindow(cfg config.DetectionConfig) time.Duration {
	longest := cfg.BaselineWindow
	if cfg.VolumeSpikeWindow > longest {
		longest = cfg.VolumeSpikeWindow
	}
	if cfg.PriceWindow > longest {
		longest = cfg.PriceWindow
	}
	return longest
}

func run(cfg *config.Config, logger *slog.Logger) error {
	clk := clock.RealClock{}

	marketsClient := exchange.NewMarketsClient(cfg.Exchange.GammaBaseURL)
	leaderClient := exchange.NewLeaderClient(cfg.Exchange.LeaderStatusURL)
	feed := exchange.NewTradeFeed(cfg.Exchange.WSMarketURL, cfg.Exchange.SubscribeBatch, logger)
	limiter := exchange.NewRateLimiter()

	flt := filter.New(cfg.Filter)
	trades := tradestore.New(longestWindow(cfg.Detection), clk)
	base := baseline.New(cfg.Detection.BaselineWindow, cfg.Detection.MinSamplesBaseline)
	pctl := percentile.New(
		cfg.Detection.LowPriceThreshold,
		percentile.Thresholds{P90: cfg.Detection.P90, P95: cfg.Detection.P95, P99: cfg.Detection.P99},
		cfg.Detection.MaxSamples,
		cfg.Detection.MinSamplesPctl,
	)
	anomalyEngine := anomaly.New(cfg.Detection, trades, base, pctl)

	alertSnapshotPath := cfg.Alert.SnapshotPath
	if alertSnapshotPath == "" {
		alertSnapshotPath = filepath.Join(cfg.Store.DataDir, "alerts.json")
	}
	alertStore := alert.NewStore(cfg.Alert.MaxStored, alertSnapshotPath)
	notifySink := notifier.New(cfg.Notifier.WebhookURL, cfg.Notifier.Timeout, logger)
	alertMgr := alert.NewManager(cfg.Alert.Cooldown, cfg.Alert.MaxPerHour, notifySink, alertStore, clk, logger)

	orch := orchestrator.New(*cfg, marketsClient, feed, flt, trades, base, pctl, anomalyEngine, alertMgr, alertStore, logger)

	oppStatePath := filepath.Join(cfg.Store.DataDir, "oppstate.json")
	opps, err := oppstate.Open(oppStatePath)
	if err != nil {
		return fmt.Errorf("open opportunity state: %w", err)
	}

	mon := monitor.New(cfg.Monitor, leaderClient, opps, notifySink, clk, logger)

	embedClient := discovery.NewHTTPEmbeddingClient(cfg.Discovery.EmbeddingURL, cfg.Discovery.EmbeddingAPIKey)
	llmClient := discovery.NewLLMClient(cfg.Discovery.LLMURL, cfg.Discovery.LLMAPIKey)
	pipeline := discovery.New(cfg.Discovery, cfg.Cache, marketsClient, flt, opps, embedClient, llmClient, limiter, notifySink, clk, logger)

	healthSrv := health.NewServer(cfg.Health, orch, trades, alertStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	go mon.Run(ctx)
	go pipeline.Run(ctx)

	if cfg.Health.Enabled {
		go func() {
			if err := healthSrv.Start(); err != nil {
				logger.Error("health server failed", "error", err)
			}
		}()
		logger.Info("health server started", "port", cfg.Health.Port)
	}

	logger.Info("surveillance engine started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()

	if cfg.Health.Enabled {
		if err := healthSrv.Stop(); err != nil {
			logger.Error("failed to stop health server", "error", err)
		}
	}

	orch.Stop()

	logger.Info("surveillance engine stopped")
	return nil
}
