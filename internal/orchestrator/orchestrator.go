// Package orchestrator is the central orchestrator of the surveillance
// engine.
//
// It wires together every subsystem on the trade path:
//
//  1. MarketsClient discovers the active market universe; the Market
//     Filter narrows it down.
//  2. TradeFeed streams trade events over a single WebSocket connection,
//     owning its own fixed-backoff reconnect loop.
//  3. Each trade updates the Trade Store, runs through the Anomaly Engine
//     (backed by the Baseline Calculator and Percentile Tracker), and any
//     resulting anomalies are handed to the Alert Manager.
//  4. Periodic tickers refresh the market universe, evict stale trade
//     history, publish the Alert Store snapshot, and log throughput.
//
// Lifecycle: New() → Start() → [runs until ctx is cancelled] → Stop()
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"surveillance/internal/alert"
	"surveillance/internal/anomaly"
	"surveillance/internal/baseline"
	"surveillance/internal/config"
	"surveillance/internal/exchange"
	"surveillance/internal/filter"
	"surveillance/internal/metrics"
	"surveillance/internal/percentile"
	"surveillance/internal/tradestore"
	"surveillance/pkg/types"
)

// Orchestrator is the detector pipeline's runtime: trade ingestion,
// detection, and alerting, plus the periodic maintenance tickers.
type Orchestrator struct {
	cfg config.Config

	markets *exchange.MarketsClient
	feed    *exchange.TradeFeed
	flt     *filter.Filter

	trades        *tradestore.Store
	base          *baseline.Calculator
	pctl          *percentile.Tracker
	anomalyEngine *anomaly.Engine
	alertMgr      *alert.Manager
	alertStore    *alert.Store

	mu            sync.RWMutex
	monitored     map[string]types.Market // marketID -> Market
	tokenToMarket map[string]string       // tokenID -> marketID

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an Orchestrator from configuration and its supporting
// components. alertMgr and alertStore are constructed by the caller so
// main can wire the notifier sink independently.
func New(
	cfg config.Config,
	markets *exchange.MarketsClient,
	feed *exchange.TradeFeed,
	flt *filter.Filter,
	trades *tradestore.Store,
	base *baseline.Calculator,
	pctl *percentile.Tracker,
	anomalyEngine *anomaly.Engine,
	alertMgr *alert.Manager,
	alertStore *alert.Store,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:           cfg,
		markets:       markets,
		feed:          feed,
		flt:           flt,
		trades:        trades,
		base:          base,
		pctl:          pctl,
		anomalyEngine: anomalyEngine,
		alertMgr:      alertMgr,
		alertStore:    alertStore,
		monitored:     make(map[string]types.Market),
		tokenToMarket: make(map[string]string),
		logger:        logger.With("component", "orchestrator"),
	}
}

// Start discovers the initial market universe, subscribes the trade feed,
// and launches every background goroutine. It returns once the initial
// discovery pass completes; everything after that runs asynchronously
// until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	if err := o.refreshMarkets(o.ctx); err != nil {
		return fmt.Errorf("initial market discovery: %w", err)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.feed.Run(o.ctx); err != nil && o.ctx.Err() == nil {
			o.logger.Error("trade feed exited", "error", err)
		}
	}()

	o.wg.Add(1)
	go o.receiveLoop()

	o.wg.Add(1)
	go o.tickerLoop(o.cleanupTick, "cleanup", time.Hour)

	o.wg.Add(1)
	go o.tickerLoop(o.statsTick, "stats", 5*time.Minute)

	o.wg.Add(1)
	go o.tickerLoop(o.marketRefreshTick, "market-refresh", 30*time.Minute)

	o.wg.Add(1)
	go o.tickerLoop(o.alertPublishTick, "alert-publish", o.cfg.Alert.PublishEvery)

	o.logger.Info("orchestrator started", "monitored_markets", len(o.monitored))
	return nil
}

// Stop cancels every background goroutine, waits for them to exit, flushes
// the Alert Store, and closes the trade feed.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	_ = o.feed.Close()
	o.wg.Wait()

	if err := o.alertStore.Publish(); err != nil {
		o.logger.Error("final alert store flush failed", "error", err)
	}
	o.logger.Info("orchestrator stopped")
}

// receiveLoop is the sole writer of the detector pipeline's per-trade
// state; every mutation of Trade Store/Baseline/Percentile state for a
// given trade happens on this goroutine.
func (o *Orchestrator) receiveLoop() {
	defer o.wg.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case evt, ok := <-o.feed.Trades():
			if !ok {
				return
			}
			o.handleTradeEvent(evt)
		}
	}
}

func (o *Orchestrator) handleTradeEvent(evt types.WSTradeMessage) {
	trade, ok := o.decodeTrade(evt)
	if !ok {
		return
	}

	o.mu.RLock()
	marketID, known := o.tokenToMarket[trade.TokenID]
	market := o.monitored[marketID]
	o.mu.RUnlock()
	if !known {
		return
	}

	o.trades.Add(trade)
	metrics.TradesProcessed.WithLabelValues(marketID).Inc()

	anomalies := o.anomalyEngine.Detect(market, trade)
	minSeverity := types.Severity(o.cfg.Detection.MinSeverity)

	for _, a := range anomalies {
		metrics.AnomaliesEmitted.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
		if !anomaly.MeetsMinSeverity(a, minSeverity) {
			continue
		}
		sent, err := o.alertMgr.Send(o.ctx, a, market)
		if err != nil {
			o.logger.Error("alert delivery failed", "market", marketID, "type", a.Type, "error", err)
			metrics.AlertsDropped.WithLabelValues("delivery_error").Inc()
			continue
		}
		if sent {
			metrics.AlertsSent.Inc()
		} else {
			metrics.AlertsDropped.WithLabelValues("suppressed").Inc()
		}
	}

	// Avoid polluting the baseline with the same trade that triggered an
	// anomaly: only fold it in when the trade was unremarkable.
	if len(anomalies) == 0 {
		recent := o.trades.RecentTrades(marketID, o.cfg.Detection.BaselineWindow)
		o.base.UpdateBaseline(marketID, recent)
	}
}

// decodeTrade parses a wire trade event into the internal Trade shape.
// Price/size arrive as decimal strings; side may be absent, in which case
// it defaults to BUY unless StrictSide is configured, matching the
// exchange's documented (but inconsistent) wire behavior.
func (o *Orchestrator) decodeTrade(evt types.WSTradeMessage) (types.Trade, bool) {
	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		o.logger.Debug("dropping trade event: bad price", "asset", evt.AssetID, "price", evt.Price)
		return types.Trade{}, false
	}
	size, err := decimal.NewFromString(evt.Size)
	if err != nil {
		o.logger.Debug("dropping trade event: bad size", "asset", evt.AssetID, "size", evt.Size)
		return types.Trade{}, false
	}

	side := types.Side(evt.Side)
	switch side {
	case types.BUY, types.SELL:
	default:
		if o.cfg.Exchange.StrictSide {
			return types.Trade{}, false
		}
		side = types.BUY
	}

	ts := parseWireTimestamp(evt.Timestamp)

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()

	return types.Trade{
		MarketID:  evt.Market,
		TokenID:   evt.AssetID,
		Price:     priceF,
		Size:      sizeF,
		Side:      side,
		Timestamp: ts,
	}, true
}

// parseWireTimestamp accepts a decimal string in either unix seconds or
// unix milliseconds, distinguished by magnitude.
func parseWireTimestamp(raw string) time.Time {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return time.Now()
	}
	v := d.IntPart()
	if v > 1e12 {
		return time.UnixMilli(v)
	}
	if v > 0 {
		return time.Unix(v, 0)
	}
	return time.Now()
}

// refreshMarkets re-fetches the active market universe, classifies it
// through the Market Filter, and subscribes the trade feed to any newly
// discovered tokens.
func (o *Orchestrator) refreshMarkets(ctx context.Context) error {
	fetched, err := o.markets.FetchActiveMarkets(ctx, 0)
	if err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}

	now := time.Now()
	var newTokens []string

	o.mu.Lock()
	for _, m := range fetched {
		if m.Closed || !m.Active {
			continue
		}
		decision := o.flt.Classify(m, now)
		if !decision.InUniverse {
			continue
		}
		if _, already := o.monitored[m.ID]; !already {
			if m.YesTokenID != "" {
				newTokens = append(newTokens, m.YesTokenID)
			}
			if m.NoTokenID != "" {
				newTokens = append(newTokens, m.NoTokenID)
			}
		}
		o.monitored[m.ID] = m
		if m.YesTokenID != "" {
			o.tokenToMarket[m.YesTokenID] = m.ID
		}
		if m.NoTokenID != "" {
			o.tokenToMarket[m.NoTokenID] = m.ID
		}
	}
	o.mu.Unlock()

	if len(newTokens) > 0 {
		if err := o.feed.Subscribe(newTokens); err != nil {
			return fmt.Errorf("subscribe new tokens: %w", err)
		}
		o.logger.Info("subscribed new markets", "count", len(newTokens)/2)
	}
	return nil
}

// tickerLoop runs fn every interval until ctx is cancelled.
func (o *Orchestrator) tickerLoop(fn func(), name string, interval time.Duration) {
	defer o.wg.Done()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			fn()
			o.logger.Debug("ticker fired", "name", name)
		}
	}
}

func (o *Orchestrator) cleanupTick() {
	o.trades.Cleanup()
}

func (o *Orchestrator) statsTick() {
	o.mu.RLock()
	monitoredCount := len(o.monitored)
	o.mu.RUnlock()
	stats := o.alertStore.Stats()
	o.logger.Info("surveillance stats",
		"monitored_markets", monitoredCount,
		"alerts_total", stats.Total,
		"alerts_24h", stats.Last24h,
	)
}

func (o *Orchestrator) marketRefreshTick() {
	if err := o.refreshMarkets(o.ctx); err != nil {
		o.logger.Error("market refresh failed", "error", err)
	}
}

func (o *Orchestrator) alertPublishTick() {
	if err := o.alertStore.Publish(); err != nil {
		o.logger.Error("alert store publish failed", "error", err)
	}
}

// Monitored returns a snapshot of the currently monitored market set,
// keyed by market id. Used by the health server's /health route.
func (o *Orchestrator) Monitored() map[string]types.Market {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]types.Market, len(o.monitored))
	for k, v := range o.monitored {
		out[k] = v
	}
	return out
}
