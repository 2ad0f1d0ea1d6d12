// Package anomaly implements the Anomaly Engine: four pure detectors run
// in a fixed order over a trade plus its supporting Trade Store, Baseline
// Calculator, and Percentile Tracker state.
package anomaly

import (
	"math"
	"time"

	"surveillance/internal/baseline"
	"surveillance/internal/config"
	"surveillance/internal/percentile"
	"surveillance/internal/tradestore"
	"surveillance/pkg/types"
)

// Engine runs the four detectors over each incoming trade.
type Engine struct {
	cfg    config.DetectionConfig
	trades *tradestore.Store
	base   *baseline.Calculator
	pctl   *percentile.Tracker
}

// New builds an Anomaly Engine wired to its three supporting components.
func New(cfg config.DetectionConfig, trades *tradestore.Store, base *baseline.Calculator, pctl *percentile.Tracker) *Engine {
	return &Engine{cfg: cfg, trades: trades, base: base, pctl: pctl}
}

// Detect runs all four detectors, in order, over one trade and returns the
// non-null results. market supplies the question snapshot copied into each
// anomaly.
func (e *Engine) Detect(market types.Market, t types.Trade) []types.Anomaly {
	var out []types.Anomaly

	if a := e.detectUnusualLowPriceBuy(market, t); a != nil {
		out = append(out, *a)
	}
	if a := e.detectLargeTrade(market, t); a != nil {
		out = append(out, *a)
	}
	if a := e.detectVolumeSpike(market, t); a != nil {
		out = append(out, *a)
	}
	if a := e.detectRapidPriceMove(market, t); a != nil {
		out = append(out, *a)
	}
	return out
}

func header(market types.Market, t types.Trade, typ types.AnomalyType, sev types.Severity, dir types.Direction) types.AnomalyHeader {
	return types.AnomalyHeader{
		MarketID:         market.ID,
		Question:         market.Question,
		Type:             typ,
		Severity:         sev,
		Timestamp:        t.Timestamp,
		CurrentPrice:     t.Price,
		ImpliedDirection: dir,
		TriggeringTrade:  &t,
	}
}

// detectUnusualLowPriceBuy updates the Percentile Tracker's state
// unconditionally, then queries it. It alerts only when ShouldAlert fires.
func (e *Engine) detectUnusualLowPriceBuy(market types.Market, t types.Trade) *types.Anomaly {
	sizeUSD := t.NotionalUSD()
	e.pctl.AddTrade(market.ID, sizeUSD, t.Price, t.Side)
	res := e.pctl.ShouldAlert(market.ID, sizeUSD, t.Price, t.Side)
	if res == nil {
		return nil
	}

	a := types.Anomaly{
		AnomalyHeader: header(market, t, types.AnomalyUnusualLowPriceBuy, res.Severity, types.DirectionYes),
		UnusualLowPriceBuy: &types.UnusualLowPriceBuyDetails{
			TradeSizeUSD: sizeUSD,
			Percentile:   res.Percentile,
			Rank:         res.Rank,
			Total:        res.Total,
			MedianSize:   res.MedianSize,
		},
	}
	return &a
}

func (e *Engine) detectLargeTrade(market types.Market, t types.Trade) *types.Anomaly {
	sizeUSD := t.NotionalUSD()
	if sizeUSD < e.cfg.LargeTradeMin {
		return nil
	}

	z := e.base.TradeSizeZ(market.ID, sizeUSD)

	var sev types.Severity
	switch {
	case sizeUSD >= e.cfg.LargeTradeCritical:
		sev = types.SeverityCritical
	case sizeUSD >= e.cfg.LargeTradeHigh:
		sev = types.SeverityHigh
	case z != nil && *z >= e.cfg.ZScoreHigh:
		sev = types.SeverityHigh
	default:
		sev = types.SeverityMedium
	}

	dir := types.DirectionNo
	if t.Side == types.BUY {
		dir = types.DirectionYes
	}

	a := types.Anomaly{
		AnomalyHeader: header(market, t, types.AnomalyLargeTrade, sev, dir),
		LargeTrade:    &types.LargeTradeDetails{TradeSizeUSD: sizeUSD, ZScore: z},
	}
	return &a
}

func (e *Engine) detectVolumeSpike(market types.Market, t types.Trade) *types.Anomaly {
	if !e.base.Ready(market.ID) {
		return nil
	}

	window := e.cfg.VolumeSpikeWindow
	windowVolume := e.trades.VolumeInWindow(market.ID, window)
	multiple := e.base.VolumeMultiple(market.ID, windowVolume, window)
	if multiple == nil || *multiple < e.cfg.VolumeSpikeLow {
		return nil
	}
	z := e.base.VolumeZ(market.ID, windowVolume, window)
	expected := e.base.ExpectedVolume(market.ID, window)
	var expectedVal float64
	if expected != nil {
		expectedVal = *expected
	}

	var sev types.Severity
	switch {
	case *multiple >= e.cfg.VolumeSpikeCritical:
		sev = types.SeverityCritical
	case *multiple >= e.cfg.VolumeSpikeHigh:
		sev = types.SeverityHigh
	case z != nil && *z >= e.cfg.ZScoreHigh:
		sev = types.SeverityHigh
	default:
		sev = types.SeverityMedium
	}

	dir := e.netFlowDirection(market.ID, window)



	a := types.Anomaly{
		AnomalyHeader: header(market, t, types.AnomalyVolumeSpike, sev, dir),
		VolumeSpike: &types.VolumeSpikeDetails{
			WindowVolumeUSD: windowVolume,
			ExpectedVolume:  expectedVal,
			Multiple:        *multiple,
			ZScore:          z,
		},
	}
	return &a
}

// netFlowDirection compares BUY and SELL notional in the window: YES if buy
// exceeds 1.5x sell, NO if sell exceeds 1.5x buy, else UNKNOWN.
func (e *Engine) netFlowDirection(marketID string, window time.Duration) types.Direction {
	var buyUSD, sellUSD float64
	for _, t := range e.trades.RecentTrades(marketID, window) {
		if t.Side == types.BUY {
			buyUSD += t.NotionalUSD()
		} else {
			sellUSD += t.NotionalUSD()
		}
	}
	switch {
	case buyUSD > 1.5*sellUSD:
		return types.DirectionYes
	case sellUSD > 1.5*buyUSD:
		return types.DirectionNo
	default:
		return types.DirectionUnknown
	}
}

func (e *Engine) detectRapidPriceMove(market types.Market, t types.Trade) *types.Anomaly {
	window := e.cfg.PriceWindow
	pc := e.trades.PriceChangeInWindow(market.ID, window)
	if pc == nil {
		return nil
	}
	absPct := math.Abs(pc.DeltaPercent)
	if absPct < e.cfg.PriceChangeLow {
		return nil
	}

	z := e.base.PriceChangeZ(market.ID, pc.Delta)

	var sev types.Severity
	switch {
	case absPct >= e.cfg.PriceChangeCritical:
		sev = types.SeverityCritical
	case absPct >= e.cfg.PriceChangeHigh:
		sev = types.SeverityHigh
	case z != nil && *z >= e.cfg.ZScoreHigh:
		sev = types.SeverityHigh
	default:
		sev = types.SeverityMedium
	}

	priceDir := "DOWN"
	dir := types.DirectionNo
	if pc.Delta > 0 {
		priceDir = "UP"
		dir = types.DirectionYes
	}

	a := types.Anomaly{
		AnomalyHeader: header(market, t, types.AnomalyRapidPriceMove, sev, dir),
		RapidPriceMove: &types.RapidPriceMoveDetails{
			StartPrice:     pc.Start,
			EndPrice:       pc.End,
			Delta:          pc.Delta,
			DeltaPercent:   pc.DeltaPercent,
			PriceDirection: priceDir,
		},
	}
	return &a
}

// MeetsMinSeverity compares an anomaly's severity against the configured
// floor using the shared severity ordering.
func MeetsMinSeverity(a types.Anomaly, minSeverity types.Severity) bool {
	return a.Severity.AtLeast(minSeverity)
}
