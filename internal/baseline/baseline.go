// Package baseline computes per-market rolling statistics — trade size,
// hourly volume, and hourly absolute price change — used by the Anomaly
// Engine's z-score queries.
package baseline

import (
	"math"
	"sync"
	"time"

	"surveillance/pkg/types"
)

// Calculator keeps one MarketBaseline per market, recomputed incrementally
// as non-anomalous trades arrive.
type Calculator struct {
	mu         sync.RWMutex
	baselines  map[string]*types.MarketBaseline
	window     time.Duration
	minSamples int
}

// New creates a Baseline Calculator retaining window of history and
// requiring minSamples observations before any query returns non-null.
func New(window time.Duration, minSamples int) *Calculator {
	return &Calculator{
		baselines:  make(map[string]*types.MarketBaseline),
		window:     window,
		minSamples: minSamples,
	}
}

// UpdateBaseline recomputes the MarketBaseline for marketID from the set of
// trades currently within the retention window.
func (c *Calculator) UpdateBaseline(marketID string, trades []types.Trade) {
	now := time.Now()
	cutoff := now.Add(-c.window)
	inWindow := make([]types.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Timestamp.After(cutoff) {
			inWindow = append(inWindow, t)
		}
	}

	b := &types.MarketBaseline{MarketID: marketID, SampleCount: len(inWindow)}
	if len(inWindow) == 0 {
		c.store(marketID, b)
		return
	}

	sizes := make([]float64, len(inWindow))
	for i, t := range inWindow {
		sizes[i] = t.NotionalUSD()
	}
	b.AvgTradeSizeUSD, b.StddevTradeSizeUSD = meanStddev(sizes)
	b.MedianTradeSizeUSD = median(sizes)

	hourlyVolumes, hourlyPriceChanges := bucketByHour(inWindow)
	volumes := make([]float64, 0, len(hourlyVolumes))
	for _, v := range hourlyVolumes {
		volumes = append(volumes, v)
	}
	b.AvgHourlyVolume, b.StddevHourlyVolume = meanStddev(volumes)

	absChanges := make([]float64, 0, len(hourlyPriceChanges))
	for _, d := range hourlyPriceChanges {
		absChanges = append(absChanges, math.Abs(d))
	}
	b.AvgHourlyAbsPriceChange, b.StddevHourlyAbsPriceChange = meanStddev(absChanges)

	b.FirstTradeAt = inWindow[0].Timestamp
	b.LastTradeAt = inWindow[len(inWindow)-1].Timestamp
	windowHours := c.window.Hours()
	if windowHours > 0 {
		b.TradesPerHour = float64(len(inWindow)) / windowHours
	}

	c.store(marketID, b)
}

func (c *Calculator) store(marketID string, b *types.MarketBaseline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baselines[marketID] = b
}

// Get returns the current baseline snapshot for a market, or nil if none
// exists yet.
func (c *Calculator) Get(marketID string) *types.MarketBaseline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.baselines[marketID]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// Ready reports whether marketID has accumulated enough samples for
// queries to return non-null.
func (c *Calculator) Ready(marketID string) bool {
	b := c.Get(marketID)
	return b != nil && b.SampleCount >= c.minSamples
}

// TradeSizeZ returns (sizeUsd-avg)/stddev, or nil if not ready or stddev is 0.
func (c *Calculator) TradeSizeZ(marketID string, sizeUSD float64) *float64 {
	b := c.Get(marketID)
	if b == nil || b.SampleCount < c.minSamples || b.StddevTradeSizeUSD == 0 {
		return nil
	}
	z := (sizeUSD - b.AvgTradeSizeUSD) / b.StddevTradeSizeUSD
	return &z
}

// ExpectedVolume scales the average hourly volume down to windowMs.
func (c *Calculator) ExpectedVolume(marketID string, window time.Duration) *float64 {
	b := c.Get(marketID)
	if b == nil || b.SampleCount < c.minSamples {
		return nil
	}
	expected := b.AvgHourlyVolume * (window.Hours())
	return &expected
}

// VolumeMultiple returns observed/expected, or nil if expected is unavailable
// or zero.
func (c *Calculator) VolumeMultiple(marketID string, observed float64, window time.Duration) *float64 {
	expected := c.ExpectedVolume(marketID, window)
	if expected == nil || *expected == 0 {
		return nil
	}
	m := observed / *expected
	return &m
}

// VolumeZ scales the expected volume and stddev by window/1h before
// computing a z-score.
func (c *Calculator) VolumeZ(marketID string, observed float64, window time.Duration) *float64 {
	b := c.Get(marketID)
	if b == nil || b.SampleCount < c.minSamples || b.StddevHourlyVolume == 0 {
		return nil
	}
	scale := window.Hours()
	expected := b.AvgHourlyVolume * scale
	stddev := b.StddevHourlyVolume * scale
	if stddev == 0 {
		return nil
	}
	z := (observed - expected) / stddev
	return &z
}

// PriceChangeZ returns (|delta|-avgAbs)/stddevAbs, or nil if not ready or
// stddev is 0.
func (c *Calculator) PriceChangeZ(marketID string, delta float64) *float64 {
	b := c.Get(marketID)
	if b == nil || b.SampleCount < c.minSamples || b.StddevHourlyAbsPriceChange == 0 {
		return nil
	}
	z := (math.Abs(delta) - b.AvgHourlyAbsPriceChange) / b.StddevHourlyAbsPriceChange
	return &z
}

func bucketByHour(trades []types.Trade) (volumes map[int64]float64, priceChanges map[int64]float64) {
	volumes = make(map[int64]float64)
	firstPrice := make(map[int64]float64)
	lastPrice := make(map[int64]float64)
	order := make([]int64, 0)
	seen := make(map[int64]bool)

	for _, t := range trades {
		bucket := t.Timestamp.Unix() / 3600
		volumes[bucket] += t.NotionalUSD()
		if !seen[bucket] {
			firstPrice[bucket] = t.Price
			seen[bucket] = true
			order = append(order, bucket)
		}
		lastPrice[bucket] = t.Price
	}

	priceChanges = make(map[int64]float64, len(order))
	for _, bucket := range order {
		priceChanges[bucket] = lastPrice[bucket] - firstPrice[bucket]
	}
	return volumes, priceChanges
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
