// Package tradestore keeps a bounded per-market sliding window of trades.
//
// Each market gets its own entry holding an append-only (until eviction)
// trade slice; price queries read prices from the trades themselves. Reads take a consistent
// snapshot under RLock; the receive loop is the sole writer. A window can
// be queried against wall-clock time or a caller-supplied simulated clock,
// so the same aggregates work for both live trading and replay.
package tradestore

import (
	"sort"
	"sync"
	"time"

	"surveillance/internal/clock"
	"surveillance/pkg/types"
)

// evictEvery bounds how often Add pays the cost of scanning for stale
// entries; BulkAdd always evicts once after appending.
const evictEvery = 20

// marketWindow holds one market's trade history.
type marketWindow struct {
	trades     []types.Trade
	addedSince int // additions since the last eviction pass
}

// Store is a single-writer, multi-reader collection of per-market windows.
type Store struct {
	mu         sync.RWMutex
	windows    map[string]*marketWindow
	windowSize time.Duration
	clk        clock.Clock
}

// New creates a Trade Store retaining trades for windowSize, using clk as
// the time source for eviction and window queries.
func New(windowSize time.Duration, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{
		windows:    make(map[string]*marketWindow),
		windowSize: windowSize,
		clk:        clk,
	}
}

// Add appends one trade to its market's window, evicting stale entries
// every evictEvery additions.
func (s *Store) Add(t types.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windowFor(t.MarketID)
	w.trades = append(w.trades, t)
	w.addedSince++
	if w.addedSince >= evictEvery {
		s.evictLocked(w)
		w.addedSince = 0
	}
}

// BulkAdd appends a batch of trades for one market, stable-sorts by
// timestamp, then evicts once.
func (s *Store) BulkAdd(marketID string, trades []types.Trade) {
	if len(trades) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windowFor(marketID)
	w.trades = append(w.trades, trades...)
	sort.SliceStable(w.trades, func(i, j int) bool {
		return w.trades[i].Timestamp.Before(w.trades[j].Timestamp)
	})
	s.evictLocked(w)
	w.addedSince = 0
}

// windowFor returns (creating if needed) the window for marketID.
// Caller must hold s.mu.
func (s *Store) windowFor(marketID string) *marketWindow {
	w, ok := s.windows[marketID]
	if !ok {
		w = &marketWindow{}
		s.windows[marketID] = w
	}
	return w
}

// evictLocked drops entries older than windowSize relative to now.
// Caller must hold s.mu.
func (s *Store) evictLocked(w *marketWindow) {
	if len(w.trades) == 0 {
		return
	}
	cutoff := s.clk.Now().Add(-s.windowSize)
	validIdx := -1
	for i, t := range w.trades {
		if t.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx == -1 {
		w.trades = w.trades[:0]
		return
	}
	if validIdx > 0 {
		w.trades = w.trades[validIdx:]
	}
}

// RecentTrades returns the suffix of trades with timestamp >= now-duration.
// Unknown markets return nil (silent no-op per the store's failure model).
func (s *Store) RecentTrades(marketID string, duration time.Duration) []types.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[marketID]
	if !ok || len(w.trades) == 0 {
		return nil
	}

	cutoff := s.clk.Now().Add(-duration)
	idx := sort.Search(len(w.trades), func(i int) bool {
		return !w.trades[i].Timestamp.Before(cutoff)
	})
	if idx >= len(w.trades) {
		return nil
	}
	out := make([]types.Trade, len(w.trades)-idx)
	copy(out, w.trades[idx:])
	return out
}

// VolumeInWindow returns the total USD notional traded in the last duration.
func (s *Store) VolumeInWindow(marketID string, duration time.Duration) float64 {
	var total float64
	for _, t := range s.RecentTrades(marketID, duration) {
		total += t.NotionalUSD()
	}
	return total
}

// TradeCountInWindow returns the number of trades in the last duration.
func (s *Store) TradeCountInWindow(marketID string, duration time.Duration) int {
	return len(s.RecentTrades(marketID, duration))
}

// PriceChange describes a start/end price pair over a window.
type PriceChange struct {
	Start        float64
	End          float64
	Delta        float64
	DeltaPercent float64
}

// PriceChangeInWindow returns nil when fewer than two prices exist in the
// window.
func (s *Store) PriceChangeInWindow(marketID string, duration time.Duration) *PriceChange {
	trades := s.RecentTrades(marketID, duration)
	if len(trades) < 2 {
		return nil
	}
	start := trades[0].Price
	end := trades[len(trades)-1].Price
	delta := end - start
	var deltaPct float64
	if start != 0 {
		deltaPct = delta / start
	}
	return &PriceChange{Start: start, End: end, Delta: delta, DeltaPercent: deltaPct}
}

// LatestPrice returns the most recent trade price for a market, or 0, false
// if the market has no trades.
func (s *Store) LatestPrice(marketID string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[marketID]
	if !ok || len(w.trades) == 0 {
		return 0, false
	}
	return w.trades[len(w.trades)-1].Price, true
}

// PriceRangeInWindow returns the min and max trade price within duration.
func (s *Store) PriceRangeInWindow(marketID string, duration time.Duration) (lo, hi float64, ok bool) {
	trades := s.RecentTrades(marketID, duration)
	if len(trades) == 0 {
		return 0, 0, false
	}
	lo, hi = trades[0].Price, trades[0].Price
	for _, t := range trades[1:] {
		if t.Price < lo {
			lo = t.Price
		}
		if t.Price > hi {
			hi = t.Price
		}
	}
	return lo, hi, true
}

// Cleanup evicts stale entries across every market, regardless of the
// evictEvery counter. Intended for the orchestrator's hourly ticker.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.windows {
		s.evictLocked(w)
		w.addedSince = 0
	}
}

// TotalTrades returns the number of trades currently retained across every
// market's window. Used by the health endpoint's readout.
func (s *Store) TotalTrades() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int
	for _, w := range s.windows {
		total += len(w.trades)
	}
	return total
}
