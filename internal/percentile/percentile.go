// Package percentile implements the Market Stats component: a per-market
// sorted multiset of low-price BUY trade sizes, supporting O(log n)
// insertion, removal, and percentile-rank queries via binary search.
package percentile

import (
	"sort"
	"sync"

	"surveillance/pkg/types"
)

// Thresholds are the percentile cut points used for the severity ladder.
type Thresholds struct {
	P90, P95, P99 float64
}

// Result is a percentile query outcome.
type Result struct {
	Percentile float64
	Rank       int
	Total      int
	MedianSize float64
	Severity   types.Severity
}

// marketSet holds one market's sorted USD-size multiset plus the FIFO
// buffer of recent trades used to know what to evict.
type marketSet struct {
	sizes  []float64       // sorted ascending
	recent []recordedTrade // FIFO, oldest first
}

type recordedTrade struct {
	size      float64
	price     float64
	side      types.Side
	isTracked bool // true if size is present in the sorted multiset
}

// Tracker keeps one marketSet per market.
type Tracker struct {
	mu                sync.Mutex
	sets              map[string]*marketSet
	lowPriceThreshold float64
	thresholds        Thresholds
	maxSamples        int
	minSamples        int
}

// New creates a Percentile Tracker.
func New(lowPriceThreshold float64, thresholds Thresholds, maxSamples, minSamples int) *Tracker {
	return &Tracker{
		sets:              make(map[string]*marketSet),
		lowPriceThreshold: lowPriceThreshold,
		thresholds:        thresholds,
		maxSamples:        maxSamples,
		minSamples:        minSamples,
	}
}

// AddTrade appends to the recent buffer and, if the trade is a tracked
// low-price BUY, binary-inserts its USD size into the sorted multiset.
// If the buffer exceeds maxSamples, the oldest entry is evicted and, if it
// was itself tracked, its size is binary-removed from the multiset.
func (tr *Tracker) AddTrade(marketID string, sizeUSD, price float64, side types.Side) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	s, ok := tr.sets[marketID]
	if !ok {
		s = &marketSet{}
		tr.sets[marketID] = s
	}

	tracked := side == types.BUY && price < tr.lowPriceThreshold
	if tracked {
		s.sizes = insertSorted(s.sizes, sizeUSD)
	}
	s.recent = append(s.recent, recordedTrade{size: sizeUSD, price: price, side: side, isTracked: tracked})

	if len(s.recent) > tr.maxSamples {
		popped := s.recent[0]
		s.recent = s.recent[1:]
		if popped.isTracked {
			s.sizes = removeSorted(s.sizes, popped.size)
		}
	}
}

// Percentile returns nil when the tracked multiset is below minSamples.
func (tr *Tracker) Percentile(marketID string, sizeUSD float64) *Result {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	s, ok := tr.sets[marketID]
	if !ok || len(s.sizes) < tr.minSamples {
		return nil
	}

	total := len(s.sizes)
	smaller := sort.SearchFloat64s(s.sizes, sizeUSD)
	pct := float64(smaller) / float64(total)
	rank := total - smaller

	return &Result{
		Percentile: pct,
		Rank:       rank,
		Total:      total,
		MedianSize: elementAt(s.sizes, 0.5),
		Severity:   severityFor(pct, tr.thresholds),
	}
}

// ShouldAlert returns a non-nil Result only when side=BUY, price is below
// the low-price threshold, and severity != NONE.
func (tr *Tracker) ShouldAlert(marketID string, sizeUSD, price float64, side types.Side) *Result {
	if side != types.BUY || price >= tr.lowPriceThreshold {
		return nil
	}
	res := tr.Percentile(marketID, sizeUSD)
	if res == nil || res.Severity == types.SeverityNone {
		return nil
	}
	return res
}

func severityFor(pct float64, th Thresholds) types.Severity {
	switch {
	case pct >= th.P99:
		return types.SeverityCritical
	case pct >= th.P95:
		return types.SeverityHigh
	case pct >= th.P90:
		return types.SeverityMedium
	default:
		return types.SeverityNone
	}
}

// elementAt returns the element at index floor(len*q) of a sorted slice.
func elementAt(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func insertSorted(sorted []float64, v float64) []float64 {
	idx := sort.SearchFloat64s(sorted, v)
	sorted = append(sorted, 0)
	copy(sorted[idx+1:], sorted[idx:])
	sorted[idx] = v
	return sorted
}

func removeSorted(sorted []float64, v float64) []float64 {
	idx := sort.SearchFloat64s(sorted, v)
	if idx >= len(sorted) || sorted[idx] != v {
		return sorted
	}
	return append(sorted[:idx], sorted[idx+1:]...)
}
