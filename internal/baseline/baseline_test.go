package baseline

import (
	"testing"
	"time"

	"surveillance/pkg/types"
)

func TestUpdateBaselineBelowMinSamplesReturnsNull(t *testing.T) {
	t.Parallel()
	c := New(time.Hour, 100)

	trades := make([]types.Trade, 5)
	now := time.Now()
	for i := range trades {
		trades[i] = types.Trade{MarketID: "m1", Price: 0.5, Size: 100, Timestamp: now}
	}
	c.UpdateBaseline("m1", trades)

	if c.Ready("m1") {
		t.Fatal("expected not ready below minSamples")
	}
	if z := c.TradeSizeZ("m1", 1000); z != nil {
		t.Fatalf("expected nil z-score below minSamples, got %v", *z)
	}
}

func TestUpdateBaselineComputesStats(t *testing.T) {
	t.Parallel()
	c := New(24*time.Hour, 3)

	now := time.Now()
	trades := []types.Trade{
		{MarketID: "m1", Price: 0.5, Size: 20, Timestamp: now.Add(-3 * time.Hour)},
		{MarketID: "m1", Price: 0.5, Size: 20, Timestamp: now.Add(-2 * time.Hour)},
		{MarketID: "m1", Price: 0.5, Size: 20, Timestamp: now.Add(-1 * time.Hour)},
	}
	c.UpdateBaseline("m1", trades)

	if !c.Ready("m1") {
		t.Fatal("expected ready with 3 samples and minSamples 3")
	}

	b := c.Get("m1")
	if b.AvgTradeSizeUSD != 10 {
		t.Fatalf("expected avg trade size 10, got %v", b.AvgTradeSizeUSD)
	}
	if z := c.TradeSizeZ("m1", 10); z != nil {
		t.Fatalf("expected nil z-score when stddev is 0, got %v", *z)
	}
}

func TestVolumeMultiple(t *testing.T) {
	t.Parallel()
	c := New(24*time.Hour, 1)

	now := time.Now()
	var trades []types.Trade
	for i := 0; i < 24; i++ {
		trades = append(trades, types.Trade{
			MarketID:  "m1",
			Price:     0.5,
			Size:      2000, // $1000 notional
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
		})
	}
	c.UpdateBaseline("m1", trades)

	multiple := c.VolumeMultiple("m1", 11000, 5*time.Minute)
	if multiple == nil {
		t.Fatal("expected non-nil volume multiple")
	}
	if *multiple <= 10 {
		t.Fatalf("expected multiple > 10, got %v", *multiple)
	}
}
