package orchestrator

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"surveillance/internal/config"
	"surveillance/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(strictSide bool) *Orchestrator {
	cfg := config.Config{
		Exchange: config.ExchangeConfig{StrictSide: strictSide},
	}
	return &Orchestrator{
		cfg:           cfg,
		monitored:     make(map[string]types.Market),
		tokenToMarket: make(map[string]string),
		logger:        testLogger(),
	}
}

func TestDecodeTradeDefaultsMissingSideToBuy(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(false)

	trade, ok := o.decodeTrade(types.WSTradeMessage{
		EventType: "last_trade_price",
		AssetID:   "a1",
		Market:    "m1",
		Price:     "0.42",
		Size:      "10",
		Side:      "",
		Timestamp: "1700000000",
	})
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if trade.Side != types.BUY {
		t.Fatalf("expected default side BUY, got %s", trade.Side)
	}
	if trade.Price != 0.42 || trade.Size != 10 {
		t.Fatalf("unexpected price/size: %+v", trade)
	}
}

func TestDecodeTradeStrictSideDropsMissingSide(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(true)

	_, ok := o.decodeTrade(types.WSTradeMessage{
		AssetID: "a1",
		Market:  "m1",
		Price:   "0.42",
		Size:    "10",
		Side:    "",
	})
	if ok {
		t.Fatal("expected strict side mode to drop event with no side")
	}
}

func TestDecodeTradeRejectsUnparseablePrice(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(false)

	_, ok := o.decodeTrade(types.WSTradeMessage{
		AssetID: "a1",
		Market:  "m1",
		Price:   "not-a-number",
		Size:    "10",
		Side:    "BUY",
	})
	if ok {
		t.Fatal("expected decode to fail on bad price")
	}
}

func TestParseWireTimestampDistinguishesMillisFromSeconds(t *testing.T) {
	t.Parallel()

	secs := parseWireTimestamp("1700000000")
	millis := parseWireTimestamp("1700000000000")

	if !secs.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("expected seconds parse, got %v", secs)
	}
	if !millis.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("expected millis parse, got %v", millis)
	}
}

func TestHandleTradeEventIgnoresUnknownToken(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(false)

	// No market registered for this token; should be a silent no-op
	// rather than a panic on a nil tradestore/anomaly engine.
	o.handleTradeEvent(types.WSTradeMessage{
		EventType: "last_trade_price",
		AssetID:   "unknown-token",
		Market:    "m1",
		Price:     "0.5",
		Size:      "1",
		Side:      "BUY",
		Timestamp: "1700000000",
	})
}

func TestMonitoredReturnsSnapshotCopy(t *testing.T) {
	t.Parallel()
	o := newTestOrchestrator(false)
	o.monitored["m1"] = types.Market{ID: "m1", Question: "will it happen"}

	snap := o.Monitored()
	snap["m1"] = types.Market{ID: "m1", Question: "mutated"}

	if o.monitored["m1"].Question != "will it happen" {
		t.Fatal("Monitored() should return a copy, not the live map")
	}
}
