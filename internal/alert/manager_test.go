package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"surveillance/internal/clock"
	"surveillance/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	fail  bool
	calls int
}

func (f *fakeSink) Send(ctx context.Context, text string) error {
	f.calls++
	if f.fail {
		return errors.New("delivery failed")
	}
	return nil
}

func testAnomaly(marketID string, ts time.Time) types.Anomaly {
	return types.Anomaly{
		AnomalyHeader: types.AnomalyHeader{
			MarketID:         marketID,
			Question:         "will X happen",
			Type:             types.AnomalyLargeTrade,
			Severity:         types.SeverityHigh,
			Timestamp:        ts,
			CurrentPrice:     0.5,
			ImpliedDirection: types.DirectionYes,
		},
		LargeTrade: &types.LargeTradeDetails{TradeSizeUSD: 12000},
	}
}

func TestSendDeduplicatesWithinCooldown(t *testing.T) {
	t.Parallel()
	mc := clock.NewManual(time.Now())
	sink := &fakeSink{}
	store := NewStore(100, "")
	mgr := NewManager(5*time.Minute, 20, sink, store, mc, testLogger())

	a := testAnomaly("m1", mc.Now())
	ok, err := mgr.Send(context.Background(), a, types.Market{ID: "m1"})
	if err != nil || !ok {
		t.Fatalf("expected first send to succeed, got ok=%v err=%v", ok, err)
	}

	mc.Advance(time.Minute)
	ok, err = mgr.Send(context.Background(), testAnomaly("m1", mc.Now()), types.Market{ID: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second send within cooldown to be dropped")
	}
	if sink.calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", sink.calls)
	}
}

func TestSendRespectsHourlyCap(t *testing.T) {
	t.Parallel()
	mc := clock.NewManual(time.Now())
	sink := &fakeSink{}
	store := NewStore(100, "")
	mgr := NewManager(0, 2, sink, store, mc, testLogger())

	for i := 0; i < 2; i++ {
		ok, err := mgr.Send(context.Background(), testAnomaly("m1", mc.Now()), types.Market{ID: "m1"})
		if err != nil || !ok {
			t.Fatalf("expected send %d to succeed", i)
		}
		mc.Advance(time.Second)
	}

	ok, err := mgr.Send(context.Background(), testAnomaly("m1", mc.Now()), types.Market{ID: "m1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected third send to be dropped by hourly cap")
	}
}

func TestSendDoesNotUpdateDedupOnFailure(t *testing.T) {
	t.Parallel()
	mc := clock.NewManual(time.Now())
	sink := &fakeSink{fail: true}
	store := NewStore(100, "")
	mgr := NewManager(5*time.Minute, 20, sink, store, mc, testLogger())

	ok, err := mgr.Send(context.Background(), testAnomaly("m1", mc.Now()), types.Market{ID: "m1"})
	if err == nil || ok {
		t.Fatalf("expected failure, got ok=%v err=%v", ok, err)
	}
	if len(store.Recent(10)) != 0 {
		t.Fatal("expected nothing persisted on delivery failure")
	}
}

func TestFormatNeverPanicsOnMissingDetails(t *testing.T) {
	t.Parallel()
	a := types.Anomaly{AnomalyHeader: types.AnomalyHeader{Type: types.AnomalyLargeTrade, Severity: types.SeverityHigh}}
	msg := Format(a)
	if msg == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestStoreAddTruncatesAndComputesStats(t *testing.T) {
	t.Parallel()
	store := NewStore(2, "")
	now := time.Now()
	for i := 0; i < 3; i++ {
		sa := types.StoredAlert{ID: string(rune('a' + i)), Type: types.AnomalyLargeTrade, Severity: types.SeverityHigh, Timestamp: now}
		if err := store.Add(sa); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(store.Recent(10)) != 2 {
		t.Fatalf("expected list truncated to 2, got %d", len(store.Recent(10)))
	}
	stats := store.Stats()
	if stats.Total != 2 {
		t.Fatalf("expected total 2, got %d", stats.Total)
	}
	if stats.Last24h != 2 {
		t.Fatalf("expected last24h 2, got %d", stats.Last24h)
	}
}
