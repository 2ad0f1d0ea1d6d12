package exchange

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"surveillance/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchMessageParsesSingleEvent(t *testing.T) {
	t.Parallel()
	f := NewTradeFeed("ws://example", 100, testLogger())

	f.dispatchMessage([]byte(`{"event_type":"last_trade_price","asset_id":"a1","market":"m1","price":"0.5","size":"10","side":"BUY","timestamp":"1700000000000"}`))

	select {
	case evt := <-f.Trades():
		if evt.AssetID != "a1" || evt.Price != "0.5" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	default:
		t.Fatal("expected one event on the channel")
	}
}

func TestDispatchMessageParsesBatch(t *testing.T) {
	t.Parallel()
	f := NewTradeFeed("ws://example", 100, testLogger())

	f.dispatchMessage([]byte(`[
		{"event_type":"last_trade_price","asset_id":"a1","market":"m1","price":"0.5","size":"10","side":"BUY","timestamp":"1"},
		{"event_type":"price_change","asset_id":"a1","market":"m1","price":"0.6","size":"0","side":"","timestamp":"2"}
	]`))

	count := 0
	for {
		select {
		case <-f.Trades():
			count++
		default:
			if count != 2 {
				t.Fatalf("expected 2 events, got %d", count)
			}
			return
		}
	}
}

func TestDispatchMessageIgnoresUnknownEventType(t *testing.T) {
	t.Parallel()
	f := NewTradeFeed("ws://example", 100, testLogger())
	f.dispatchMessage([]byte(`{"event_type":"tick_size_change"}`))

	select {
	case evt := <-f.Trades():
		t.Fatalf("expected no event, got %+v", evt)
	default:
	}
}

func TestSubscribeBatchesAcrossMultipleMessages(t *testing.T) {
	t.Parallel()
	received := make(chan types.WSSubscribeMsg, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg types.WSSubscribeMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	}))
	defer srv.Close()

	f := NewTradeFeed("ws"+strings.TrimPrefix(srv.URL, "http"), 2, testLogger())
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}
	f.conn = conn
	defer f.Close()

	ids := []string{"a", "b", "c", "d", "e"}
	if err := f.Subscribe(ids); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var sent int
	count := 0
	for sent < 3 {
		select {
		case msg := <-received:
			if len(msg.AssetIDs) > 2 {
				t.Fatalf("expected batches of at most 2, got %d ids", len(msg.AssetIDs))
			}
			count += len(msg.AssetIDs)
			sent++
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 3 batches of at most 2, got %d", sent)
		}
	}
	if count != len(ids) {
		t.Fatalf("expected all ids covered, got %d", count)
	}
}
