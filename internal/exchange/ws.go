// ws.go implements the exchange's trade-stream WebSocket feed.
//
// The feed auto-reconnects with a fixed 5s backoff and re-subscribes to the
// full current token set on reconnect. A read deadline detects silent
// server failures. Subscriptions are sent in batches of at most
// subscribeBatch token ids, matching the exchange's batching requirement.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"surveillance/pkg/types"
)

const (
	readTimeout     = 90 * time.Second
	writeTimeout    = 10 * time.Second
	reconnectWait   = 5 * time.Second
	tradeBufferSize = 256
)

// TradeFeed manages the single WebSocket connection carrying trade events.
type TradeFeed struct {
	url            string
	subscribeBatch int

	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	tradeCh chan types.WSTradeMessage

	logger *slog.Logger
}

// NewTradeFeed creates a trade-stream feed dialing wsURL, batching
// subscribe requests to at most subscribeBatch token ids per message.
func NewTradeFeed(wsURL string, subscribeBatch int, logger *slog.Logger) *TradeFeed {
	if subscribeBatch <= 0 {
		subscribeBatch = 100
	}
	return &TradeFeed{
		url:            wsURL,
		subscribeBatch: subscribeBatch,
		subscribed:     make(map[string]bool),
		tradeCh:        make(chan types.WSTradeMessage, tradeBufferSize),
		logger:         logger.With("component", "exchange.ws"),
	}
}

// Trades returns the read-only channel of parsed trade-stream messages.
func (f *TradeFeed) Trades() <-chan types.WSTradeMessage { return f.tradeCh }

// Run connects and maintains the connection with fixed-interval reconnect.
// Blocks until ctx is cancelled.
func (f *TradeFeed) Run(ctx context.Context) error {
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("trade feed disconnected, reconnecting", "error", err, "backoff", reconnectWait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectWait):
		}
	}
}

// Subscribe adds token ids to the tracked set and, if connected, sends the
// subscribe messages immediately in batches.
func (f *TradeFeed) Subscribe(tokenIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range tokenIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	// Not connected yet: the ids are tracked, and resubscribeAll sends the
	// whole set once a connection is established.
	f.connMu.Lock()
	connected := f.conn != nil
	f.connMu.Unlock()
	if !connected {
		return nil
	}

	return f.sendBatched(tokenIDs)
}

// Close gracefully closes the connection.
func (f *TradeFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *TradeFeed) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Resubscription must complete before the connection is considered
	// open for alerting purposes.
	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("resubscribe: %w", err)
	}
	f.logger.Info("trade feed connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatchMessage(msg)
	}
}

func (f *TradeFeed) resubscribeAll() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	return f.sendBatched(ids)
}

func (f *TradeFeed) sendBatched(ids []string) error {
	for start := 0; start < len(ids); start += f.subscribeBatch {
		end := start + f.subscribeBatch
		if end > len(ids) {
			end = len(ids)
		}
		msg := types.WSSubscribeMsg{Type: "subscribe", Channel: "market", AssetIDs: ids[start:end]}
		if err := f.writeJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// dispatchMessage accepts either a single trade event object or an array of
// events, per the exchange's batching contract.
func (f *TradeFeed) dispatchMessage(data []byte) {
	var batch []types.WSTradeMessage
	if err := json.Unmarshal(data, &batch); err == nil {
		for _, evt := range batch {
			f.emit(evt)
		}
		return
	}

	var single types.WSTradeMessage
	if err := json.Unmarshal(data, &single); err != nil {
		f.logger.Debug("ignoring unparseable ws message", "data", string(data))
		return
	}
	f.emit(single)
}

func (f *TradeFeed) emit(evt types.WSTradeMessage) {
	switch evt.EventType {
	case "last_trade_price", "price_change":
	default:
		f.logger.Debug("ignoring event", "type", evt.EventType)
		return
	}

	select {
	case f.tradeCh <- evt:
	default:
		f.logger.Warn("trade channel full, dropping event", "asset", evt.AssetID)
	}
}

func (f *TradeFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
