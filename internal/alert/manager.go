package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"surveillance/internal/clock"
	"surveillance/internal/notifier"
	"surveillance/pkg/types"
)

// dedupState tracks the last successful send time for one marketId:type key.
type dedupState struct {
	lastSentAt time.Time
}

// Manager deduplicates, rate-limits, formats, and delivers anomalies. It
// owns no trade-path state and is safe to share across goroutines via its
// internal mutex.
type Manager struct {
	mu sync.Mutex

	cooldown   time.Duration
	maxPerHour int

	dedup map[string]dedupState

	hourlyCount   int
	hourlyResetAt time.Time

	notifier notifier.Sink
	store    *Store
	clk      clock.Clock
	logger   *slog.Logger
}

// NewManager builds an Alert Manager. clk defaults to the real wall clock
// when nil.
func NewManager(cooldown time.Duration, maxPerHour int, n notifier.Sink, store *Store, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{
		cooldown:      cooldown,
		maxPerHour:    maxPerHour,
		dedup:         make(map[string]dedupState),
		hourlyResetAt: clk.Now(),
		notifier:      n,
		store:         store,
		clk:           clk,
		logger:        logger.With("component", "alert.manager"),
	}
}

func dedupKey(a types.Anomaly) string {
	return a.MarketID + ":" + string(a.Type)
}

// Send evaluates dedup and rate-limit, formats a message, and delivers it.
// Returns (delivered, error). On delivery failure, dedup state is not
// updated so a subsequent call may retry.
func (m *Manager) Send(ctx context.Context, a types.Anomaly, market types.Market) (bool, error) {
	m.mu.Lock()

	now := m.clk.Now()
	key := dedupKey(a)
	if st, ok := m.dedup[key]; ok && now.Sub(st.lastSentAt) < m.cooldown {
		m.mu.Unlock()
		m.logger.Debug("dropping alert: cooldown", "market", a.MarketID, "type", a.Type)
		return false, nil
	}

	if now.Sub(m.hourlyResetAt) > time.Hour {
		m.hourlyCount = 0
		m.hourlyResetAt = now
	}
	if m.hourlyCount+1 > m.maxPerHour {
		m.mu.Unlock()
		m.logger.Warn("dropping alert: hourly cap reached", "market", a.MarketID, "type", a.Type)
		return false, nil
	}
	m.hourlyCount++

	m.mu.Unlock()

	message := Format(a)

	if err := m.notifier.Send(ctx, message); err != nil {
		return false, fmt.Errorf("deliver alert: %w", err)
	}

	sa := normalize(a, message)
	if err := m.store.Add(sa); err != nil {
		return false, fmt.Errorf("persist alert: %w", err)
	}

	m.mu.Lock()
	m.dedup[key] = dedupState{lastSentAt: now}
	m.mu.Unlock()

	return true, nil
}

// normalize converts an Anomaly into its StoredAlert representation.
func normalize(a types.Anomaly, message string) types.StoredAlert {
	return types.StoredAlert{
		ID:               fmt.Sprintf("%s:%s:%d", a.MarketID, a.Type, a.Timestamp.UnixMilli()),
		MarketID:         a.MarketID,
		Question:         a.Question,
		Type:             a.Type,
		Severity:         a.Severity,
		Timestamp:        a.Timestamp,
		CurrentPrice:     a.CurrentPrice,
		ImpliedDirection: a.ImpliedDirection,
		Message:          message,
	}
}

// Format renders one message per anomaly variant. It never throws; missing
// or zero-valued fields simply render as '?' or 0.
func Format(a types.Anomaly) string {
	question := a.Question
	if question == "" {
		question = "?"
	}

	switch a.Type {
	case types.AnomalyLargeTrade:
		z := "?"
		var size float64
		if a.LargeTrade != nil {
			size = a.LargeTrade.TradeSizeUSD
			if a.LargeTrade.ZScore != nil {
				z = fmt.Sprintf("%.2f", *a.LargeTrade.ZScore)
			}
		}
		return fmt.Sprintf("[%s] LARGE_TRADE on %q: $%.2f notional (z=%s), price=%.4f, implied=%s",
			a.Severity, question, size, z, a.CurrentPrice, a.ImpliedDirection)

	case types.AnomalyVolumeSpike:
		var vol, expected, multiple float64
		if a.VolumeSpike != nil {
			vol = a.VolumeSpike.WindowVolumeUSD
			expected = a.VolumeSpike.ExpectedVolume
			multiple = a.VolumeSpike.Multiple
		}
		return fmt.Sprintf("[%s] VOLUME_SPIKE on %q: $%.2f in window (%.1fx expected $%.2f), implied=%s",
			a.Severity, question, vol, multiple, expected, a.ImpliedDirection)

	case types.AnomalyRapidPriceMove:
		var deltaPct float64
		dir := "?"
		if a.RapidPriceMove != nil {
			deltaPct = a.RapidPriceMove.DeltaPercent
			dir = a.RapidPriceMove.PriceDirection
		}
		return fmt.Sprintf("[%s] RAPID_PRICE_MOVE on %q: %.2f%% %s, price=%.4f, implied=%s",
			a.Severity, question, deltaPct*100, dir, a.CurrentPrice, a.ImpliedDirection)

	case types.AnomalyUnusualLowPriceBuy:
		var size, pct, median float64
		var rank, total int
		if a.UnusualLowPriceBuy != nil {
			size = a.UnusualLowPriceBuy.TradeSizeUSD
			pct = a.UnusualLowPriceBuy.Percentile
			rank = a.UnusualLowPriceBuy.Rank
			total = a.UnusualLowPriceBuy.Total
			median = a.UnusualLowPriceBuy.MedianSize
		}
		return fmt.Sprintf("[%s] UNUSUAL_LOW_PRICE_BUY on %q: $%.2f at price %.4f (pctile=%.4f, rank=%d/%d, median=$%.2f), implied=%s",
			a.Severity, question, size, a.CurrentPrice, pct, rank, total, median, a.ImpliedDirection)

	default:
		return fmt.Sprintf("[%s] %s on %q, price=%.4f, implied=%s", a.Severity, a.Type, question, a.CurrentPrice, a.ImpliedDirection)
	}
}
