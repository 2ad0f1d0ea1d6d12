// Package monitor implements the Leader Monitor: a periodic poller that
// converts the discovery pipeline's opportunities into actionable events
// as their leader markets progress toward resolution.
//
// Grounded on the teacher's risk manager's periodic-ticker-and-emit-signal
// shape, repurposed from a kill-switch to a three-event emitter.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"surveillance/internal/clock"
	"surveillance/internal/config"
	"surveillance/internal/exchange"
	"surveillance/internal/metrics"
	"surveillance/internal/notifier"
	"surveillance/internal/oppstate"
	"surveillance/pkg/types"
)

// Monitor periodically polls each unresolved opportunity's leader status
// and emits resolution, near-certainty, and cascade events.
type Monitor struct {
	cfg      config.MonitorConfig
	leader   *exchange.LeaderClient
	opps     *oppstate.Store
	notifier notifier.Sink
	clk      clock.Clock
	logger   *slog.Logger
}

// New builds a Leader Monitor. clk defaults to the real wall clock when nil.
func New(cfg config.MonitorConfig, leader *exchange.LeaderClient, opps *oppstate.Store, n notifier.Sink, clk clock.Clock, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Monitor{
		cfg:      cfg,
		leader:   leader,
		opps:     opps,
		notifier: n,
		clk:      clk,
		logger:   logger.With("component", "monitor"),
	}
}

// Run ticks every ResolutionCheckInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.ResolutionCheckInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick processes every unresolved opportunity once, with a small
// inter-market delay to respect the leader status endpoint's rate limit.
func (m *Monitor) Tick(ctx context.Context) {
	delay := m.cfg.PerMarketDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}

	for _, opp := range m.opps.GetUnresolvedOpportunities() {
		if ctx.Err() != nil {
			return
		}
		m.processOpportunity(ctx, opp)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (m *Monitor) processOpportunity(ctx context.Context, opp types.Opportunity) {
	status, err := m.leader.Status(ctx, opp.Relation.LeaderID)
	if err != nil {
		m.logger.Warn("leader status fetch failed", "opportunity", opp.ID, "error", err)
		return
	}

	if status.Resolved || status.Closed {
		m.handleResolution(opp, *status)
		return
	}

	m.handleNearCertainty(ctx, opp, *status)
}

func (m *Monitor) handleResolution(opp types.Opportunity, status types.LeaderStatus) {
	raw := status.Outcome
	if raw == "" {
		raw = status.WinningOutcome
	}
	outcome, ok := parseOutcome(raw)
	if !ok {
		m.logger.Warn("ambiguous leader outcome, leaving opportunity unresolved", "opportunity", opp.ID, "raw", raw)
		return
	}

	now := m.clk.Now()
	advanced, err := m.opps.MarkLeaderResolved(opp.ID, outcome, now)
	if err != nil {
		m.logger.Error("mark leader resolved failed", "opportunity", opp.ID, "error", err)
		return
	}
	if !advanced {
		return
	}

	action := deriveTradeAction(opp.Relation, outcome)
	m.emit(types.MonitorEvent{
		Type:          types.EventLeaderResolved,
		OpportunityID: opp.ID,
		LeaderID:      opp.Relation.LeaderID,
		FollowerID:    opp.Relation.FollowerID,
		Outcome:       outcome,
		TradeAction:   action,
		Timestamp:     now,
	})
}

func (m *Monitor) handleNearCertainty(ctx context.Context, opp types.Opportunity, status types.LeaderStatus) {
	if opp.Status != types.OppActive {
		return
	}
	yesPrice, ok := yesTokenPrice(status)
	if !ok {
		return
	}

	threshold := m.cfg.NearCertaintyThreshold
	if threshold <= 0 {
		threshold = 0.90
	}
	if yesPrice < threshold {
		return
	}

	now := m.clk.Now()
	advanced, err := m.opps.MarkThresholdTriggered(opp.ID, yesPrice, now)
	if err != nil {
		m.logger.Error("mark threshold triggered failed", "opportunity", opp.ID, "error", err)
		return
	}
	if !advanced {
		return
	}

	m.emit(types.MonitorEvent{
		Type:          types.EventNearCertainty,
		OpportunityID: opp.ID,
		LeaderID:      opp.Relation.LeaderID,
		FollowerID:    opp.Relation.FollowerID,
		Price:         yesPrice,
		Timestamp:     now,
	})

	m.cascade(ctx, opp, yesPrice, now)
}

// cascade marks every still-active sibling in the same series with a later
// leader end-time as threshold_triggered at the same price, emitting one
// CASCADE event per sibling. The originating opportunity gets no cascade
// event of its own.
func (m *Monitor) cascade(ctx context.Context, opp types.Opportunity, price float64, now time.Time) {
	seriesID := opp.Relation.SeriesID
	if seriesID == "" {
		return
	}
	leaderEnd, haveEnd := m.leaderEndTime(opp)

	for _, sibling := range m.opps.GetOpportunitiesInSeries(seriesID) {
		if ctx.Err() != nil {
			return
		}
		if sibling.ID == opp.ID || sibling.Status != types.OppActive {
			continue
		}
		if haveEnd {
			if siblingEnd, ok := m.leaderEndTime(sibling); !ok || !siblingEnd.After(leaderEnd) {
				continue
			}
		}

		advanced, err := m.opps.MarkThresholdTriggered(sibling.ID, price, now)
		if err != nil {
			m.logger.Error("cascade mark threshold failed", "opportunity", sibling.ID, "error", err)
			continue
		}
		if !advanced {
			continue
		}

		m.emit(types.MonitorEvent{
			Type:          types.EventCascade,
			OpportunityID: sibling.ID,
			LeaderID:      sibling.Relation.LeaderID,
			FollowerID:    sibling.Relation.FollowerID,
			Price:         price,
			Timestamp:     now,
		})
	}
}

func (m *Monitor) leaderEndTime(opp types.Opportunity) (time.Time, bool) {
	seen, ok := m.opps.GetSeenMarket(opp.Relation.LeaderID)
	if !ok || seen.EndTime.IsZero() {
		return time.Time{}, false
	}
	return seen.EndTime, true
}

// parseOutcome accepts several truthy/falsy string forms for the outcome
// field, case-insensitively.
func parseOutcome(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "1", "true":
		return "YES", true
	case "no", "0", "false":
		return "NO", true
	default:
		return "", false
	}
}

// deriveTradeAction derives a human-readable follow action: SAME_OUTCOME
// relations buy the follower in the same direction as the leader's
// outcome; DIFFERENT_OUTCOME relations buy the opposite side.
func deriveTradeAction(rel types.MarketRelation, leaderOutcome string) string {
	switch rel.Relationship {
	case types.RelationSameOutcome:
		return fmt.Sprintf("buy %s on follower %s", leaderOutcome, rel.FollowerID)
	case types.RelationDifferentOutcome:
		opposite := "NO"
		if leaderOutcome == "NO" {
			opposite = "YES"
		}
		return fmt.Sprintf("buy %s on follower %s", opposite, rel.FollowerID)
	default:
		return "no action: unrelated"
	}
}

func yesTokenPrice(status types.LeaderStatus) (float64, bool) {
	for _, tok := range status.Tokens {
		if strings.EqualFold(tok.Outcome, "yes") {
			return tok.Price, true
		}
	}
	return 0, false
}

func (m *Monitor) emit(evt types.MonitorEvent) {
	text := formatEvent(evt)
	if err := m.notifier.Send(context.Background(), text); err != nil {
		m.logger.Error("monitor event delivery failed", "type", evt.Type, "opportunity", evt.OpportunityID, "error", err)
	}
	metrics.MonitorEventsEmitted.WithLabelValues(string(evt.Type)).Inc()
}

func formatEvent(evt types.MonitorEvent) string {
	switch evt.Type {
	case types.EventLeaderResolved:
		return fmt.Sprintf("[LEADER_RESOLVED] %s -> %s: leader resolved %s. %s",
			evt.LeaderID, evt.FollowerID, evt.Outcome, evt.TradeAction)
	case types.EventNearCertainty:
		return fmt.Sprintf("[NEAR_CERTAINTY] %s -> %s: leader YES price %.4f",
			evt.LeaderID, evt.FollowerID, evt.Price)
	case types.EventCascade:
		return fmt.Sprintf("[CASCADE] %s -> %s: threshold triggered at price %.4f",
			evt.LeaderID, evt.FollowerID, evt.Price)
	default:
		return fmt.Sprintf("[%s] %s -> %s", evt.Type, evt.LeaderID, evt.FollowerID)
	}
}
