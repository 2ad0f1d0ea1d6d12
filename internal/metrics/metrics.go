// Package metrics holds the Prometheus collectors shared across the
// trade path (including alert delivery), discovery pipeline, and leader
// monitor. Registered once in
// init() and served by the health server's /metrics route.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TradesProcessed counts trades dispatched through the detector
	// pipeline, labeled by market.
	TradesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveillance_trades_processed_total",
			Help: "Trades processed by the detector orchestrator.",
		},
		[]string{"market"},
	)

	// AnomaliesEmitted counts anomalies produced by the Anomaly Engine,
	// labeled by type and severity.
	AnomaliesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveillance_anomalies_emitted_total",
			Help: "Anomalies emitted by the Anomaly Engine.",
		},
		[]string{"type", "severity"},
	)

	// AlertsSent counts alerts that were actually delivered.
	AlertsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surveillance_alerts_sent_total",
			Help: "Alerts successfully delivered by the Alert Manager.",
		},
	)

	// AlertsDropped counts alerts that were not delivered, labeled by
	// reason: "suppressed" (dedup/cooldown or the hourly rate limit; the two
	// share this label) or "delivery_error".
	AlertsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveillance_alerts_dropped_total",
			Help: "Alerts dropped before delivery, labeled by reason.",
		},
		[]string{"reason"},
	)

	// DiscoveryPairsEvaluated counts LLM pair evaluations performed by
	// the Discovery Pipeline.
	DiscoveryPairsEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surveillance_discovery_pairs_evaluated_total",
			Help: "Market pairs evaluated by the discovery pipeline's LLM step.",
		},
	)

	// OpportunitiesByState is a gauge of opportunity counts labeled by
	// lifecycle status. It is registered, but no component sets it, so it
	// exports no series.
	OpportunitiesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "surveillance_opportunities_by_state",
			Help: "Current opportunity count by lifecycle state.",
		},
		[]string{"status"},
	)

	// MonitorEventsEmitted counts Leader Monitor events, labeled by type.
	MonitorEventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveillance_monitor_events_emitted_total",
			Help: "Leader Monitor events emitted, labeled by event type.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(TradesProcessed, AnomaliesEmitted, AlertsSent, AlertsDropped)
	prometheus.MustRegister(DiscoveryPairsEvaluated, OpportunitiesByState, MonitorEventsEmitted)
}
