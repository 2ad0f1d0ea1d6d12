// Package types defines the shared vocabulary used across every package of
// the surveillance engine: markets, trades, anomalies, alerts, and the
// leader-follower discovery model. It has no dependency on any internal
// package so every layer can import it.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of a trade.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Severity ranks how unusual an anomaly is.
type Severity string

const (
	SeverityNone     Severity = "NONE"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityOrder = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return severityOrder[s] >= severityOrder[min]
}

// Direction is the implied directional bias of an anomaly.
type Direction string

const (
	DirectionYes     Direction = "YES"
	DirectionNo      Direction = "NO"
	DirectionUnknown Direction = "UNKNOWN"
)

// AnomalyType enumerates the four detector variants.
type AnomalyType string

const (
	AnomalyLargeTrade         AnomalyType = "LARGE_TRADE"
	AnomalyVolumeSpike        AnomalyType = "VOLUME_SPIKE"
	AnomalyRapidPriceMove     AnomalyType = "RAPID_PRICE_MOVE"
	AnomalyUnusualLowPriceBuy AnomalyType = "UNUSUAL_LOW_PRICE_BUY"
)

// RelationshipType classifies how two markets' outcomes relate.
type RelationshipType string

const (
	RelationSameOutcome      RelationshipType = "SAME_OUTCOME"
	RelationDifferentOutcome RelationshipType = "DIFFERENT_OUTCOME"
	RelationUnrelated        RelationshipType = "UNRELATED"
	RelationSameEventReject  RelationshipType = "SAME_EVENT_REJECT"
)

// OpportunityStatus is the lifecycle state of a discovered Opportunity.
type OpportunityStatus string

const (
	OppActive             OpportunityStatus = "active"
	OppThresholdTriggered OpportunityStatus = "threshold_triggered"
	OppResolved           OpportunityStatus = "resolved"
)

// ————————————————————————————————————————————————————————————————————————
// Market metadata
// ————————————————————————————————————————————————————————————————————————

// Market is the internal representation of a binary-outcome market.
type Market struct {
	ID          string
	ConditionID string
	Slug        string
	Question    string
	Description string
	Tags        []string

	YesTokenID string
	NoTokenID  string

	EndDate   time.Time
	Volume24h float64

	LastYesPrice float64
	LastNoPrice  float64

	Active bool
	Closed bool
}

// ————————————————————————————————————————————————————————————————————————
// Trades
// ————————————————————————————————————————————————————————————————————————

// Trade is a single executed fill on a market's order book.
type Trade struct {
	MarketID  string
	TokenID   string
	Sequence  uint64
	Price     float64 // in [0, 1]
	Size      float64 // shares
	Side      Side
	Timestamp time.Time
}

// NotionalUSD returns price * size.
func (t Trade) NotionalUSD() float64 { return t.Price * t.Size }

// ————————————————————————————————————————————————————————————————————————
// Baseline statistics
// ————————————————————————————————————————————————————————————————————————

// MarketBaseline holds the derived rolling statistics for one market.
type MarketBaseline struct {
	MarketID string

	AvgTradeSizeUSD    float64
	StddevTradeSizeUSD float64
	MedianTradeSizeUSD float64

	AvgHourlyVolume    float64
	StddevHourlyVolume float64

	AvgHourlyAbsPriceChange    float64
	StddevHourlyAbsPriceChange float64

	TradesPerHour float64
	SampleCount   int

	FirstTradeAt time.Time
	LastTradeAt  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Anomalies — tagged union: a common header plus one variant's details.
// ————————————————————————————————————————————————————————————————————————

// AnomalyHeader carries the fields every anomaly variant shares.
type AnomalyHeader struct {
	MarketID         string
	Question         string
	Type             AnomalyType
	Severity         Severity
	Timestamp        time.Time
	CurrentPrice     float64
	ImpliedDirection Direction
	TriggeringTrade  *Trade
}

// LargeTradeDetails is the variant payload for AnomalyLargeTrade.
type LargeTradeDetails struct {
	TradeSizeUSD float64
	ZScore       *float64
}

// VolumeSpikeDetails is the variant payload for AnomalyVolumeSpike.
type VolumeSpikeDetails struct {
	WindowVolumeUSD float64
	ExpectedVolume  float64
	Multiple        float64
	ZScore          *float64
}

// RapidPriceMoveDetails is the variant payload for AnomalyRapidPriceMove.
type RapidPriceMoveDetails struct {
	StartPrice     float64
	EndPrice       float64
	Delta          float64
	DeltaPercent   float64
	PriceDirection string // "UP" or "DOWN"
}

// UnusualLowPriceBuyDetails is the variant payload for AnomalyUnusualLowPriceBuy.
type UnusualLowPriceBuyDetails struct {
	TradeSizeUSD float64
	Percentile   float64
	Rank         int
	Total        int
	MedianSize   float64
}

// Anomaly is a tagged union over the four detector variants. Exactly one of
// the *Details fields is non-nil, matching Type.
type Anomaly struct {
	AnomalyHeader

	LargeTrade         *LargeTradeDetails
	VolumeSpike        *VolumeSpikeDetails
	RapidPriceMove     *RapidPriceMoveDetails
	UnusualLowPriceBuy *UnusualLowPriceBuyDetails
}

// ————————————————————————————————————————————————————————————————————————
// Alerts
// ————————————————————————————————————————————————————————————————————————

// StoredAlert is a persisted Anomaly with a stable id and optional post-hoc
// outcome fields.
type StoredAlert struct {
	ID               string      `json:"id"` // "{market}:{type}:{timestampUnixMs}"
	MarketID         string      `json:"marketId"`
	Question         string      `json:"question"`
	Type             AnomalyType `json:"type"`
	Severity         Severity    `json:"severity"`
	Timestamp        time.Time   `json:"timestamp"`
	CurrentPrice     float64     `json:"currentPrice"`
	ImpliedDirection Direction   `json:"impliedDirection"`
	Message          string      `json:"message"`

	// Optional post-hoc outcome, filled in by an external reconciliation
	// process; never populated by the Alert Store itself.
	OutcomeKnown bool    `json:"outcomeKnown,omitempty"`
	OutcomeYes   bool    `json:"outcomeYes,omitempty"`
	PriceAtKnown float64 `json:"priceAtKnown,omitempty"`
}

// AlertStats summarizes the contents of the Alert Store.
type AlertStats struct {
	ByType     map[AnomalyType]int `json:"byType"`
	BySeverity map[Severity]int    `json:"bySeverity"`
	Last24h    int                 `json:"last24h"`
	Last7d     int                 `json:"last7d"`
	Total      int                 `json:"total"`
}

// ————————————————————————————————————————————————————————————————————————
// Discovery / leader-follower
// ————————————————————————————————————————————————————————————————————————

// MarketRelation is a directed-by-time link between two markets.
type MarketRelation struct {
	Market1ID        string
	Market2ID        string
	Relationship     RelationshipType
	Confidence       float64
	TradingRationale string
	ExpectedEdge     string

	LeaderID    string
	FollowerID  string
	TimeGapDays float64
	SeriesID    string
}

// PairID is the canonical, order-independent cache key for a pair of markets.
func PairID(a, b string) string {
	if a <= b {
		return a + "-" + b
	}
	return b + "-" + a
}

// Opportunity wraps one actionable MarketRelation with a lifecycle.
type Opportunity struct {
	ID       string         `json:"id"` // leaderId-followerId
	Relation MarketRelation `json:"relation"`

	Status OpportunityStatus `json:"status"`

	LeaderOutcome        string    `json:"leaderOutcome,omitempty"` // "YES"/"NO" once resolved
	ThresholdPrice       float64   `json:"thresholdPrice,omitempty"`
	ThresholdTriggeredAt time.Time `json:"thresholdTriggeredAt,omitempty"`
	ResolvedAt           time.Time `json:"resolvedAt,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
}

// SeenMarket is a lightweight cache record of a market encountered by discovery.
type SeenMarket struct {
	Question  string    `json:"question"`
	EndTime   time.Time `json:"endTime"`
	FirstSeen time.Time `json:"firstSeen"`
}

// AnalyzedPair is the cached result of an LLM pair evaluation.
type AnalyzedPair struct {
	Result           RelationshipType `json:"result"`
	Confidence       float64          `json:"confidence"`
	TradingRationale string           `json:"tradingRationale"`
	ExpectedEdge     string           `json:"expectedEdge"`
	AnalyzedAt       time.Time        `json:"analyzedAt"`
}

// CacheState holds the discovery pipeline's incremental cache.
type CacheState struct {
	SeenMarkets   map[string]SeenMarket   `json:"seenMarkets"`
	AnalyzedPairs map[string]AnalyzedPair `json:"analyzedPairs"`
	Embeddings    map[string][]float64    `json:"embeddings"`
}

// PersistedState is the top-level document persisted by the Opportunity &
// Cache State component.
type PersistedState struct {
	Opportunities []Opportunity `json:"opportunities"`
	LastChecked   time.Time     `json:"lastChecked"`
	Cache         CacheState    `json:"cache"`
}

// ————————————————————————————————————————————————————————————————————————
// Leader Monitor events
// ————————————————————————————————————————————————————————————————————————

// MonitorEventType enumerates the events the Leader Monitor can emit.
type MonitorEventType string

const (
	EventLeaderResolved MonitorEventType = "LEADER_RESOLVED"
	EventNearCertainty  MonitorEventType = "NEAR_CERTAINTY"
	EventCascade        MonitorEventType = "CASCADE"
)

// MonitorEvent is emitted by the Leader Monitor for downstream notification.
type MonitorEvent struct {
	Type          MonitorEventType
	OpportunityID string
	LeaderID      string
	FollowerID    string
	Outcome       string // "YES"/"NO", set for LEADER_RESOLVED
	TradeAction   string // human-readable derived action
	Price         float64
	Timestamp     time.Time
}

// ————————————————————————————————————————————————————————————————————————
// External WebSocket/HTTP wire shapes
// ————————————————————————————————————————————————————————————————————————

// WSSubscribeMsg subscribes to the trade channel for a batch of token ids.
type WSSubscribeMsg struct {
	Type     string   `json:"type"` // "subscribe"
	Channel  string   `json:"channel"` // "market"
	AssetIDs []string `json:"assets_ids"`
}

// WSTradeMessage maps onto the exchange's "last_trade_price" / "price_change"
// WS payloads. Price/size/timestamp arrive as decimal strings to preserve
// precision; side may be absent (see DESIGN.md's Open Question resolution).
type WSTradeMessage struct {
	EventType string `json:"event_type"` // "last_trade_price" | "price_change"
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"` // condition id
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"` // decimal string, ms or s
}

// GammaEvent is the JSON shape of one event returned by the markets API.
type GammaEvent struct {
	Markets []GammaMarket `json:"markets"`
}

// GammaMarket is the JSON shape of a single market within a GammaEvent.
type GammaMarket struct {
	ID            string   `json:"id"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Question      string   `json:"question"`
	Description   string   `json:"description"`
	EndDate       string   `json:"endDate"`
	ClobTokenIds  string   `json:"clobTokenIds"`  // JSON array of two strings
	OutcomePrices string   `json:"outcomePrices"` // JSON array of two decimal strings
	Volume24hr    float64  `json:"volume24hr"`
	Closed        bool     `json:"closed"`
	Active        bool     `json:"active"`
	Tags          []string `json:"tags"`
}

// LeaderStatus is the JSON shape returned by the leader status endpoint.
type LeaderStatus struct {
	ID             string        `json:"id"`
	Question       string        `json:"question"`
	Closed         bool          `json:"closed"`
	Resolved       bool          `json:"resolved"`
	Outcome        string        `json:"outcome"`
	WinningOutcome string        `json:"winning_outcome"`
	Tokens         []LeaderToken `json:"tokens"`
}

// LeaderToken is one outcome token within a LeaderStatus response.
type LeaderToken struct {
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
}
