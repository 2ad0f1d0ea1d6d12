// Package discovery implements the periodic leader-follower discovery
// pipeline: it ingests the exchange's market catalog, embeds and clusters
// market questions, asks an LLM to label clusters and evaluate candidate
// pairs, and registers actionable pairs as opportunities in the shared
// Opportunity & Cache State store.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"surveillance/internal/clock"
	"surveillance/internal/config"
	"surveillance/internal/exchange"
	"surveillance/internal/filter"
	"surveillance/internal/metrics"
	"surveillance/internal/notifier"
	"surveillance/internal/oppstate"
	"surveillance/pkg/types"
)

// MarketsSource fetches the current active/open market catalog.
type MarketsSource interface {
	FetchActiveMarkets(ctx context.Context, maxPages int) ([]types.Market, error)
}

// Pipeline runs one discovery pass: ingest, embed, cluster, label,
// evaluate pairs, register opportunities, and age out stale cache
// entries.
type Pipeline struct {
	cfg      config.DiscoveryConfig
	cacheCfg config.CacheConfig

	markets MarketsSource
	filter  *filter.Filter
	store   *oppstate.Store
	embed   EmbeddingProvider
	llm     *LLMClient
	limiter *exchange.RateLimiter
	notify  notifier.Sink
	clock   clock.Clock
	logger  *slog.Logger
}

// New builds a Pipeline.
func New(
	cfg config.DiscoveryConfig,
	cacheCfg config.CacheConfig,
	markets MarketsSource,
	f *filter.Filter,
	store *oppstate.Store,
	embed EmbeddingProvider,
	llm *LLMClient,
	limiter *exchange.RateLimiter,
	notify notifier.Sink,
	clk clock.Clock,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		cacheCfg: cacheCfg,
		markets:  markets,
		filter:   f,
		store:    store,
		embed:    embed,
		llm:      llm,
		limiter:  limiter,
		notify:   notify,
		clock:    clk,
		logger:   logger.With("component", "discovery.pipeline"),
	}
}

// Run executes discovery on startup, then every RescanInterval until ctx
// is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	if err := p.RunOnce(ctx); err != nil {
		p.logger.Error("discovery pass failed", "error", err)
	}

	interval := p.cfg.RescanInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				p.logger.Error("discovery pass failed", "error", err)
			}
		}
	}
}

// RunOnce executes the full 8-step pipeline once.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	now := p.clock.Now()
	p.logger.Info("discovery pass starting")

	candidates, newMarkets, err := p.ingest(ctx, now)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if len(candidates) == 0 {
		p.logger.Info("discovery pass found no candidate markets")
		return p.store.CleanupEndedMarkets(now, retention(p.cacheCfg))
	}

	vectors, ordered, fallbackUsed := p.embedAll(ctx, candidates)

	var clusters [][]types.Market
	if fallbackUsed {
		clusters = ruleBasedClusters(candidates)
	} else {
		clusters = p.clusterMarkets(ordered, vectors)
	}

	for i, cluster := range clusters {
		label := p.labelCluster(ctx, cluster)
		seriesID := fmt.Sprintf("%s-%d", label, i)
		p.evaluateCluster(ctx, cluster, seriesID, now, newMarkets)
	}

	return p.store.CleanupEndedMarkets(now, retention(p.cacheCfg))
}

func retention(cfg config.CacheConfig) time.Duration {
	days := cfg.MarketRetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// ingest fetches the catalog, marks every market seen, and filters down to
// markets eligible for the pair-discovery steps: not excluded, resolving
// at least MinDaysToResolve days out, and carrying at least
// MinMarketVolume in 24h volume. It also returns the set of market IDs
// that were not yet recorded as seen prior to this pass, captured before
// MarkMarketSeen runs, so callers can tell which pairs involve a market
// seen for the first time.
func (p *Pipeline) ingest(ctx context.Context, now time.Time) ([]types.Market, map[string]bool, error) {
	if err := p.limiter.Markets.Wait(ctx); err != nil {
		return nil, nil, err
	}
	all, err := p.markets.FetchActiveMarkets(ctx, 0)
	if err != nil {
		return nil, nil, err
	}

	minDays := p.cfg.MinDaysToResolve
	if minDays <= 0 {
		minDays = 7
	}
	minVolume := p.cfg.MinMarketVolume
	if minVolume <= 0 {
		minVolume = 10000
	}

	var out []types.Market
	newMarkets := make(map[string]bool)
	for _, m := range all {
		if p.store.IsMarketNew(m.ID) {
			newMarkets[m.ID] = true
		}
		if err := p.store.MarkMarketSeen(m.ID, types.SeenMarket{Question: m.Question, EndTime: m.EndDate}, now); err != nil {
			p.logger.Warn("failed to record seen market", "market", m.ID, "error", err)
		}
		if p.filter.Excluded(m) {
			continue
		}
		if m.EndDate.IsZero() || m.EndDate.Sub(now) < time.Duration(minDays)*24*time.Hour {
			continue
		}
		if m.Volume24h < minVolume {
			continue
		}
		out = append(out, m)
	}
	return out, newMarkets, nil
}

// embedAll resolves an embedding per market, preferring the cache. Once a
// live provider call fails (or the rate-limiter wait is cancelled), it makes
// no further provider calls for this pass and reports fallbackUsed so the
// caller switches to rule-based clustering.
func (p *Pipeline) embedAll(ctx context.Context, markets []types.Market) (vectors [][]float64, ordered []types.Market, fallbackUsed bool) {
	providerFailed := false
	for _, m := range markets {
		if cached, ok := p.store.GetEmbedding(m.ID); ok {
			vectors = append(vectors, cached)
			ordered = append(ordered, m)
			continue
		}
		if providerFailed {
			continue
		}
		if err := p.limiter.LLM.Wait(ctx); err != nil {
			providerFailed = true
			continue
		}
		vec, err := p.embed.Embed(ctx, m.Question)
		if err != nil {
			p.logger.Warn("embedding provider failed, falling back to rule-based topics", "error", err)
			providerFailed = true
			continue
		}
		if err := p.store.SaveEmbedding(m.ID, vec); err != nil {
			p.logger.Warn("failed to cache embedding", "market", m.ID, "error", err)
		}
		vectors = append(vectors, vec)
		ordered = append(ordered, m)
	}
	if providerFailed && len(ordered) < len(markets) {
		return nil, nil, true
	}
	return vectors, ordered, false
}

// clusterMarkets runs k-means over the resolved embedding vectors, with
// k scaled to the candidate count per the configured minimum and divisor.
func (p *Pipeline) clusterMarkets(markets []types.Market, vectors [][]float64) [][]types.Market {
	if len(markets) == 0 {
		return nil
	}
	kMin := p.cfg.ClusterKMin
	if kMin <= 0 {
		kMin = 5
	}
	divisor := p.cfg.ClusterDivisor
	if divisor <= 0 {
		divisor = 10
	}
	k := len(markets) / divisor
	if k < kMin {
		k = kMin
	}
	iterations := p.cfg.KMeansIterations
	if iterations <= 0 {
		iterations = 10
	}

	assignments := kmeans(vectors, k, iterations, p.cfg.KMeansSeed)

	byCluster := make(map[int][]types.Market)
	for i, c := range assignments {
		byCluster[c] = append(byCluster[c], markets[i])
	}
	clusters := make([][]types.Market, 0, len(byCluster))
	for _, group := range byCluster {
		clusters = append(clusters, group)
	}
	return clusters
}

// ruleBasedClusters groups markets by a static keyword-to-topic table,
// used when the embedding provider is unavailable for a pass.
func ruleBasedClusters(markets []types.Market) [][]types.Market {
	byTopic := make(map[string][]types.Market)
	for _, m := range markets {
		byTopic[ruleBasedTopic(m)] = append(byTopic[ruleBasedTopic(m)], m)
	}
	clusters := make([][]types.Market, 0, len(byTopic))
	for _, group := range byTopic {
		clusters = append(clusters, group)
	}
	return clusters
}

var ruleBasedTopics = []struct {
	keyword string
	topic   string
}{
	{"election", "elections"},
	{"president", "politics"},
	{"senate", "politics"},
	{"congress", "politics"},
	{"fed", "economy"},
	{"inflation", "economy"},
	{"gdp", "economy"},
	{"crypto", "finance"},
	{"etf", "finance"},
	{"war", "geopolitics"},
	{"sanctions", "geopolitics"},
	{"ai", "ai"},
	{"model", "tech"},
}

func ruleBasedTopic(m types.Market) string {
	q := m.Question
	for _, rule := range ruleBasedTopics {
		if containsFold(q, rule.keyword) {
			return rule.topic
		}
	}
	return "other"
}

func containsFold(s, substr string) bool {
	sl, subl := []rune(s), []rune(substr)
	toLower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	sl, subl = toLower(sl), toLower(subl)
	if len(subl) == 0 || len(subl) > len(sl) {
		return len(subl) == 0
	}
	for i := 0; i+len(subl) <= len(sl); i++ {
		match := true
		for j := range subl {
			if sl[i+j] != subl[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// labelCluster asks the LLM to classify a cluster's representative
// questions, falling back to a rule-based guess on any LLM failure.
func (p *Pipeline) labelCluster(ctx context.Context, cluster []types.Market) string {
	questions := make([]string, 0, maxRepresentativeQuestions)
	for i, m := range cluster {
		if i >= maxRepresentativeQuestions {
			break
		}
		questions = append(questions, m.Question)
	}
	if err := p.limiter.LLM.Wait(ctx); err == nil {
		if label, err := p.llm.LabelCluster(ctx, questions); err == nil {
			return label
		}
	}
	if len(cluster) > 0 {
		return ruleBasedTopic(cluster[0])
	}
	return "other"
}

// evaluateCluster runs pair evaluation and actionability filtering over
// every candidate pair within a cluster, capped at MaxPairsPerCluster.
func (p *Pipeline) evaluateCluster(ctx context.Context, cluster []types.Market, seriesID string, now time.Time, newMarkets map[string]bool) {
	maxPairs := p.cfg.MaxPairsPerCluster
	if maxPairs <= 0 {
		maxPairs = 50
	}
	minGapDays := p.cfg.MinTimeGapDays
	minConfidence := p.cfg.MinConfidence
	if minConfidence <= 0 {
		minConfidence = 0.5
	}

	evaluated := 0
	for i := 0; i < len(cluster) && evaluated < maxPairs; i++ {
		for j := i + 1; j < len(cluster) && evaluated < maxPairs; j++ {
			a, b := cluster[i], cluster[j]
			if a.ID == b.ID || a.EndDate.IsZero() || b.EndDate.IsZero() {
				continue
			}
			gapDays := math.Abs(a.EndDate.Sub(b.EndDate).Hours() / 24)
			if gapDays < minGapDays {
				continue
			}

			result := p.resolvePairResult(ctx, a, b, newMarkets[a.ID] || newMarkets[b.ID])
			evaluated++

			if result.Confidence < minConfidence {
				continue
			}
			switch result.Result {
			case types.RelationSameOutcome, types.RelationDifferentOutcome:
			default:
				continue
			}

			leader, follower := a, b
			if follower.EndDate.Before(leader.EndDate) {
				leader, follower = follower, leader
			}

			rel := types.MarketRelation{
				Market1ID:        a.ID,
				Market2ID:        b.ID,
				Relationship:     result.Result,
				Confidence:       result.Confidence,
				TradingRationale: result.TradingRationale,
				ExpectedEdge:     result.ExpectedEdge,
				LeaderID:         leader.ID,
				FollowerID:       follower.ID,
				TimeGapDays:      gapDays,
				SeriesID:         seriesID,
			}

			if p.store.HasOpportunity(rel.LeaderID, rel.FollowerID) {
				continue
			}
			opp, err := p.store.AddOpportunity(rel, now)
			if err != nil {
				p.logger.Error("failed to register opportunity", "leader", rel.LeaderID, "follower", rel.FollowerID, "error", err)
				continue
			}
			p.logger.Info("opportunity registered", "id", opp.ID, "relationship", rel.Relationship, "confidence", rel.Confidence)
			if err := p.notify.Send(ctx, fmt.Sprintf(
				"discovered %s opportunity: leader=%s follower=%s confidence=%.2f rationale=%s",
				rel.Relationship, leader.Question, follower.Question, rel.Confidence, rel.TradingRationale,
			)); err != nil {
				p.logger.Warn("failed to notify opportunity", "id", opp.ID, "error", err)
			}
		}
	}
}

// resolvePairResult serves a cached evaluation when present, else queries
// the LLM and caches the result (including UNRELATED verdicts, so a
// rejected pair is never re-evaluated). A cached verdict is bypassed and
// the pair is re-evaluated when either market is new this pass, so a
// freshly-listed market is never judged solely against a stale cache entry.
func (p *Pipeline) resolvePairResult(ctx context.Context, a, b types.Market, hasNewMarket bool) types.AnalyzedPair {
	pairID := types.PairID(a.ID, b.ID)
	if cached, ok := p.store.GetPairResult(pairID); ok && !hasNewMarket {
		return cached
	}

	if err := p.limiter.LLM.Wait(ctx); err != nil {
		return unrelatedResult()
	}
	result := p.llm.EvaluatePair(ctx, a.Question, b.Question)
	result.AnalyzedAt = p.clock.Now()
	metrics.DiscoveryPairsEvaluated.Inc()

	if err := p.store.SavePairResult(pairID, result); err != nil {
		p.logger.Warn("failed to cache pair result", "pair", pairID, "error", err)
	}
	return result
}
