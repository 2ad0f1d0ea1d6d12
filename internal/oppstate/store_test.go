package oppstate

import (
	"path/filepath"
	"testing"
	"time"

	"surveillance/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func testRelation(leader, follower string) types.MarketRelation {
	return types.MarketRelation{
		Market1ID:  leader,
		Market2ID:  follower,
		LeaderID:   leader,
		FollowerID: follower,
	}
}

func TestAddOpportunityIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	first, err := s.AddOpportunity(testRelation("A", "B"), now)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := s.AddOpportunity(testRelation("A", "B"), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if first.CreatedAt != second.CreatedAt {
		t.Fatal("second add should not overwrite the original")
	}
	if !s.HasOpportunity("A", "B") {
		t.Fatal("expected HasOpportunity true")
	}
}

func TestLifecycleIsMonotonic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()
	opp, _ := s.AddOpportunity(testRelation("A", "B"), now)

	advanced, err := s.MarkLeaderResolved(opp.ID, "YES", now)
	if err != nil || !advanced {
		t.Fatalf("expected resolve to succeed: advanced=%v err=%v", advanced, err)
	}

	// Attempting to go backward to threshold_triggered must be a no-op.
	advanced, err = s.MarkThresholdTriggered(opp.ID, 0.95, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advanced {
		t.Fatal("expected backward transition to be rejected")
	}

	active := s.GetActiveOpportunities()
	if len(active) != 0 {
		t.Fatalf("expected no active opportunities after resolution, got %d", len(active))
	}
	unresolved := s.GetUnresolvedOpportunities()
	if len(unresolved) != 0 {
		t.Fatalf("expected no unresolved opportunities, got %d", len(unresolved))
	}
}

func TestThresholdTriggerAdvancesAndPersists(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()
	opp, _ := s.AddOpportunity(testRelation("A", "B"), now)

	advanced, err := s.MarkThresholdTriggered(opp.ID, 0.92, now)
	if err != nil || !advanced {
		t.Fatalf("expected threshold trigger to succeed: advanced=%v err=%v", advanced, err)
	}

	active := s.GetActiveOpportunities()
	if len(active) != 0 {
		t.Fatal("threshold-triggered opportunity should not count as active")
	}
}

func TestGetOpportunitiesInSeries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	rel1 := testRelation("A", "B")
	rel1.SeriesID = "fed-rate"
	rel2 := testRelation("A", "C")
	rel2.SeriesID = "fed-rate"
	rel3 := testRelation("X", "Y")

	s.AddOpportunity(rel1, now)
	s.AddOpportunity(rel2, now)
	s.AddOpportunity(rel3, now)

	siblings := s.GetOpportunitiesInSeries("fed-rate")
	if len(siblings) != 2 {
		t.Fatalf("expected 2 opportunities in series, got %d", len(siblings))
	}
}

func TestPairCacheRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	pairID := types.PairID("m2", "m1")
	if s.IsPairAnalyzed(pairID) {
		t.Fatal("expected pair not yet analyzed")
	}

	result := types.AnalyzedPair{Result: types.RelationSameOutcome, Confidence: 0.8}
	if err := s.SavePairResult(pairID, result); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !s.IsPairAnalyzed(pairID) {
		t.Fatal("expected pair analyzed after save")
	}
	got, ok := s.GetPairResult(pairID)
	if !ok || got.Confidence != 0.8 {
		t.Fatalf("unexpected cached result: %+v ok=%v", got, ok)
	}
}

func TestMarketSeenPreservesFirstSeen(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	t0 := time.Now()

	if !s.IsMarketNew("m1") {
		t.Fatal("expected market new before first mark")
	}
	if err := s.MarkMarketSeen("m1", types.SeenMarket{Question: "q1"}, t0); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if s.IsMarketNew("m1") {
		t.Fatal("expected market not new after mark")
	}

	t1 := t0.Add(time.Hour)
	if err := s.MarkMarketSeen("m1", types.SeenMarket{Question: "q1-updated"}, t1); err != nil {
		t.Fatalf("remark: %v", err)
	}
	got := s.cache.SeenMarkets["m1"]
	if !got.FirstSeen.Equal(t0) {
		t.Fatalf("expected FirstSeen preserved at %v, got %v", t0, got.FirstSeen)
	}
}

func TestCleanupEndedMarketsDropsStaleMarketsAndOrphanedPairs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	now := time.Now()

	s.MarkMarketSeen("old", types.SeenMarket{EndTime: now.Add(-30 * 24 * time.Hour)}, now)
	s.MarkMarketSeen("fresh", types.SeenMarket{EndTime: now.Add(30 * 24 * time.Hour)}, now)
	pairID := types.PairID("old", "fresh")
	s.SavePairResult(pairID, types.AnalyzedPair{Result: types.RelationUnrelated})

	if err := s.CleanupEndedMarkets(now, 7*24*time.Hour); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if !s.IsMarketNew("old") {
		t.Fatal("expected stale market to be purged")
	}
	if s.IsMarketNew("fresh") {
		t.Fatal("expected fresh market to survive cleanup")
	}
	if s.IsPairAnalyzed(pairID) {
		t.Fatal("expected orphaned pair cache entry to be purged")
	}
}

func TestOpenReloadsPersistedState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	s1.AddOpportunity(testRelation("A", "B"), now)
	s1.SaveEmbedding("A", []float64{0.1, 0.2, 0.3})

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.HasOpportunity("A", "B") {
		t.Fatal("expected opportunity to survive reload")
	}
	vec, ok := s2.GetEmbedding("A")
	if !ok || len(vec) != 3 {
		t.Fatalf("expected embedding to survive reload, got %+v ok=%v", vec, ok)
	}
}
