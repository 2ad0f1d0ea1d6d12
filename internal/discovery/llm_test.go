package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"surveillance/pkg/types"
)

func TestStripCodeFences(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range cases {
		if got := stripCodeFences(in); got != want {
			t.Fatalf("stripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEvaluatePairDegradesOnParseFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse{Text: "not json at all"})
	}))
	defer srv.Close()

	client := NewLLMClient(srv.URL, "")
	result := client.EvaluatePair(context.Background(), "will a happen", "will b happen")

	if result.Result != types.RelationUnrelated || result.Confidence != 0 {
		t.Fatalf("expected degraded UNRELATED result, got %+v", result)
	}
}

func TestEvaluatePairParsesFencedJSON(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := `{"isSameEvent": false, "areMutuallyExclusive": false, "relationshipType": "SAME_OUTCOME", "confidenceScore": 0.8, "tradingRationale": "r", "expectedEdge": "e"}`
		_ = json.NewEncoder(w).Encode(completionResponse{Text: "```json\n" + body + "\n```"})
	}))
	defer srv.Close()

	client := NewLLMClient(srv.URL, "")
	result := client.EvaluatePair(context.Background(), "will a happen", "will b happen")

	if result.Result != types.RelationSameOutcome || result.Confidence != 0.8 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestLabelClusterFallsBackToOtherForUnknownLabel(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionResponse{Text: "astrology"})
	}))
	defer srv.Close()

	client := NewLLMClient(srv.URL, "")
	label, err := client.LabelCluster(context.Background(), []string{"will the stars align"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if label != "other" {
		t.Fatalf("expected fallback to 'other', got %q", label)
	}
}
