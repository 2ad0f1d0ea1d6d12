package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"surveillance/pkg/types"
)

// clusterTaxonomy is the closed set of labels the LLM cluster-labeling step
// may return. An unrecognized label degrades to "other".
var clusterTaxonomy = map[string]bool{
	"politics":     true,
	"finance":      true,
	"geopolitics":  true,
	"economy":      true,
	"tech":         true,
	"ai":           true,
	"culture":      true,
	"elections":    true,
	"other":        true,
}

// maxRepresentativeQuestions bounds how many cluster questions are sent to
// the LLM for labeling.
const maxRepresentativeQuestions = 5

// LLMClient queries an LLM completion endpoint for cluster labeling and
// pairwise market-relationship evaluation.
type LLMClient struct {
	http *resty.Client
}

// NewLLMClient builds an LLMClient against baseURL.
func NewLLMClient(baseURL, apiKey string) *LLMClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(1)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &LLMClient{http: client}
}

type completionRequest struct {
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

func (c *LLMClient) complete(ctx context.Context, prompt string) (string, error) {
	var result completionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(completionRequest{Prompt: prompt}).
		SetResult(&result).
		Post("/complete")
	if err != nil {
		return "", fmt.Errorf("llm request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("llm request: status %d", resp.StatusCode())
	}
	return result.Text, nil
}

// LabelCluster asks the LLM to classify a cluster's representative
// questions into the closed taxonomy, truncating to the first
// maxRepresentativeQuestions. Any response outside the taxonomy degrades
// to "other".
func (c *LLMClient) LabelCluster(ctx context.Context, questions []string) (string, error) {
	if len(questions) > maxRepresentativeQuestions {
		questions = questions[:maxRepresentativeQuestions]
	}
	prompt := fmt.Sprintf(
		"Classify the following market questions into exactly one of: politics, finance, geopolitics, economy, tech, ai, culture, elections, other.\n\n%s",
		strings.Join(questions, "\n"),
	)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	label := strings.ToLower(strings.TrimSpace(stripCodeFences(text)))
	if !clusterTaxonomy[label] {
		return "other", nil
	}
	return label, nil
}

// pairEvalResponse is the JSON shape the LLM is prompted to return for a
// pair evaluation.
type pairEvalResponse struct {
	IsSameEvent           bool    `json:"isSameEvent"`
	AreMutuallyExclusive  bool    `json:"areMutuallyExclusive"`
	RelationshipType      string  `json:"relationshipType"`
	ConfidenceScore       float64 `json:"confidenceScore"`
	TradingRationale      string  `json:"tradingRationale"`
	ExpectedEdge          string  `json:"expectedEdge"`
}

// EvaluatePair asks the LLM whether two market questions describe related,
// tradeable outcomes. On any parse failure it degrades to an UNRELATED,
// zero-confidence result rather than propagating the error, matching the
// pipeline's "never let one bad pair halt discovery" requirement.
func (c *LLMClient) EvaluatePair(ctx context.Context, q1, q2 string) types.AnalyzedPair {
	prompt := fmt.Sprintf(
		"Two prediction market questions:\n1. %s\n2. %s\n\n"+
			"Respond with JSON only: {\"isSameEvent\": bool, \"areMutuallyExclusive\": bool, "+
			"\"relationshipType\": \"SAME_OUTCOME\"|\"DIFFERENT_OUTCOME\"|\"UNRELATED\"|\"SAME_EVENT_REJECT\", "+
			"\"confidenceScore\": number, \"tradingRationale\": string, \"expectedEdge\": string}",
		q1, q2,
	)
	text, err := c.complete(ctx, prompt)
	if err != nil {
		return unrelatedResult()
	}

	var parsed pairEvalResponse
	if err := json.Unmarshal([]byte(stripCodeFences(text)), &parsed); err != nil {
		return unrelatedResult()
	}

	rel := types.RelationshipType(parsed.RelationshipType)
	switch rel {
	case types.RelationSameOutcome, types.RelationDifferentOutcome, types.RelationUnrelated, types.RelationSameEventReject:
	default:
		rel = types.RelationUnrelated
	}
	if parsed.IsSameEvent {
		rel = types.RelationSameEventReject
	}

	return types.AnalyzedPair{
		Result:           rel,
		Confidence:       parsed.ConfidenceScore,
		TradingRationale: parsed.TradingRationale,
		ExpectedEdge:     parsed.ExpectedEdge,
	}
}

func unrelatedResult() types.AnalyzedPair {
	return types.AnalyzedPair{Result: types.RelationUnrelated, Confidence: 0}
}

// stripCodeFences removes a leading/trailing ``` or ```json fence some LLMs
// wrap JSON responses in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
