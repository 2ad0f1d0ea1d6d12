package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmbeddingProvider returns a fixed-dimension vector for a piece of text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HTTPEmbeddingClient calls an external embedding endpoint over REST.
type HTTPEmbeddingClient struct {
	http *resty.Client
}

// NewHTTPEmbeddingClient builds an embedding client against baseURL,
// authenticating with apiKey via a bearer token.
func NewHTTPEmbeddingClient(baseURL, apiKey string) *HTTPEmbeddingClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(20 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPEmbeddingClient{http: client}
}

type embeddingRequest struct {
	Input string `json:"input"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed requests a single embedding vector for text.
func (c *HTTPEmbeddingClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var result embeddingResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embeddingRequest{Input: text}).
		SetResult(&result).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("embed request: status %d", resp.StatusCode())
	}
	return result.Embedding, nil
}
