// Package httpapi provides a core.Reranker speaking the REST wire shape used
// by hosted cross-encoder services (Jina, Cohere and compatible self-hosted
// rerankers): POST /rerank with {model, query, documents} returning indexed
// relevance scores.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Options configure the HTTP reranker client.
type Options struct {
	// Model is the reranker model name sent to the service.
	Model string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// Reranker calls a remote cross-encoder service.
type Reranker struct {
	endpoint string
	opts     Options
	client   *http.Client
}

// New creates a reranker client for the given /rerank endpoint URL.
func New(endpoint string, optFns ...func(o *Options)) *Reranker {
	opts := Options{Model: "jina-reranker-v2-base-multilingual"}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Reranker{endpoint: strings.TrimRight(endpoint, "/"), opts: opts, client: client}
}

// Rerank implements core.Reranker with a single request per candidate pool.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(rerankRequest{
		Model:     r.opts.Model,
		Query:     query,
		Documents: documents,
		TopN:      len(documents),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.opts.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank service returned status %d: %s", resp.StatusCode, string(data))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	scores := make([]float64, len(documents))
	for _, item := range result.Results {
		if item.Index < 0 || item.Index >= len(scores) {
			return nil, fmt.Errorf("rerank service returned out-of-range index %d", item.Index)
		}
		scores[item.Index] = item.RelevanceScore
	}
	return scores, nil
}

// Name returns the backend identifier.
func (r *Reranker) Name() string { return fmt.Sprintf("httpapi:%s", r.opts.Model) }

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}
