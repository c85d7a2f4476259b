// Package ollama provides an implementation of core.Embedder backed by a
// locally resident model served by Ollama. The model is acquired lazily on
// first use under a mutex (double-checked) so concurrent first callers trigger
// exactly one warm-up; while the server is still loading the model, calls fail
// transiently and the sync engine's backoff absorbs the race.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/embedder"
)

// Options configure the Ollama embedder.
type Options struct {
	// Endpoint is the Ollama server base URL. Defaults to http://localhost:11434.
	Endpoint string

	// Model is the embedding model name. Defaults to embeddinggemma.
	Model string

	// HTTPClient overrides the default client (30s timeout).
	HTTPClient *http.Client
}

// Embedder generates embeddings through a local Ollama server.
type Embedder struct {
	endpoint string
	model    string
	client   *http.Client

	mu      sync.Mutex
	loaded  atomic.Bool
	loadErr error // sticky, set when the model cannot be loaded at all
	dim     int
}

// New creates a new Ollama embedder. No network traffic happens until the
// first embedding call.
func New(optFns ...func(o *Options)) *Embedder {
	opts := Options{
		Endpoint: "http://localhost:11434",
		Model:    "embeddinggemma",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Embedder{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		model:    opts.Model,
		client:   client,
	}
}

// ensureLoaded performs the lazy, thread-safe model acquisition. The fast path
// is a lock-free atomic read; first callers block on the mutex while one of
// them warms the model up with a probe embedding.
func (e *Embedder) ensureLoaded(ctx context.Context) error {
	if e.loaded.Load() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded.Load() {
		return nil
	}
	if e.loadErr != nil {
		return e.loadErr
	}

	vec, err := e.embedOne(ctx, "warmup")
	if err != nil {
		if !core.IsTransient(err) {
			// Model missing or resource exhaustion: fatal for this instance.
			e.loadErr = fmt.Errorf("%w: %v", core.ErrProviderUnavailable, err)
			return e.loadErr
		}
		return err
	}
	e.dim = len(vec)
	e.loaded.Store(true)
	return nil
}

// Embed implements core.Embedder. Ollama has no batch endpoint, so texts are
// embedded sequentially within the batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// EmbedQuery embeds a single query with the retrieval instruction prefix.
func (e *Embedder) EmbedQuery(ctx context.Context, query, instruction string) ([]float32, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return e.embedOne(ctx, embedder.QueryText(instruction, query))
}

// Dimension returns the model's embedding dimension, learned from the warm-up
// probe. Zero until the model has been acquired.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Name returns the provider identifier.
func (e *Embedder) Name() string { return fmt.Sprintf("ollama:%s", e.model) }

// HealthCheck implements core.HealthChecker by probing the server's tag list.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *Embedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, core.Transient(fmt.Errorf("ollama request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(data))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			// Server errors include the model-still-loading window at startup.
			return nil, core.Transient(err)
		}
		return nil, err
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding for model %s", e.model)
	}
	return result.Embedding, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}
