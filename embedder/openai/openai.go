// Package openai provides an implementation of core.Embedder using the OpenAI
// Embeddings API. Each Embed call issues a single batched request; transient
// API failures (429, 5xx, network) are marked retryable for the sync engine's
// backoff loop.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/embedder"
)

// Options configure the OpenAI embedder.
type Options struct {
	Model openai.EmbeddingModel

	// Dimension requests reduced-dimension output where the model supports
	// it and fixes the provider's reported dimension. Defaults to 1536
	// (text-embedding-3-small native size).
	Dimension int
}

// Embedder wraps the OpenAI Embeddings API behind the core.Embedder interface.
type Embedder struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI embedder using the official client, which reads
// OPENAI_API_KEY from the environment.
func New(optFns ...func(o *Options)) *Embedder {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI embedder from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Embedder {
	opts := Options{
		Model:     openai.EmbeddingModelTextEmbedding3Small,
		Dimension: 1536,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Embedder{client: client, opts: opts}
}

// Embed implements core.Embedder with one API request per batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      e.opts.Model,
		Dimensions: openai.Int(int64(e.opts.Dimension)),
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", d.Index)
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	return out, nil
}

// EmbedQuery embeds a single query with the retrieval instruction prefix.
func (e *Embedder) EmbedQuery(ctx context.Context, query, instruction string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{embedder.QueryText(instruction, query)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension returns the configured embedding dimension.
func (e *Embedder) Dimension() int { return e.opts.Dimension }

// Name returns the provider identifier.
func (e *Embedder) Name() string { return fmt.Sprintf("openai:%s", e.opts.Model) }

// classify marks rate limits, server errors and transport failures as
// transient so the sync engine retries them with backoff.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return core.Transient(fmt.Errorf("openai api error: %w", err))
		}
		return fmt.Errorf("openai api error: %w", err)
	}
	// No structured API error means the request never got a response.
	return core.Transient(fmt.Errorf("openai request failed: %w", err))
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
