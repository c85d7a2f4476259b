// Package anthropic provides a core.Reranker that judges (query, candidate)
// relevance with a small Claude model. It trades latency for precision and is
// meant for modest candidate pools (limit × rerank factor); the retrieval
// façade already degrades to vector ordering when this backend errors.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/recallmesh/reranker"
)

// Options configure the Claude reranker.
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
}

// Reranker scores candidates by prompting a Claude model for per-document
// relevance judgments.
type Reranker struct {
	client *anthropic.Client
	opts   Options
}

// New creates a new Claude reranker using the official client, which reads
// ANTHROPIC_API_KEY from the environment.
func New(optFns ...func(o *Options)) *Reranker {
	client := anthropic.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new Claude reranker from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Reranker {
	opts := Options{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reranker{client: client, opts: opts}
}

// Rerank implements core.Reranker.
func (r *Reranker) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	prompt := reranker.BuildJudgePrompt(query, documents)
	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.opts.Model,
		MaxTokens: r.opts.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	return reranker.ParseJudgeScores(text, len(documents))
}

// Name returns the backend identifier.
func (r *Reranker) Name() string { return fmt.Sprintf("anthropic:%s", r.opts.Model) }
