package core

import "context"

// Embedder turns text into fixed-dimension vectors. Implementations must be
// safe for concurrent use; Embed preserves input order.
//
// Embedding is asymmetric: documents are embedded as-is via Embed while
// queries go through EmbedQuery with a retrieval instruction prefix.
type Embedder interface {
	// Embed generates embeddings for a batch of document texts. The result
	// slice is index-aligned with texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a search query, applying the
	// given retrieval instruction. An empty instruction embeds the bare query.
	EmbedQuery(ctx context.Context, query, instruction string) ([]float32, error)

	// Dimension returns the fixed dimensionality of produced vectors.
	Dimension() int

	// Name returns a short identifier for logging ("openai:text-embedding-3-small").
	Name() string
}

// Reranker scores (query, candidate) pairs in the precision stage of
// two-stage retrieval. Scores are index-aligned with documents; higher means
// more relevant. Scores from different Reranker implementations are not
// comparable with each other or with cosine similarities.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)

	// Name returns a short identifier for logging.
	Name() string
}

// HealthChecker is an optional interface for providers that can verify their
// backing service is reachable before batch operations are attempted.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
