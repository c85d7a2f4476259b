package core

import (
	"context"
	"time"
)

// SearchQuery describes one nearest-neighbor lookup against a VectorStore.
type SearchQuery struct {
	// Vector is the query embedding. Its length must equal the store's
	// configured dimension.
	Vector []float32

	// Limit caps the number of returned hits.
	Limit int

	// Filter optionally restricts candidates by exact metadata match. A nil
	// or empty filter matches every record.
	Filter Filter
}

// VectorStore is a persistent id -> (payload, metadata, embedding) map with
// approximate cosine search. Implementations must be safe for concurrent use
// and must create their backing table/index lazily and idempotently.
//
// The registry sync engine is the only intended writer; consumers bypassing it
// to write embeddings directly would break the hash-diff invariant.
type VectorStore interface {
	// Upsert inserts or replaces records keyed by ID.
	Upsert(ctx context.Context, records []Record) error

	// Search returns up to query.Limit records ordered by cosine similarity
	// descending, honoring the metadata filter.
	Search(ctx context.Context, query SearchQuery) ([]ScoredRecord, error)

	// Get returns the stored records for the given ids. Unknown ids are
	// omitted from the result; order is unspecified.
	Get(ctx context.Context, ids []string) ([]Record, error)

	// Delete removes the given ids. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Touch advances last_seen for the given ids without rewriting payload,
	// hash or embedding.
	Touch(ctx context.Context, ids []string, seen time.Time) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}
