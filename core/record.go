package core

import "time"

// RawRecord is the unit submitted to a registry for indexing. Producers supply
// at minimum an ID and the Content used to build the content hash and the
// embedding text; Payload carries additional structured fields that are opaque
// to the engine and passed through to search results.
type RawRecord struct {
	// ID uniquely identifies the record within its registry. If empty, the
	// sync engine assigns a generated one (which forfeits hash-diffing across
	// sync calls, so stable producer-assigned ids are strongly preferred).
	ID string

	// Content is the primary text of the record.
	Content string

	// Payload holds arbitrary structured fields returned to callers verbatim.
	Payload map[string]any

	// Metadata holds flat tags used for equality filtering at search time
	// (domain, category, confidence, ...).
	Metadata map[string]any
}

// Record is the persisted unit of the vector store.
type Record struct {
	ID          string
	ContentHash string
	Content     string
	Payload     map[string]any
	Metadata    map[string]any
	Embedding   []float32
	LastSeen    time.Time
}

// ScoredRecord is a store search hit. Score is cosine similarity, higher is
// more similar.
type ScoredRecord struct {
	Record
	Score float64
}

// Formatter derives the embedding text for a record. Each registry configures
// its own formatting rule (e.g. "Tool: X. Description: Y.").
type Formatter func(r RawRecord) string
