// Package memory contains a process-local core.VectorStore backed by a map
// and an exact cosine scan. It is the default for tests, examples and small
// registries; production deployments use the sqlite store for persistence and
// ANN search.
//
// Concurrency: protected by RWMutex. Search evaluates the metadata filter
// before ranking so the candidate pool is never trimmed below the limit by
// post-filtering.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/vecmath"
)

// Store is an in-memory VectorStore.
type Store struct {
	mu        sync.RWMutex
	records   map[string]core.Record
	dimension int
}

// New creates an empty store expecting vectors of the given dimension.
func New(dimension int) *Store {
	return &Store{records: make(map[string]core.Record), dimension: dimension}
}

// Upsert implements core.VectorStore.
func (s *Store) Upsert(_ context.Context, records []core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("%w: record %q has %d, store expects %d", core.ErrDimensionMismatch, r.ID, len(r.Embedding), s.dimension)
		}
		s.records[r.ID] = cloneRecord(r)
	}
	return nil
}

// Search implements core.VectorStore via exact cosine scan.
func (s *Store) Search(_ context.Context, query core.SearchQuery) ([]core.ScoredRecord, error) {
	if len(query.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", core.ErrDimensionMismatch, len(query.Vector), s.dimension)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]core.ScoredRecord, 0, query.Limit)
	for _, r := range s.records {
		if !query.Filter.Matches(r.Metadata) {
			continue
		}
		hits = append(hits, core.ScoredRecord{
			Record: cloneRecord(r),
			Score:  vecmath.Cosine(query.Vector, r.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if query.Limit > 0 && len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	return hits, nil
}

// Get implements core.VectorStore.
func (s *Store) Get(_ context.Context, ids []string) ([]core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Record, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

// Delete implements core.VectorStore.
func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

// Touch implements core.VectorStore.
func (s *Store) Touch(_ context.Context, ids []string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			r.LastSeen = seen
			s.records[id] = r
		}
	}
	return nil
}

// Count implements core.VectorStore.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func cloneRecord(r core.Record) core.Record {
	c := r
	c.Payload = cloneMap(r.Payload)
	c.Metadata = cloneMap(r.Metadata)
	c.Embedding = append([]float32(nil), r.Embedding...)
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
