package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), "tools", 3)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id string, vec []float32, metadata map[string]any) core.Record {
	return core.Record{
		ID:          id,
		ContentHash: "hash-" + id,
		Content:     "content " + id,
		Payload:     map[string]any{"name": id},
		Metadata:    metadata,
		Embedding:   vec,
		LastSeen:    time.Unix(1000, 0).UTC(),
	}
}

func TestInvalidStoreName(t *testing.T) {
	_, err := New(":memory:", "bad name; drop table", 3)
	assert.Error(t, err)
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []core.Record{
		record("a", []float32{1, 0, 0}, map[string]any{"domain": "finance"}),
	}))

	got, err := s.Get(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hash-a", got[0].ContentHash)
	assert.Equal(t, "a", got[0].Payload["name"])
	assert.Equal(t, "finance", got[0].Metadata["domain"])
	assert.Equal(t, []float32{1, 0, 0}, got[0].Embedding)
	assert.Equal(t, time.Unix(1000, 0).UTC(), got[0].LastSeen)
}

func TestUpsertIsIdempotentPerID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []core.Record{record("a", []float32{1, 0, 0}, nil)}))
	updated := record("a", []float32{0, 1, 0}, nil)
	updated.ContentHash = "hash-a2"
	require.NoError(t, s.Upsert(ctx, []core.Record{updated}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hash-a2", got[0].ContentHash)
	assert.Equal(t, []float32{0, 1, 0}, got[0].Embedding)
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []core.Record{
		record("east", []float32{1, 0, 0}, nil),
		record("north", []float32{0, 1, 0}, nil),
		record("up", []float32{0, 0, 1}, nil),
	}))

	hits, err := s.Search(ctx, core.SearchQuery{Vector: []float32{1, 0.2, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].ID)
	assert.Equal(t, "north", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchFilterPushdown(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []core.Record{
		record("c1", []float32{1, 0, 0}, map[string]any{"domain": "coding"}),
		record("f1", []float32{0.9, 0.1, 0}, map[string]any{"domain": "finance"}),
		record("f2", []float32{0, 1, 0}, map[string]any{"domain": "finance"}),
	}))

	// c1 has the highest raw similarity but must never appear.
	hits, err := s.Search(ctx, core.SearchQuery{
		Vector: []float32{1, 0, 0},
		Limit:  10,
		Filter: core.Filter{"domain": "finance"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "f1", hits[0].ID)
	assert.Equal(t, "f2", hits[1].ID)
}

func TestSearchPathsAgreeOnCosine(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Unnormalized vectors where L2 and cosine disagree: "far" points the
	// same direction as the query but with a large magnitude, so Euclidean
	// ranking would put "near" first.
	require.NoError(t, s.Upsert(ctx, []core.Record{
		record("far", []float32{10, 0, 0}, map[string]any{"domain": "x"}),
		record("near", []float32{0.9, 0.1, 0}, map[string]any{"domain": "x"}),
	}))

	query := []float32{1, 0, 0}
	unfiltered, err := s.Search(ctx, core.SearchQuery{Vector: query, Limit: 2})
	require.NoError(t, err)
	filtered, err := s.Search(ctx, core.SearchQuery{
		Vector: query,
		Limit:  2,
		Filter: core.Filter{"domain": "x"},
	})
	require.NoError(t, err)

	require.Len(t, unfiltered, 2)
	require.Len(t, filtered, 2)
	for i := range unfiltered {
		assert.Equal(t, filtered[i].ID, unfiltered[i].ID)
		assert.InDelta(t, filtered[i].Score, unfiltered[i].Score, 1e-4)
	}
	assert.Equal(t, "far", unfiltered[0].ID)
	assert.InDelta(t, 1.0, unfiltered[0].Score, 1e-4)
	for _, h := range unfiltered {
		assert.GreaterOrEqual(t, h.Score, -1.0)
		assert.LessOrEqual(t, h.Score, 1.0+1e-6)
	}
}

func TestTouchAdvancesLastSeenOnly(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []core.Record{record("a", []float32{1, 0, 0}, nil)}))
	seen := time.Unix(2000, 0).UTC()
	require.NoError(t, s.Touch(ctx, []string{"a"}, seen))

	got, err := s.Get(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, seen, got[0].LastSeen)
	assert.Equal(t, "hash-a", got[0].ContentHash)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, []core.Record{
		record("a", []float32{1, 0, 0}, nil),
		record("b", []float32{0, 1, 0}, nil),
	}))
	require.NoError(t, s.Delete(ctx, []string{"a"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := s.Search(ctx, core.SearchQuery{Vector: []float32{1, 0, 0}, Limit: 10})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "a", h.ID)
	}
}

func TestDimensionMismatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.Upsert(ctx, []core.Record{record("a", []float32{1, 0}, nil)})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)

	_, err = s.Search(ctx, core.SearchQuery{Vector: []float32{1}, Limit: 1})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestNamespacesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	tools, err := New(path, "tools", 3)
	require.NoError(t, err)
	defer tools.Close()
	facts, err := New(path, "facts", 3)
	require.NoError(t, err)
	defer facts.Close()

	ctx := context.Background()
	require.NoError(t, tools.Upsert(ctx, []core.Record{record("t", []float32{1, 0, 0}, nil)}))

	n, err := facts.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
