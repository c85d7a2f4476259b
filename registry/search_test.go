package registry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/vectorstore/memory"
)

// seedCorpus syncs three records whose similarity to the query vector {1,0,0}
// is strictly ordered alpha > beta > gamma.
func seedCorpus(t *testing.T, reg *Registry, emb *stubEmbedder) {
	t.Helper()
	emb.vectors["alpha"] = []float32{1, 0, 0}
	emb.vectors["beta"] = []float32{0.8, 0.6, 0}
	emb.vectors["gamma"] = []float32{0.6, 0.8, 0}
	emb.vectors["query"] = []float32{1, 0, 0}

	_, err := reg.Sync(context.Background(), []core.RawRecord{
		{ID: "a", Content: "alpha", Metadata: map[string]any{"domain": "finance"}},
		{ID: "b", Content: "beta", Metadata: map[string]any{"domain": "coding"}},
		{ID: "c", Content: "gamma", Metadata: map[string]any{"domain": "finance"}},
	})
	require.NoError(t, err)
}

func resultIDs(results []Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestSearchVectorOrder(t *testing.T) {
	reg, emb, _ := newRegistry(t)
	seedCorpus(t, reg, emb)

	report, err := reg.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.False(t, report.Degraded)
	assert.Equal(t, []string{"a", "b", "c"}, resultIDs(report.Results))
	for _, res := range report.Results {
		assert.Equal(t, ScoreSourceVector, res.Source)
	}
	assert.Greater(t, report.Results[0].Score, report.Results[1].Score)
}

func TestSearchRerankOverridesVectorOrder(t *testing.T) {
	rr := &stubReranker{scores: map[string]float64{
		"alpha": 0.1,
		"beta":  0.5,
		"gamma": 0.9,
	}}
	reg, emb, _ := newRegistry(t, func(o *Options) { o.Reranker = rr })
	seedCorpus(t, reg, emb)

	report, err := reg.Search(context.Background(), "query", func(o *SearchOptions) { o.Limit = 2 })
	require.NoError(t, err)
	assert.False(t, report.Degraded)
	// Reranker order, not vector-similarity order.
	assert.Equal(t, []string{"c", "b"}, resultIDs(report.Results))
	for _, res := range report.Results {
		assert.Equal(t, ScoreSourceRerank, res.Source)
	}
	assert.Equal(t, 1, rr.calls)
}

func TestSearchRerankFailureDegradesToVectorOrder(t *testing.T) {
	rr := &stubReranker{err: errors.New("judge unavailable")}
	reg, emb, _ := newRegistry(t, func(o *Options) { o.Reranker = rr })
	seedCorpus(t, reg, emb)

	report, err := reg.Search(context.Background(), "query", func(o *SearchOptions) { o.Limit = 2 })
	require.NoError(t, err, "reranker failure must not fail the search")
	assert.True(t, report.Degraded)
	assert.Equal(t, []string{"a", "b"}, resultIDs(report.Results))
	for _, res := range report.Results {
		assert.Equal(t, ScoreSourceVector, res.Source)
	}
}

func TestSearchCandidatePoolSizing(t *testing.T) {
	rr := &stubReranker{scores: map[string]float64{}}
	emb := newStubEmbedder()
	spy := &spyStore{VectorStore: memory.New(3)}
	reg := New("test", spy, emb, func(o *Options) { o.Reranker = rr })

	_, err := reg.Search(context.Background(), "query", func(o *SearchOptions) { o.Limit = 4 })
	require.NoError(t, err)
	require.Len(t, spy.searches, 1)
	// Recall stage over-fetches by the rerank factor.
	assert.Equal(t, 4*reg.opts.RerankFactor, spy.searches[0].Limit)

	_, err = reg.Search(context.Background(), "query", func(o *SearchOptions) {
		o.Limit = 4
		o.Rerank = false
	})
	require.NoError(t, err)
	require.Len(t, spy.searches, 2)
	assert.Equal(t, 4, spy.searches[1].Limit)
}

func TestSearchMetadataFilter(t *testing.T) {
	reg, emb, _ := newRegistry(t)
	seedCorpus(t, reg, emb)

	report, err := reg.Search(context.Background(), "query", func(o *SearchOptions) {
		o.Filter = core.Filter{"domain": "finance"}
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, resultIDs(report.Results))
}

func TestSearchConfidencePostFilter(t *testing.T) {
	reg, emb, _ := newRegistry(t, func(o *Options) { o.DefaultMinConfidence = 0.5 })
	emb.vectors["query"] = []float32{1, 0, 0}

	_, err := reg.Sync(context.Background(), []core.RawRecord{
		{ID: "high", Content: "trusted fact", Metadata: map[string]any{"confidence": 0.9}},
		{ID: "low", Content: "shaky fact", Metadata: map[string]any{"confidence": 0.2}},
		{ID: "none", Content: "unscored fact"},
	})
	require.NoError(t, err)

	report, err := reg.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []string{"high"}, resultIDs(report.Results))

	// Per-call override relaxes the default.
	report, err = reg.Search(context.Background(), "query", func(o *SearchOptions) { o.MinConfidence = 0.1 })
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"high", "low"}, resultIDs(report.Results))
}

func TestSearchEmptyStore(t *testing.T) {
	rr := &stubReranker{scores: map[string]float64{}}
	reg, _, _ := newRegistry(t, func(o *Options) { o.Reranker = rr })

	report, err := reg.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.False(t, report.Degraded)
	assert.Zero(t, rr.calls, "no candidates, no rerank call")
}

func TestSearchQueryEmbedRetries(t *testing.T) {
	reg, emb, _ := newRegistry(t)
	seedCorpus(t, reg, emb)
	emb.failures = []error{core.Transient(errors.New("model loading"))}

	report, err := reg.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, report.Results, 3)
	assert.Equal(t, []string{"query", "query"}, emb.queries)
}

func TestSearchQueryEmbedExhaustedFails(t *testing.T) {
	reg, emb, _ := newRegistry(t)
	emb.failures = []error{
		core.Transient(errors.New("down")),
		core.Transient(errors.New("down")),
		core.Transient(errors.New("down")),
	}

	_, err := reg.Search(context.Background(), "query")
	require.Error(t, err)
}

func TestSearchResultLimit(t *testing.T) {
	reg, _, _ := newRegistry(t)
	batch := make([]core.RawRecord, 25)
	for i := range batch {
		batch[i] = core.RawRecord{ID: fmt.Sprintf("r%02d", i), Content: fmt.Sprintf("doc %d", i)}
	}
	_, err := reg.Sync(context.Background(), batch)
	require.NoError(t, err)

	report, err := reg.Search(context.Background(), "query")
	require.NoError(t, err)
	assert.Len(t, report.Results, 10)
}
