package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/logging"
)

// ScoreSource identifies which stage produced a result's final score.
type ScoreSource string

const (
	// ScoreSourceVector marks scores from the ANN recall stage (cosine
	// similarity).
	ScoreSourceVector ScoreSource = "vector"
	// ScoreSourceRerank marks scores from the precision stage.
	ScoreSourceRerank ScoreSource = "rerank"
)

// Result is one ranked search hit.
type Result struct {
	ID       string
	Content  string
	Payload  map[string]any
	Metadata map[string]any

	// Score is whichever score produced the final ordering; see Source.
	Score  float64
	Source ScoreSource
}

// SearchReport carries the ranked results plus the degraded-mode signal:
// Degraded is true when reranking was requested but failed, leaving the
// results in vector-similarity order.
type SearchReport struct {
	Results  []Result
	Degraded bool
}

// SearchOptions configure one search call.
type SearchOptions struct {
	// Limit caps the returned results. Defaults to 10.
	Limit int

	// Filter restricts candidates by exact metadata match, pushed into the
	// store query.
	Filter core.Filter

	// Rerank toggles the precision stage (ignored when the registry has no
	// reranker). Defaults to true.
	Rerank bool

	// MinConfidence overrides the registry's default confidence post-filter
	// when > 0.
	MinConfidence float64

	// Instruction overrides the registry's query instruction when non-empty.
	Instruction string
}

// Search answers a semantic query in two stages: ANN recall over
// limit × rerank-factor candidates, then reranking down to limit. A reranker
// failure degrades to the store's similarity ordering instead of failing the
// search; the report flags that case.
func (r *Registry) Search(ctx context.Context, query string, optFns ...func(o *SearchOptions)) (SearchReport, error) {
	start := r.clock()
	opts := SearchOptions{
		Limit:         10,
		Rerank:        true,
		MinConfidence: r.opts.DefaultMinConfidence,
		Instruction:   r.opts.QueryInstruction,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	reranking := opts.Rerank && r.opts.Reranker != nil

	vector, err := r.embedQueryWithRetry(ctx, query, opts.Instruction)
	if err != nil {
		return SearchReport{}, err
	}

	candidateLimit := opts.Limit
	if reranking {
		candidateLimit = opts.Limit * r.opts.RerankFactor
	}
	hits, err := r.store.Search(ctx, core.SearchQuery{
		Vector: vector,
		Limit:  candidateLimit,
		Filter: opts.Filter,
	})
	if err != nil {
		return SearchReport{}, err
	}

	report := SearchReport{}
	if reranking && len(hits) > 0 {
		report.Results, report.Degraded = r.rerank(ctx, query, hits, opts.Limit)
	} else {
		report.Results = vectorResults(hits, opts.Limit)
	}

	if opts.MinConfidence > 0 {
		report.Results = filterByConfidence(report.Results, opts.MinConfidence)
	}

	if rl, ok := r.opts.Logger.(*logging.RegistryLogger); ok {
		rl.WithRegistry(r.name).LogSearch(len(report.Results), report.Degraded, r.clock().Sub(start))
	}
	return report, nil
}

func (r *Registry) embedQueryWithRetry(ctx context.Context, query, instruction string) ([]float32, error) {
	backoff := r.opts.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		vector, err := r.embedder.EmbedQuery(ctx, query, instruction)
		if err == nil {
			return vector, nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			return nil, err
		}
		if attempt == r.opts.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, withJitter(backoff)); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, r.opts.BackoffMax)
	}
	return nil, lastErr
}

// rerank scores every (query, candidate) pair and reorders by that score. On
// any reranker failure the vector ordering is kept, trimmed to limit, and the
// degraded flag is raised; search never hard-fails on the precision stage.
func (r *Registry) rerank(ctx context.Context, query string, hits []core.ScoredRecord, limit int) ([]Result, bool) {
	documents := make([]string, len(hits))
	for i, h := range hits {
		documents[i] = h.Content
	}
	scores, err := r.opts.Reranker.Rerank(ctx, query, documents)
	if err != nil || len(scores) != len(hits) {
		if err == nil {
			err = fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(hits))
		}
		r.opts.Logger.Warn("Reranking failed, falling back to vector ordering",
			"registry", r.name, "reranker", r.opts.Reranker.Name(), "error", err.Error())
		return vectorResults(hits, limit), true
	}

	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(h, scores[i], ScoreSourceRerank)
	}
	sortResultsByScore(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, false
}

func vectorResults(hits []core.ScoredRecord, limit int) []Result {
	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = toResult(h, h.Score, ScoreSourceVector)
	}
	return results
}

func toResult(h core.ScoredRecord, score float64, source ScoreSource) Result {
	return Result{
		ID:       h.ID,
		Content:  h.Content,
		Payload:  h.Payload,
		Metadata: h.Metadata,
		Score:    score,
		Source:   source,
	}
}

func sortResultsByScore(results []Result) {
	// Stable so equal scores keep the recall-stage order.
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func filterByConfidence(results []Result, minConfidence float64) []Result {
	out := results[:0]
	for _, res := range results {
		if confidence, ok := metadataConfidence(res.Metadata); ok && confidence >= minConfidence {
			out = append(out, res)
		}
	}
	return out
}

func metadataConfidence(metadata map[string]any) (float64, bool) {
	v, ok := metadata["confidence"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
