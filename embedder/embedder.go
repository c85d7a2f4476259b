// Package embedder contains the embedding provider building blocks shared by
// the concrete backends (see the openai and ollama subpackages): the adaptive
// batcher that shrinks batch sizes under memory pressure, the worker offload
// wrapper that keeps inference off caller goroutines, and the asymmetric
// query-prefix convention.
package embedder

import (
	"context"
	"fmt"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/pool"
	"github.com/hupe1980/recallmesh/resource"
)

// DefaultQueryInstruction is the retrieval instruction applied to queries when
// the registry does not configure its own. Documents are embedded without any
// instruction.
const DefaultQueryInstruction = "Given a search query, retrieve relevant passages that answer the query"

// QueryText renders the instruction-prefixed form of a query. The layout
// follows the instruction-tuned embedding model convention; an empty
// instruction returns the bare query.
func QueryText(instruction, query string) string {
	if instruction == "" {
		return query
	}
	return fmt.Sprintf("Instruct: %s\nQuery: %s", instruction, query)
}

// AdaptiveBatcherOptions configure the adaptive batcher.
type AdaptiveBatcherOptions struct {
	// BaseBatchSize is the chunk size at zero pressure. Defaults to 32.
	BaseBatchSize int

	// Controller supplies the pressure signal and inference gating. If nil,
	// chunks are fixed at BaseBatchSize and calls are not gated.
	Controller *resource.Controller
}

// AdaptiveBatcher wraps an Embedder and splits Embed calls into chunks whose
// size is recomputed from the resource controller before every chunk. Under
// memory pressure batches shrink proportionally, trading throughput for
// stability instead of failing.
type AdaptiveBatcher struct {
	inner core.Embedder
	opts  AdaptiveBatcherOptions
}

// NewAdaptiveBatcher wraps inner with resource-aware batch splitting.
func NewAdaptiveBatcher(inner core.Embedder, optFns ...func(o *AdaptiveBatcherOptions)) *AdaptiveBatcher {
	opts := AdaptiveBatcherOptions{BaseBatchSize: 32}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BaseBatchSize <= 0 {
		opts.BaseBatchSize = 32
	}
	return &AdaptiveBatcher{inner: inner, opts: opts}
}

// Embed splits texts into pressure-sized chunks and concatenates the results
// in input order.
func (b *AdaptiveBatcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); {
		size := b.opts.Controller.BatchSize(b.opts.BaseBatchSize)
		end := min(start+size, len(texts))

		if err := b.opts.Controller.Acquire(ctx); err != nil {
			return nil, err
		}
		vecs, err := b.inner.Embed(ctx, texts[start:end])
		b.opts.Controller.Release()
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", b.inner.Name(), len(vecs), end-start)
		}
		out = append(out, vecs...)
		start = end
	}
	return out, nil
}

// EmbedQuery delegates to the wrapped provider under inference gating.
func (b *AdaptiveBatcher) EmbedQuery(ctx context.Context, query, instruction string) ([]float32, error) {
	if err := b.opts.Controller.Acquire(ctx); err != nil {
		return nil, err
	}
	defer b.opts.Controller.Release()
	return b.inner.EmbedQuery(ctx, query, instruction)
}

// Dimension returns the wrapped provider's dimension.
func (b *AdaptiveBatcher) Dimension() int { return b.inner.Dimension() }

// Name returns the wrapped provider's name.
func (b *AdaptiveBatcher) Name() string { return b.inner.Name() }

// Offload runs a provider's inference on a dedicated worker pool so callers
// merely suspend while CPU-bound embedding computes elsewhere. Close drains
// in-flight work; the wrapped provider is not closed.
type Offload struct {
	inner   core.Embedder
	workers *pool.Pool
}

// NewOffload wraps inner with a pool of the given size (GOMAXPROCS if <= 0).
func NewOffload(inner core.Embedder, workers int) *Offload {
	return &Offload{inner: inner, workers: pool.New(workers)}
}

// Embed implements core.Embedder on a pool worker.
func (o *Offload) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var (
		vecs [][]float32
		err  error
	)
	if runErr := o.workers.Run(ctx, func() {
		vecs, err = o.inner.Embed(ctx, texts)
	}); runErr != nil {
		return nil, runErr
	}
	return vecs, err
}

// EmbedQuery implements core.Embedder on a pool worker.
func (o *Offload) EmbedQuery(ctx context.Context, query, instruction string) ([]float32, error) {
	var (
		vec []float32
		err error
	)
	if runErr := o.workers.Run(ctx, func() {
		vec, err = o.inner.EmbedQuery(ctx, query, instruction)
	}); runErr != nil {
		return nil, runErr
	}
	return vec, err
}

// Dimension returns the wrapped provider's dimension.
func (o *Offload) Dimension() int { return o.inner.Dimension() }

// Name returns the wrapped provider's name.
func (o *Offload) Name() string { return o.inner.Name() }

// Close shuts down the worker pool after draining submitted work.
func (o *Offload) Close() { o.workers.Close() }
