package embedder

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallmesh/resource"
)

// recordingEmbedder captures the batch sizes it was called with and returns a
// distinct vector per text so order preservation can be asserted.
type recordingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
}

func (r *recordingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]string(nil), texts...))
	r.mu.Unlock()
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t))}
	}
	return vecs, nil
}

func (r *recordingEmbedder) EmbedQuery(_ context.Context, query, instruction string) ([]float32, error) {
	return []float32{float32(len(QueryText(instruction, query)))}, nil
}

func (r *recordingEmbedder) Dimension() int { return 1 }
func (r *recordingEmbedder) Name() string   { return "recording" }

func TestQueryText(t *testing.T) {
	assert.Equal(t, "q", QueryText("", "q"))
	assert.Equal(t, "Instruct: find it\nQuery: q", QueryText("find it", "q"))
}

func TestAdaptiveBatcherSplitsUnderPressure(t *testing.T) {
	ctrl := resource.NewController(resource.Config{MaxConcurrentInference: 4, MemoryLimitBytes: 1})
	ctrl.SetPressureFunc(func() float64 { return 0.5 })

	inner := &recordingEmbedder{}
	b := NewAdaptiveBatcher(inner, func(o *AdaptiveBatcherOptions) {
		o.BaseBatchSize = 4
		o.Controller = ctrl
	})

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("%0*d", i+1, 0) // lengths 1..10
	}
	vecs, err := b.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 10)

	// Half pressure halves the base batch size: chunks of 2.
	require.Len(t, inner.batches, 5)
	for _, batch := range inner.batches {
		assert.Len(t, batch, 2)
	}

	// Order preserved across chunks.
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestAdaptiveBatcherNoController(t *testing.T) {
	inner := &recordingEmbedder{}
	b := NewAdaptiveBatcher(inner, func(o *AdaptiveBatcherOptions) { o.BaseBatchSize = 3 })

	_, err := b.Embed(context.Background(), []string{"a", "b", "c", "d"})
	require.NoError(t, err)
	require.Len(t, inner.batches, 2)
	assert.Len(t, inner.batches[0], 3)
	assert.Len(t, inner.batches[1], 1)
}

func TestAdaptiveBatcherEmptyInput(t *testing.T) {
	inner := &recordingEmbedder{}
	b := NewAdaptiveBatcher(inner)

	vecs, err := b.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Empty(t, inner.batches)
}

func TestOffloadPreservesResults(t *testing.T) {
	inner := &recordingEmbedder{}
	o := NewOffload(inner, 2)
	defer o.Close()

	vecs, err := o.Embed(context.Background(), []string{"x", "yy", "zzz"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, float32(2), vecs[1][0])

	qv, err := o.EmbedQuery(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, float32(1), qv[0])
}
