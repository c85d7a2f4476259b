package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchSizeShrinksUnderPressure(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 1 << 30})

	tests := []struct {
		name     string
		pressure float64
		base     int
		want     int
	}{
		{name: "no pressure", pressure: 0, base: 64, want: 64},
		{name: "half pressure", pressure: 0.5, base: 64, want: 32},
		{name: "high pressure", pressure: 0.9, base: 64, want: 6},
		{name: "full pressure floors at one", pressure: 1, base: 64, want: 1},
		{name: "over range clamped", pressure: 4, base: 64, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.SetPressureFunc(func() float64 { return tt.pressure })
			assert.Equal(t, tt.want, c.BatchSize(tt.base))
		})
	}
}

func TestNilControllerIsNoOp(t *testing.T) {
	var c *Controller
	assert.Equal(t, 8, c.BatchSize(8))
	assert.NoError(t, c.Acquire(context.Background()))
	c.Release()
}

func TestAcquireBoundsConcurrency(t *testing.T) {
	c := NewController(Config{MaxConcurrentInference: 1})

	require.NoError(t, c.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Acquire(ctx), "second acquire should block until timeout")

	c.Release()
	require.NoError(t, c.Acquire(context.Background()))
	c.Release()
}
