// Package resource tracks memory headroom and inference concurrency so that
// embedding batches shrink under pressure instead of failing. A Controller is
// shared by the providers of one process; registries that should not affect
// each other get their own.
package resource

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits for embedding and reranking workloads.
type Config struct {
	// MemoryLimitBytes is the soft heap budget used to derive pressure.
	// If 0, pressure reads as zero and batch sizes stay at their base.
	MemoryLimitBytes int64

	// MaxConcurrentInference bounds in-flight embed/rerank calls.
	// If 0, defaults to 1.
	MaxConcurrentInference int64

	// InferencePerSec rate-limits inference calls. If 0, unlimited.
	InferencePerSec float64
}

// Controller derives a batch-size scale factor from memory pressure and
// gates inference concurrency.
type Controller struct {
	cfg Config

	infSem  *semaphore.Weighted
	limiter *rate.Limiter

	// pressureFn is replaceable in tests; it returns a value in [0, 1].
	pressureFn atomic.Pointer[func() float64]
}

// NewController creates a controller from cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentInference <= 0 {
		cfg.MaxConcurrentInference = 1
	}
	c := &Controller{
		cfg:    cfg,
		infSem: semaphore.NewWeighted(cfg.MaxConcurrentInference),
	}
	if cfg.InferencePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.InferencePerSec), 1)
	}
	fn := c.heapPressure
	c.pressureFn.Store(&fn)
	return c
}

// SetPressureFunc overrides the memory pressure signal. Intended for tests
// and for hosts with a better headroom source than the Go heap (e.g. VRAM).
func (c *Controller) SetPressureFunc(fn func() float64) {
	if c == nil || fn == nil {
		return
	}
	c.pressureFn.Store(&fn)
}

// Pressure returns the current memory pressure in [0, 1].
func (c *Controller) Pressure() float64 {
	if c == nil {
		return 0
	}
	p := (*c.pressureFn.Load())()
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// BatchSize shrinks base proportionally to the current pressure, never below
// one. At zero pressure the base is returned unchanged.
func (c *Controller) BatchSize(base int) int {
	if c == nil || base <= 1 {
		return max(base, 1)
	}
	scaled := int(float64(base) * (1 - c.Pressure()))
	return max(scaled, 1)
}

// Acquire reserves an inference slot, blocking under load until one frees up
// or ctx ends. Release must be called when the call completes.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.infSem.Acquire(ctx, 1)
}

// Release frees an inference slot.
func (c *Controller) Release() {
	if c == nil {
		return
	}
	c.infSem.Release(1)
}

func (c *Controller) heapPressure() float64 {
	limit := c.cfg.MemoryLimitBytes
	if limit <= 0 {
		return 0
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / float64(limit)
}
