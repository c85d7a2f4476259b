// Package pool provides a fixed worker pool used to keep CPU-bound inference
// off the goroutines that service Sync and Search calls. Tasks are closures;
// Close drains everything already submitted before returning.
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool runs submitted closures on a fixed set of goroutines.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	closed atomic.Bool
	mu     sync.RWMutex
}

// New creates a pool with the given number of workers. A non-positive count
// defaults to GOMAXPROCS.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{tasks: make(chan func(), workers*2)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task, blocking for backpressure when all workers are busy
// and the buffer is full. It returns ErrClosed after Close and the context
// error if ctx ends first.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes fn on a pool worker and blocks until it returns, yielding the
// caller's goroutine for the duration.
func (p *Pool) Run(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := p.Submit(ctx, func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The task keeps running on the worker; the caller stops waiting.
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for submitted ones to finish.
// Idempotent.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
