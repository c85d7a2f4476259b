package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/recallmesh/core"
)

// WriterOptions configure the async Writer.
type WriterOptions struct {
	// QueueSize bounds the number of pending batches. Enqueue blocks (with
	// backpressure) when the queue is full. Defaults to 64.
	QueueSize int

	// SyncTimeout bounds each background sync call. Defaults to 1 minute.
	SyncTimeout time.Duration
}

// Writer decouples producers from sync latency with a bounded queue drained by
// a single background goroutine. Unlike a fire-and-forget goroutine per batch,
// Close drains everything already enqueued before returning, so shutdown never
// silently drops writes.
type Writer struct {
	registry *Registry
	queue    chan []core.RawRecord
	done     chan struct{}
	closed   atomic.Bool
	mu       sync.RWMutex
}

// NewWriter starts the background drain loop for registry.
func NewWriter(registry *Registry, optFns ...func(o *WriterOptions)) *Writer {
	opts := WriterOptions{QueueSize: 64, SyncTimeout: time.Minute}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	w := &Writer{
		registry: registry,
		queue:    make(chan []core.RawRecord, opts.QueueSize),
		done:     make(chan struct{}),
	}
	go w.loop(opts.SyncTimeout)
	return w
}

func (w *Writer) loop(syncTimeout time.Duration) {
	defer close(w.done)
	for batch := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		if _, err := w.registry.Sync(ctx, batch); err != nil {
			w.registry.opts.Logger.Error("Background sync failed",
				"registry", w.registry.name, "records", len(batch), "error", err.Error())
		}
		cancel()
	}
}

// Enqueue submits a batch for background syncing. It blocks when the queue is
// full until space frees up or ctx ends, and returns core.ErrWriterClosed
// after Close.
func (w *Writer) Enqueue(ctx context.Context, records []core.RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed.Load() {
		return core.ErrWriterClosed
	}
	select {
	case w.queue <- records:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue is the non-blocking variant of Enqueue: when the queue is full it
// returns core.ErrPoolExhausted immediately instead of applying backpressure,
// letting producers shed load rather than stall.
func (w *Writer) TryEnqueue(records []core.RawRecord) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed.Load() {
		return core.ErrWriterClosed
	}
	select {
	case w.queue <- records:
		return nil
	default:
		return core.ErrPoolExhausted
	}
}

// Close stops accepting batches and blocks until every enqueued batch has been
// synced. Idempotent.
func (w *Writer) Close() {
	if !w.closed.CompareAndSwap(false, true) {
		<-w.done
		return
	}
	w.mu.Lock()
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}
