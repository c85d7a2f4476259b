// Package registry implements the incremental sync engine and the two-stage
// retrieval façade over a vector store and an embedding provider. One generic
// Registry serves every catalog variant (tool schemas, knowledge documents,
// extracted facts); the variants differ only in their embedding-text formatter,
// query instruction and metadata conventions, configured at construction.
//
// Sync is the only writer path: it hash-diffs incoming records against the
// stored state, embeds only what actually changed and upserts hash, payload
// and embedding together. Search is the only read path: ANN recall over an
// enlarged candidate pool, optional reranking, and a vector-order fallback
// when the reranker is unavailable.
package registry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/canon"
	"github.com/hupe1980/recallmesh/logging"
)

// Options configure a Registry.
type Options struct {
	// Formatter derives the embedding text from a raw record. Defaults to
	// the record's Content.
	Formatter core.Formatter

	// QueryInstruction is the retrieval instruction applied to search
	// queries (documents are embedded without one).
	QueryInstruction string

	// Reranker enables the precision stage. Nil disables reranking.
	Reranker core.Reranker

	// RerankFactor multiplies the search limit to size the recall pool for
	// the precision stage. Defaults to 5.
	RerankFactor int

	// MaxAttempts bounds embedding retries per sync batch. Defaults to 3.
	MaxAttempts int

	// BackoffBase and BackoffMax shape the exponential backoff between
	// embedding retries. Defaults: 200ms base, 5s cap.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// DefaultMinConfidence post-filters search results on the
	// metadata confidence field when > 0. Overridable per search.
	DefaultMinConfidence float64

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry is the embedding-backed incremental catalog.
type Registry struct {
	name     string
	store    core.VectorStore
	embedder core.Embedder
	opts     Options

	// test seams
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a registry writing to store and embedding with embedder. The
// name scopes log output only; table namespacing belongs to the store.
func New(name string, store core.VectorStore, embedder core.Embedder, optFns ...func(o *Options)) *Registry {
	opts := Options{
		QueryInstruction: "Given a search query, retrieve relevant passages that answer the query",
		RerankFactor:     5,
		MaxAttempts:      3,
		BackoffBase:      200 * time.Millisecond,
		BackoffMax:       5 * time.Second,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Formatter == nil {
		opts.Formatter = func(r core.RawRecord) string { return r.Content }
	}
	if opts.RerankFactor <= 0 {
		opts.RerankFactor = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Registry{
		name:     name,
		store:    store,
		embedder: embedder,
		opts:     opts,
		clock:    time.Now,
		sleep:    sleepCtx,
	}
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// SyncReport summarizes one sync call. Skipped counts invalid records and
// records dropped because embedding retries exhausted; their previously stored
// state, if any, remains untouched.
type SyncReport struct {
	Updated   int
	Unchanged int
	Skipped   int
}

// Sync catalogs records incrementally. Records whose content hash matches the
// stored one only get their last_seen advanced; new or changed records are
// embedded in one batch and upserted. Embedding failures are retried with
// exponential backoff; if retries exhaust, the batch is skipped (stale data
// stays available) and Sync still returns the report without error. Only a
// provider-unavailable condition or a store failure surfaces as an error.
func (r *Registry) Sync(ctx context.Context, records []core.RawRecord) (SyncReport, error) {
	start := r.clock()
	var report SyncReport

	type pending struct {
		raw  core.RawRecord
		hash string
	}
	items := make([]pending, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, raw := range records {
		if raw.Content == "" {
			report.Skipped++
			invalidErr := &core.InvalidRecordError{ID: raw.ID, Reason: "missing content"}
			r.opts.Logger.Warn("Skipping invalid record", "registry", r.name, "error", invalidErr.Error())
			continue
		}
		if raw.ID == "" {
			raw.ID = uuid.NewString()
		}
		hash, err := canon.Hash(raw.Content, raw.Payload)
		if err != nil {
			report.Skipped++
			r.opts.Logger.Warn("Skipping unhashable record", "registry", r.name, "id", raw.ID, "error", err.Error())
			continue
		}
		items = append(items, pending{raw: raw, hash: hash})
		ids = append(ids, raw.ID)
	}
	if len(items) == 0 {
		return report, nil
	}

	// One batched lookup resolves every stored hash.
	stored, err := r.store.Get(ctx, ids)
	if err != nil {
		return report, err
	}
	storedHashes := make(map[string]string, len(stored))
	for _, rec := range stored {
		storedHashes[rec.ID] = rec.ContentHash
	}

	now := r.clock()
	var changed []pending
	var unchangedIDs []string
	for _, it := range items {
		if prior, ok := storedHashes[it.raw.ID]; ok && prior == it.hash {
			unchangedIDs = append(unchangedIDs, it.raw.ID)
			continue
		}
		changed = append(changed, it)
	}

	if len(unchangedIDs) > 0 {
		if err := r.store.Touch(ctx, unchangedIDs, now); err != nil {
			return report, err
		}
		report.Unchanged = len(unchangedIDs)
	}

	if len(changed) > 0 {
		texts := make([]string, len(changed))
		for i, it := range changed {
			texts[i] = r.opts.Formatter(it.raw)
		}
		vectors, err := r.embedWithRetry(ctx, texts)
		switch {
		case err == nil:
			upserts := make([]core.Record, len(changed))
			for i, it := range changed {
				upserts[i] = core.Record{
					ID:          it.raw.ID,
					ContentHash: it.hash,
					Content:     it.raw.Content,
					Payload:     it.raw.Payload,
					Metadata:    it.raw.Metadata,
					Embedding:   vectors[i],
					LastSeen:    now,
				}
			}
			if err := r.store.Upsert(ctx, upserts); err != nil {
				return report, err
			}
			report.Updated = len(changed)
		case errors.Is(err, core.ErrProviderUnavailable), ctx.Err() != nil:
			return report, err
		default:
			// Retries exhausted: favor availability of stale entries over
			// failing the whole sync.
			report.Skipped += len(changed)
			r.opts.Logger.Error("Embedding batch skipped after exhausting retries", "registry", r.name, "records", len(changed), "error", err.Error())
		}
	}

	if rl, ok := r.opts.Logger.(*logging.RegistryLogger); ok {
		rl.WithRegistry(r.name).LogSyncBatch(report.Updated, report.Unchanged, report.Skipped, r.clock().Sub(start))
	} else {
		r.opts.Logger.Debug("Sync completed", "registry", r.name, "updated", report.Updated, "unchanged", report.Unchanged, "skipped", report.Skipped)
	}
	return report, nil
}

func (r *Registry) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := r.opts.BackoffBase
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		vectors, err := r.embedder.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !core.IsTransient(err) {
			return nil, err
		}
		if attempt == r.opts.MaxAttempts {
			break
		}
		delay := withJitter(backoff)
		r.opts.Logger.Warn("Embedding call failed, retrying",
			"registry", r.name, "attempt", attempt, "backoff", delay.String(), "error", err.Error())
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
		backoff = min(backoff*2, r.opts.BackoffMax)
	}
	return nil, lastErr
}

// Delete removes records by id. Deletion is always caller-driven; sync never
// evicts.
func (r *Registry) Delete(ctx context.Context, ids []string) error {
	return r.store.Delete(ctx, ids)
}

// Get returns stored records by id.
func (r *Registry) Get(ctx context.Context, ids []string) ([]core.Record, error) {
	return r.store.Get(ctx, ids)
}

// Count returns the number of cataloged records.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withJitter spreads retries across [d/2, d) so synchronized callers do not
// hammer a recovering provider in lockstep.
func withJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)))
}
