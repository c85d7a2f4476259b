// Package sqlite contains a persistent core.VectorStore on SQLite with the
// sqlite-vec extension. Each store instance owns one namespaced table pair
// (records + vec0 ANN shadow table) so independent registries can share a
// database file without sharing state, each with its own bounded connection
// pool.
//
// Search strategy, best first:
//  1. vec0 KNN (MATCH query) when the ANN table built and no metadata filter
//     is supplied.
//  2. vec_distance_cosine over the records table with the filter pushed down
//     as json_extract conjuncts. Exact scan, but filter-correct recall.
//  3. Pure Go cosine over the filtered rows when the extension is missing.
//
// The vec0 table creation is allowed to fail (missing extension, fresh store);
// the failure is logged and the store serves exact scans instead.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/recallmesh/core"
	"github.com/hupe1980/recallmesh/internal/vecmath"
	"github.com/hupe1980/recallmesh/logging"
)

// identifier whitelists table-name fragments; everything else in the SQL text
// is parameterized.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const idChunkSize = 500

// Options configure the sqlite store.
type Options struct {
	// MaxOpenConns bounds the connection pool per store instance. Defaults
	// to 4.
	MaxOpenConns int

	// Logger receives index-init warnings and degrade notices. Defaults to
	// NoOpLogger.
	Logger logging.Logger
}

// Store is a sqlite-backed VectorStore.
type Store struct {
	db        *sql.DB
	name      string
	records   string // records table identifier
	vec       string // vec0 shadow table identifier
	dimension int

	annReady     bool
	vecAvailable bool

	logger logging.Logger
}

// New opens (or creates) the store named name inside the database at path.
// The backing tables are created lazily and idempotently; pass ":memory:" for
// an ephemeral store.
func New(path, name string, dimension int, optFns ...func(o *Options)) (*Store, error) {
	if !identifier.MatchString(name) {
		return nil, fmt.Errorf("invalid store name %q", name)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dimension)
	}
	opts := Options{MaxOpenConns: 4, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxOpenConns)

	s := &Store{
		db:        db,
		name:      name,
		records:   name + "_records",
		vec:       name + "_vec",
		dimension: dimension,
		logger:    opts.Logger,
	}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		content TEXT NOT NULL,
		payload TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB,
		last_seen TEXT NOT NULL
	)`, s.records)
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create records table: %w", err)
	}

	// Secondary indexes over commonly filtered metadata fields.
	for _, field := range []string{"domain", "category"} {
		idx := fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s (json_extract(metadata, '$.%s'))`,
			s.records, field, s.records, field,
		)
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create metadata index: %w", err)
		}
	}

	if _, err := s.db.Exec("SELECT vec_version()"); err != nil {
		s.logger.Warn("sqlite-vec extension not available, serving exact scans", "store", s.name, "error", err.Error())
		return nil
	}
	s.vecAvailable = true

	// distance_metric=cosine keeps KNN MATCH distances on the same scale as
	// vec_distance_cosine in the filtered path; vec0 defaults to L2 otherwise.
	annSchema := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d] distance_metric=cosine, record_id TEXT)`,
		s.vec, s.dimension,
	)
	if _, err := s.db.Exec(annSchema); err != nil {
		// Tolerated: reads and writes proceed via exact scan until the
		// index can be built.
		s.logger.Warn("ANN index creation failed, serving exact scans", "store", s.name, "error", err.Error())
		return nil
	}
	s.annReady = true
	return nil
}

// Upsert implements core.VectorStore inside one transaction: a record reported
// as written is committed with hash, payload and embedding together.
func (s *Store) Upsert(ctx context.Context, records []core.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("%w: record %q has %d, store expects %d", core.ErrDimensionMismatch, r.ID, len(r.Embedding), s.dimension)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(id, content_hash, content, payload, metadata, embedding, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash = excluded.content_hash,
			content = excluded.content,
			payload = excluded.payload,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			last_seen = excluded.last_seen`, s.records))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	var delVec, insVec *sql.Stmt
	if s.annReady {
		if delVec, err = tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE record_id = ?`, s.vec)); err != nil {
			return fmt.Errorf("prepare vec delete: %w", err)
		}
		defer delVec.Close()
		if insVec, err = tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (embedding, record_id) VALUES (?, ?)`, s.vec)); err != nil {
			return fmt.Errorf("prepare vec insert: %w", err)
		}
		defer insVec.Close()
	}

	for _, r := range records {
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %q: %w", r.ID, err)
		}
		metadata, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %q: %w", r.ID, err)
		}
		blob := vecmath.EncodeBlob(r.Embedding)
		if _, err := upsert.ExecContext(ctx, r.ID, r.ContentHash, r.Content, string(payload), string(metadata), blob, r.LastSeen.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("upsert %q: %w", r.ID, err)
		}
		if s.annReady {
			if _, err := delVec.ExecContext(ctx, r.ID); err != nil {
				return fmt.Errorf("refresh ANN entry for %q: %w", r.ID, err)
			}
			if _, err := insVec.ExecContext(ctx, blob, r.ID); err != nil {
				return fmt.Errorf("index ANN entry for %q: %w", r.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Search implements core.VectorStore.
func (s *Store) Search(ctx context.Context, query core.SearchQuery) ([]core.ScoredRecord, error) {
	if len(query.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store expects %d", core.ErrDimensionMismatch, len(query.Vector), s.dimension)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	switch {
	case s.annReady && len(query.Filter) == 0:
		return s.searchANN(ctx, query.Vector, limit)
	case s.vecAvailable:
		return s.searchScanSQL(ctx, query.Vector, limit, query.Filter)
	default:
		return s.searchScanGo(ctx, query.Vector, limit, query.Filter)
	}
}

// searchANN runs a KNN MATCH query against the vec0 table.
func (s *Store) searchANN(ctx context.Context, vector []float32, limit int) ([]core.ScoredRecord, error) {
	q := fmt.Sprintf(`SELECT v.record_id, v.distance,
			r.content_hash, r.content, r.payload, r.metadata, r.last_seen
		FROM %s v JOIN %s r ON r.id = v.record_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`, s.vec, s.records)
	rows, err := s.db.QueryContext(ctx, q, vecmath.EncodeBlob(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("ann search: %w", err)
	}
	defer rows.Close()

	var hits []core.ScoredRecord
	for rows.Next() {
		var (
			rec      core.Record
			distance float64
			payload  sql.NullString
			metadata string
			lastSeen string
		)
		if err := rows.Scan(&rec.ID, &distance, &rec.ContentHash, &rec.Content, &payload, &metadata, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan ann hit: %w", err)
		}
		if err := fillRecord(&rec, payload, metadata, lastSeen); err != nil {
			return nil, err
		}
		// The vec0 table is declared with distance_metric=cosine, so the
		// reported distance is cosine distance; similarity is its complement.
		hits = append(hits, core.ScoredRecord{Record: rec, Score: 1 - distance})
	}
	return hits, rows.Err()
}

// searchScanSQL scores inside SQLite with vec_distance_cosine, pushing the
// metadata filter down as json_extract conjuncts.
func (s *Store) searchScanSQL(ctx context.Context, vector []float32, limit int, filter core.Filter) ([]core.ScoredRecord, error) {
	where, args := filterClauses(filter)
	q := fmt.Sprintf(`SELECT id, content_hash, content, payload, metadata, last_seen,
			vec_distance_cosine(embedding, ?) AS distance
		FROM %s
		WHERE embedding IS NOT NULL%s
		ORDER BY distance ASC
		LIMIT ?`, s.records, where)
	queryArgs := append([]any{vecmath.EncodeBlob(vector)}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := s.db.QueryContext(ctx, q, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("scan search: %w", err)
	}
	defer rows.Close()

	var hits []core.ScoredRecord
	for rows.Next() {
		var (
			rec      core.Record
			payload  sql.NullString
			metadata string
			lastSeen string
			distance float64
		)
		if err := rows.Scan(&rec.ID, &rec.ContentHash, &rec.Content, &payload, &metadata, &lastSeen, &distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if err := fillRecord(&rec, payload, metadata, lastSeen); err != nil {
			return nil, err
		}
		hits = append(hits, core.ScoredRecord{Record: rec, Score: 1 - distance})
	}
	return hits, rows.Err()
}

// searchScanGo is the last-resort exact scan when the vec extension is absent:
// the filter still runs in SQL, ranking happens in Go.
func (s *Store) searchScanGo(ctx context.Context, vector []float32, limit int, filter core.Filter) ([]core.ScoredRecord, error) {
	where, args := filterClauses(filter)
	q := fmt.Sprintf(`SELECT id, content_hash, content, payload, metadata, embedding, last_seen
		FROM %s WHERE embedding IS NOT NULL%s`, s.records, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("fallback search: %w", err)
	}
	defer rows.Close()

	var hits []core.ScoredRecord
	for rows.Next() {
		var (
			rec      core.Record
			payload  sql.NullString
			metadata string
			blob     []byte
			lastSeen string
		)
		if err := rows.Scan(&rec.ID, &rec.ContentHash, &rec.Content, &payload, &metadata, &blob, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan fallback hit: %w", err)
		}
		if err := fillRecord(&rec, payload, metadata, lastSeen); err != nil {
			return nil, err
		}
		if rec.Embedding, err = vecmath.DecodeBlob(blob); err != nil {
			return nil, fmt.Errorf("decode embedding for %q: %w", rec.ID, err)
		}
		hits = append(hits, core.ScoredRecord{Record: rec, Score: vecmath.Cosine(vector, rec.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// filterClauses renders the metadata filter as parameterized json_extract
// conjuncts. Keys travel as JSON path parameters, never as SQL text.
func filterClauses(filter core.Filter) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	args := make([]any, 0, len(filter)*2)
	for _, k := range keys {
		b.WriteString(" AND json_extract(metadata, ?) = ?")
		args = append(args, "$."+k, filter[k])
	}
	return b.String(), args
}

// Get implements core.VectorStore with chunked IN lookups.
func (s *Store) Get(ctx context.Context, ids []string) ([]core.Record, error) {
	out := make([]core.Record, 0, len(ids))
	for start := 0; start < len(ids); start += idChunkSize {
		chunk := ids[start:min(start+idChunkSize, len(ids))]
		q := fmt.Sprintf(`SELECT id, content_hash, content, payload, metadata, embedding, last_seen
			FROM %s WHERE id IN (%s)`, s.records, placeholders(len(chunk)))

		rows, err := s.db.QueryContext(ctx, q, toAny(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("get records: %w", err)
		}
		for rows.Next() {
			var (
				rec      core.Record
				payload  sql.NullString
				metadata string
				blob     []byte
				lastSeen string
			)
			if err := rows.Scan(&rec.ID, &rec.ContentHash, &rec.Content, &payload, &metadata, &blob, &lastSeen); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan record: %w", err)
			}
			if err := fillRecord(&rec, payload, metadata, lastSeen); err != nil {
				rows.Close()
				return nil, err
			}
			if len(blob) > 0 {
				if rec.Embedding, err = vecmath.DecodeBlob(blob); err != nil {
					rows.Close()
					return nil, fmt.Errorf("decode embedding for %q: %w", rec.ID, err)
				}
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// Delete implements core.VectorStore.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += idChunkSize {
		chunk := ids[start:min(start+idChunkSize, len(ids))]
		args := toAny(chunk)
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id IN (%s)`, s.records, placeholders(len(chunk))), args...); err != nil {
			return fmt.Errorf("delete records: %w", err)
		}
		if s.annReady {
			if _, err := s.db.ExecContext(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE record_id IN (%s)`, s.vec, placeholders(len(chunk))), args...); err != nil {
				return fmt.Errorf("delete ANN entries: %w", err)
			}
		}
	}
	return nil
}

// Touch implements core.VectorStore.
func (s *Store) Touch(ctx context.Context, ids []string, seen time.Time) error {
	ts := seen.UTC().Format(time.RFC3339Nano)
	for start := 0; start < len(ids); start += idChunkSize {
		chunk := ids[start:min(start+idChunkSize, len(ids))]
		args := append([]any{ts}, toAny(chunk)...)
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET last_seen = ? WHERE id IN (%s)`, s.records, placeholders(len(chunk))), args...); err != nil {
			return fmt.Errorf("touch records: %w", err)
		}
	}
	return nil
}

// Count implements core.VectorStore.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.records)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func fillRecord(rec *core.Record, payload sql.NullString, metadata, lastSeen string) error {
	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &rec.Payload); err != nil {
			return fmt.Errorf("unmarshal payload for %q: %w", rec.ID, err)
		}
	}
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
			return fmt.Errorf("unmarshal metadata for %q: %w", rec.ID, err)
		}
	}
	t, err := time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return fmt.Errorf("parse last_seen for %q: %w", rec.ID, err)
	}
	rec.LastSeen = t
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
