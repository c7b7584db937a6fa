// Package postgres provides a Postgres-backed crawl checkpoint.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
	"github.com/JakeFAU/kenyalaw-crawler/internal/progress"
)

var validCheckpoint = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_checkpoint (
	checkpoint TEXT PRIMARY KEY,
	last_page  INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS crawl_completed (
	checkpoint   TEXT NOT NULL,
	item_id      TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (checkpoint, item_id)
);
CREATE TABLE IF NOT EXISTS crawl_errors (
	id          BIGSERIAL PRIMARY KEY,
	checkpoint  TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	message     TEXT NOT NULL,
	url         TEXT
);`

// ProgressStoreConfig controls the Postgres connection pool used for the checkpoint.
type ProgressStoreConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Checkpoint      string        `mapstructure:"checkpoint"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// AutoMigrate creates the checkpoint tables when missing.
	AutoMigrate bool `mapstructure:"auto_migrate"`
	// MirrorMetadata also writes every metadata row to judgment_metadata.
	MirrorMetadata bool `mapstructure:"mirror_metadata"`
	// Fresh deletes the stored rows for this checkpoint instead of loading them.
	Fresh bool `mapstructure:"-"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

type delta struct {
	completed []string
	errors    []crawler.ErrorRecord
}

// ProgressStore keeps the checkpoint in memory and writes deltas to Postgres
// on Flush.
type ProgressStore struct {
	pool       pool
	checkpoint string

	mu      sync.RWMutex
	state   *progress.State
	pending delta

	flushMu     sync.Mutex
	flushedPage int
}

var _ crawler.ProgressStore = (*ProgressStore)(nil)

// NewProgressStore connects to Postgres and loads the named checkpoint.
func NewProgressStore(ctx context.Context, cfg ProgressStoreConfig) (*ProgressStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("progress.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pgPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewProgressStoreWithPool(ctx, pgPool, cfg)
	if err != nil {
		pgPool.Close()
		return nil, err
	}
	return store, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(ctx context.Context, p pool, cfg ProgressStoreConfig) (*ProgressStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	checkpoint := cfg.Checkpoint
	if checkpoint == "" {
		checkpoint = "default"
	}
	if !validCheckpoint.MatchString(checkpoint) {
		return nil, fmt.Errorf("invalid checkpoint name %q", checkpoint)
	}
	s := &ProgressStore{pool: p, checkpoint: checkpoint, state: progress.NewState()}
	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.Fresh {
		if err := s.reset(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the checkpoint tables.
func (s *ProgressStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create checkpoint schema: %w", err)
	}
	return nil
}

// reset removes every row of the checkpoint so the store starts from page 0.
// Metadata rows are kept, like the metadata CSV of a fresh file checkpoint.
func (s *ProgressStore) reset(ctx context.Context) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint reset: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	for _, table := range []string{"crawl_completed", "crawl_errors", "crawl_checkpoint"} {
		if _, err = tx.Exec(ctx, "DELETE FROM "+table+" WHERE checkpoint = $1", s.checkpoint); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint reset: %w", err)
	}
	return nil
}

func (s *ProgressStore) load(ctx context.Context) error {
	ids, err := queryStrings(ctx, s.pool,
		`SELECT item_id FROM crawl_completed WHERE checkpoint = $1`, s.checkpoint)
	if err != nil {
		return fmt.Errorf("load completed items: %w", err)
	}
	for _, id := range ids {
		s.state.MarkCompleted(id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT last_page FROM crawl_checkpoint WHERE checkpoint = $1`, s.checkpoint)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	for rows.Next() {
		var page int
		if err := rows.Scan(&page); err != nil {
			rows.Close()
			return fmt.Errorf("scan checkpoint: %w", err)
		}
		s.state.AdvancePage(page)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	s.flushedPage = s.state.LastPage()

	rows, err = s.pool.Query(ctx, `SELECT occurred_at, message, COALESCE(url, '')
		FROM crawl_errors WHERE checkpoint = $1 ORDER BY id`, s.checkpoint)
	if err != nil {
		return fmt.Errorf("load errors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec crawler.ErrorRecord
		if err := rows.Scan(&rec.Time, &rec.Message, &rec.URL); err != nil {
			return fmt.Errorf("scan error row: %w", err)
		}
		s.state.RecordError(rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load errors: %w", err)
	}
	return nil
}

func queryStrings(ctx context.Context, p pool, sql string, args ...any) ([]string, error) {
	rows, err := p.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close releases the underlying pool resources.
func (s *ProgressStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Contains reports whether id was completed.
func (s *ProgressStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Contains(id)
}

// MarkCompleted records id; the row is written on the next Flush.
func (s *ProgressStore) MarkCompleted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.MarkCompleted(id) {
		s.pending.completed = append(s.pending.completed, id)
	}
}

// AdvancePage moves the page checkpoint forward.
func (s *ProgressStore) AdvancePage(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AdvancePage(page)
}

// RecordError appends rec to the error list.
func (s *ProgressStore) RecordError(rec crawler.ErrorRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RecordError(rec)
	s.pending.errors = append(s.pending.errors, rec)
}

// LastPage returns the last fully processed page.
func (s *ProgressStore) LastPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.LastPage()
}

// Snapshot summarizes the current state.
func (s *ProgressStore) Snapshot() crawler.ProgressSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Snapshot()
}

// Errors returns the recorded errors in insertion order.
func (s *ProgressStore) Errors() []crawler.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Errors()
}

// Flush writes pending changes in one transaction. On failure the changes are
// queued again for the next Flush.
func (s *ProgressStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	pending := s.pending
	s.pending = delta{}
	page := s.state.LastPage()
	s.mu.Unlock()

	if len(pending.completed) == 0 && len(pending.errors) == 0 && page <= s.flushedPage {
		return nil
	}
	if err := s.write(ctx, pending, page); err != nil {
		s.mu.Lock()
		s.pending.completed = append(pending.completed, s.pending.completed...)
		s.pending.errors = append(pending.errors, s.pending.errors...)
		s.mu.Unlock()
		return err
	}
	s.flushedPage = page
	return nil
}

func (s *ProgressStore) write(ctx context.Context, pending delta, page int) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if len(pending.completed) > 0 {
		if _, err = tx.Exec(ctx, `INSERT INTO crawl_completed (checkpoint, item_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING`, s.checkpoint, pending.completed); err != nil {
			return fmt.Errorf("insert completed items: %w", err)
		}
	}
	for _, rec := range pending.errors {
		var u *string
		if rec.URL != "" {
			u = &rec.URL
		}
		if _, err = tx.Exec(ctx, `INSERT INTO crawl_errors (checkpoint, occurred_at, message, url)
			VALUES ($1, $2, $3, $4)`, s.checkpoint, rec.Time, rec.Message, u); err != nil {
			return fmt.Errorf("insert error record: %w", err)
		}
	}
	if page > s.flushedPage {
		if _, err = tx.Exec(ctx, `INSERT INTO crawl_checkpoint (checkpoint, last_page, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (checkpoint) DO UPDATE
			SET last_page = GREATEST(crawl_checkpoint.last_page, EXCLUDED.last_page),
				updated_at = now()`, s.checkpoint, page); err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit checkpoint tx: %w", err)
	}
	return nil
}
