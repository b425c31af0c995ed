package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/intake/pkg/store"
)

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	request_hash TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	body BLOB NOT NULL,
	cached_at BIGINT NOT NULL
);`

// SQLIdempotencyStore keeps replayable responses in the same database as
// the submissions so they survive restarts.
type SQLIdempotencyStore struct {
	db      *sql.DB
	dialect store.Dialect
	ttl     time.Duration
	now     func() time.Time
}

// NewSQLIdempotencyStore creates the table if needed.
func NewSQLIdempotencyStore(ctx context.Context, db *sql.DB, dialect store.Dialect, ttl time.Duration) (*SQLIdempotencyStore, error) {
	schema := idempotencySchema
	if dialect == store.DialectPostgres {
		schema = `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	request_hash TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	body BYTEA NOT NULL,
	cached_at BIGINT NOT NULL
);`
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("migrate idempotency_keys: %w", err)
	}
	return &SQLIdempotencyStore{db: db, dialect: dialect, ttl: ttl, now: time.Now}, nil
}

func (s *SQLIdempotencyStore) Check(ctx context.Context, key string) (*CachedResponse, bool, error) {
	var (
		resp     CachedResponse
		cachedAt int64
	)
	query := s.dialect.Rebind(`SELECT request_hash, status_code, content_type, body, cached_at FROM idempotency_keys WHERE key = ?`)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&resp.RequestHash, &resp.StatusCode, &resp.ContentType, &resp.Body, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("check idempotency key: %w", err)
	}
	resp.CachedAt = time.Unix(0, cachedAt)
	if s.now().Sub(resp.CachedAt) > s.ttl {
		_, _ = s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM idempotency_keys WHERE key = ?`), key)
		return nil, false, nil
	}
	return &resp, true, nil
}

func (s *SQLIdempotencyStore) Set(ctx context.Context, key string, resp *CachedResponse) error {
	query := s.dialect.Rebind(`INSERT INTO idempotency_keys (key, request_hash, status_code, content_type, body, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET request_hash = excluded.request_hash, status_code = excluded.status_code,
			content_type = excluded.content_type, body = excluded.body, cached_at = excluded.cached_at`)
	_, err := s.db.ExecContext(ctx, query, key, resp.RequestHash, resp.StatusCode, resp.ContentType, resp.Body, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

// Cleanup removes keys older than the TTL.
func (s *SQLIdempotencyStore) Cleanup(ctx context.Context) error {
	cutoff := s.now().Add(-s.ttl).UnixNano()
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM idempotency_keys WHERE cached_at < ?`), cutoff)
	return err
}
