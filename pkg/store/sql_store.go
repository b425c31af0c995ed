package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// DriverName returns the database/sql driver registered for d.
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind rewrites ? placeholders to $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const submissionsSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	definition_id TEXT NOT NULL,
	state TEXT NOT NULL,
	token_digest TEXT NOT NULL UNIQUE,
	expires_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	document TEXT NOT NULL
);`

// SQLStore implements submission.Store on Postgres or SQLite. The check
// and the write are a single UPDATE guarded by the token digest, so the
// database provides the atomicity.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore creates the schema if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, submissionsSchema); err != nil {
		return fmt.Errorf("migrate submissions: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*contracts.Submission, error) {
	return s.queryOne(ctx, `SELECT document FROM submissions WHERE id = ?`, id)
}

func (s *SQLStore) GetByToken(ctx context.Context, token string) (*contracts.Submission, error) {
	return s.queryOne(ctx, `SELECT document FROM submissions WHERE token_digest = ?`, TokenDigest(token))
}

func (s *SQLStore) queryOne(ctx context.Context, query string, arg string) (*contracts.Submission, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), arg).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, submission.ErrNotFound
		}
		return nil, err
	}
	return decodeSubmission([]byte(doc))
}

func (s *SQLStore) Save(ctx context.Context, sub *contracts.Submission, expectedToken string) error {
	doc, err := encodeSubmission(sub)
	if err != nil {
		return err
	}
	expires := sub.ExpiresAt.UTC().Format(timeLayout)
	updated := sub.UpdatedAt.UTC().Format(timeLayout)

	var res sql.Result
	if expectedToken == "" {
		query := `
			INSERT INTO submissions (id, definition_id, state, token_digest, expires_at, updated_at, document)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
			sub.ID, sub.DefinitionID, string(sub.State), TokenDigest(sub.VersionToken), expires, updated, string(doc))
	} else {
		query := `
			UPDATE submissions
			SET state = ?, token_digest = ?, expires_at = ?, updated_at = ?, document = ?
			WHERE id = ? AND token_digest = ?`
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(query),
			string(sub.State), TokenDigest(sub.VersionToken), expires, updated, string(doc),
			sub.ID, TokenDigest(expectedToken))
	}
	if err != nil {
		return fmt.Errorf("failed to save submission %s: %w", sub.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return submission.ErrVersionConflict
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id, expectedToken string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM submissions WHERE id = ? AND token_digest = ?`),
		id, TokenDigest(expectedToken))
	if err != nil {
		return fmt.Errorf("failed to delete submission %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return submission.ErrVersionConflict
	}
	return nil
}

// ListExpiring returns ids of non-terminal submissions whose TTL elapsed
// before now. Expiry is still applied lazily; this only lets an operator
// find candidates.
func (s *SQLStore) ListExpiring(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT id FROM submissions
		WHERE expires_at < ? AND state NOT IN ('finalized', 'cancelled', 'expired')
		ORDER BY expires_at ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), now.UTC().Format(timeLayout), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
