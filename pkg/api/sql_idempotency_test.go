package api

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intake/pkg/store"
)

func TestSQLIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open(store.DialectSQLite.DriverName(), ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLIdempotencyStore(ctx, db, store.DialectSQLite, time.Hour)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, ok, err := s.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	want := &CachedResponse{RequestHash: "sha256:abc", StatusCode: 201, ContentType: "application/json", Body: []byte(`{"state":"draft"}`)}
	require.NoError(t, s.Set(ctx, "k", want))
	require.NoError(t, s.Set(ctx, "k", want), "overwrites are allowed")

	got, ok, err := s.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.RequestHash, got.RequestHash)
	assert.Equal(t, want.StatusCode, got.StatusCode)
	assert.Equal(t, want.ContentType, got.ContentType)
	assert.Equal(t, want.Body, got.Body)

	now = now.Add(2 * time.Hour)
	_, ok, err = s.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entries older than the TTL are misses")
	require.NoError(t, s.Cleanup(ctx))
}
