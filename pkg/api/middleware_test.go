package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1 req/sec, burst 2
	limiter := NewGlobalRateLimiter(ctx, 1, 2)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/submissions/x", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1001"), "ports do not split a client")
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1002"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"), "clients have separate budgets")
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewGlobalRateLimiter(ctx, 10, 10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.getVisitor("a")
	now = now.Add(2 * time.Minute)
	rl.getVisitor("b")
	now = now.Add(2 * time.Minute)
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.visitors, "a")
	assert.Contains(t, rl.visitors, "b")
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", clientIP(r))
	r.RemoteAddr = "[::1]"
	assert.Equal(t, "::1", clientIP(r))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "client-supplied")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "client-supplied", seen)
	assert.Equal(t, "client-supplied", w.Header().Get(RequestIDHeader))
}

func TestMemoryIdempotencyStore_Expires(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewIdempotencyStore(ctx, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", &CachedResponse{StatusCode: 201, Body: []byte("{}")}))
	got, ok, err := s.Check(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 201, got.StatusCode)

	now = now.Add(2 * time.Minute)
	_, ok, err = s.Check(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
