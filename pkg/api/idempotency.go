package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Mindburn-Labs/intake/pkg/canonicalize"
)

// IdempotencyKeyHeader lets a caller retry a create without minting a
// second submission.
const IdempotencyKeyHeader = "Idempotency-Key"

// CachedResponse is a previously sent response replayed for a repeated key.
// RequestHash digests the request body that produced it; a key reused with
// a different body is refused instead of replayed.
type CachedResponse struct {
	RequestHash string
	StatusCode  int
	ContentType string
	Body        []byte
	CachedAt    time.Time
}

// IdempotencyStore persists responses by scoped idempotency key.
type IdempotencyStore interface {
	Check(ctx context.Context, key string) (*CachedResponse, bool, error)
	Set(ctx context.Context, key string, resp *CachedResponse) error
}

// MemoryIdempotencyStore holds cached responses in process memory.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
	ttl     time.Duration
	now     func() time.Time
}

// NewIdempotencyStore creates an in-memory store whose entries live for ttl.
// Expired entries are swept until ctx is done.
func NewIdempotencyStore(ctx context.Context, ttl time.Duration) *MemoryIdempotencyStore {
	s := &MemoryIdempotencyStore{
		entries: make(map[string]*CachedResponse),
		ttl:     ttl,
		now:     time.Now,
	}
	go s.cleanup(ctx)
	return s
}

func (s *MemoryIdempotencyStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		now := s.now()
		for k, v := range s.entries {
			if now.Sub(v.CachedAt) > s.ttl {
				delete(s.entries, k)
			}
		}
		s.mu.Unlock()
	}
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.RLock()
	cached, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.CachedAt) < s.ttl {
		return cached, true, nil
	}
	return nil, false, nil
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp *CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *resp
	cp.CachedAt = s.now()
	s.entries[key] = &cp
	return nil
}

type responseCapture struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.statusCode = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// Idempotency replays the cached 2xx response for a repeated
// Idempotency-Key sent with the same body. Keys are scoped to the acting
// caller and the route. A key reused with a different body gets a 422 and
// nothing is replayed. Store failures degrade to normal processing.
func Idempotency(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" || r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			scoped := ActorFrom(r.Context()).String() + "|" + r.Method + " " + r.URL.Path + "|" + key

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
			if err != nil {
				WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "request body could not be read")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			requestHash := canonicalize.HashBytes(body)

			cached, ok, err := store.Check(r.Context(), scoped)
			if err != nil {
				logger.WarnContext(r.Context(), "idempotency lookup failed", "error", err)
			}
			if ok && cached.RequestHash != requestHash {
				WriteErrorR(w, r, http.StatusUnprocessableEntity, "Unprocessable Entity",
					"Idempotency-Key was already used with a different request body")
				return
			}
			if ok {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode >= 200 && capture.statusCode < 300 {
				resp := &CachedResponse{
					RequestHash: requestHash,
					StatusCode:  capture.statusCode,
					ContentType: w.Header().Get("Content-Type"),
					Body:        capture.body.Bytes(),
				}
				if err := store.Set(r.Context(), scoped, resp); err != nil {
					logger.WarnContext(r.Context(), "idempotency store failed", "error", err)
				}
			}
		})
	}
}
