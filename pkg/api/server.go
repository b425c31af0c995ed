package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/intake/pkg/approval"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// ResumeTokenHeader carries the current version token. It takes precedence
// over a "token" field in the request body.
const ResumeTokenHeader = "X-Resume-Token"

const defaultIdempotencyTTL = 24 * time.Hour

// Server serves the lifecycle operations over HTTP.
type Server struct {
	subs        *submission.Manager
	reviews     *approval.Manager
	tracker     submission.Tracker
	logger      *slog.Logger
	actorSecret []byte
	limiter     *GlobalRateLimiter
	idempotency IdempotencyStore
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTracker wraps every handler in a transport-level span.
func WithTracker(t submission.Tracker) Option {
	return func(s *Server) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithActorSecret enables X-Actor-Token verification.
func WithActorSecret(secret []byte) Option {
	return func(s *Server) { s.actorSecret = secret }
}

// WithRateLimiter enables per-IP rate limiting.
func WithRateLimiter(rl *GlobalRateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithIdempotencyStore overrides the in-memory Idempotency-Key store.
func WithIdempotencyStore(store IdempotencyStore) Option {
	return func(s *Server) { s.idempotency = store }
}

// NewServer creates a server. Without WithIdempotencyStore, keys are kept
// in memory for 24h, swept until ctx is done.
func NewServer(ctx context.Context, subs *submission.Manager, reviews *approval.Manager, opts ...Option) *Server {
	s := &Server{
		subs:    subs,
		reviews: reviews,
		tracker: nopTracker{},
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idempotency == nil {
		s.idempotency = NewIdempotencyStore(ctx, defaultIdempotencyTTL)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)
	r.Use(AccessLog(s.logger))
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) { WriteMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteErrorR(w, r, http.StatusNotFound, "Not Found", "no such route")
	})

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(ResolveActor(s.actorSecret))
		r.With(Idempotency(s.idempotency, s.logger)).Post("/submissions", s.create)
		r.Get("/submissions/{id}", s.get)
		r.Get("/resume/{token}", s.resume)
		r.Patch("/submissions/{id}/fields", s.setFields)
		r.Post("/submissions/{id}/submit", s.submit)
		r.Post("/submissions/{id}/cancel", s.cancel)
		r.Post("/submissions/{id}/approve", s.approve)
		r.Post("/submissions/{id}/reject", s.reject)
		r.Post("/submissions/{id}/request-changes", s.requestChanges)
	})
	return r
}

type nopTracker struct{}

func (nopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}
