package submission

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultTTL applies when neither the caller nor the definition sets one.
const DefaultTTL = 24 * time.Hour

// Tracker wraps an operation in a span and RED metrics.
// *observability.Provider satisfies it.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

type nopTracker struct{}

func (nopTracker) TrackOperation(ctx context.Context, _ string, _ ...attribute.KeyValue) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracker enables tracing and metrics.
func WithTracker(t Tracker) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracker = t
		}
	}
}

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithObserver registers an observer for committed events.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}
