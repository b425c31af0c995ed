package approval

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"
)

// Notification asks reviewers to look at a submission.
type Notification struct {
	SubmissionID string   `json:"submissionId"`
	DefinitionID string   `json:"definitionId"`
	ReviewerIDs  []string `json:"reviewerIds"`
	ReviewURL    string   `json:"reviewUrl,omitempty"`
}

// Notifier delivers review notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) error { return nil }

// LogNotifier writes notifications to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "review requested",
		"submission_id", n.SubmissionID,
		"definition_id", n.DefinitionID,
		"reviewers", n.ReviewerIDs,
		"review_url", n.ReviewURL,
	)
	return nil
}

// ErrRateLimited is returned when a RateLimitedNotifier has no budget left.
var ErrRateLimited = errors.New("notification rate limit exceeded")

// RateLimitedNotifier drops notifications beyond a token bucket budget
// instead of queueing them.
type RateLimitedNotifier struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimitedNotifier allows rps notifications per second with the given
// burst through to next.
func NewRateLimitedNotifier(next Notifier, rps float64, burst int) *RateLimitedNotifier {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedNotifier{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimitedNotifier) Notify(ctx context.Context, n Notification) error {
	if !r.limiter.Allow() {
		return ErrRateLimited
	}
	return r.next.Notify(ctx, n)
}
