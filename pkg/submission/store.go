package submission

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

var (
	// ErrNotFound is returned by stores when no submission matches.
	ErrNotFound = errors.New("submission not found")
	// ErrVersionConflict is returned by Store.Save when the stored token is
	// not the expected one.
	ErrVersionConflict = errors.New("version token conflict")
)

// Store persists submissions.
//
// Save must be an atomic check-and-save per submission id: it succeeds only
// if the currently stored token equals expectedToken, or, when expectedToken
// is empty, if no submission with that id exists. Otherwise it returns
// ErrVersionConflict and stores nothing. sub.VersionToken may equal
// expectedToken when a write does not rotate the token.
//
// Delete removes a submission only while its stored token equals
// expectedToken, with the same atomicity as Save. The manager uses it solely
// to compensate a create whose event was never recorded.
//
// Implementations never hand out their internal copy: callers may mutate
// what Get returns.
type Store interface {
	Get(ctx context.Context, id string) (*contracts.Submission, error)
	GetByToken(ctx context.Context, token string) (*contracts.Submission, error)
	Save(ctx context.Context, sub *contracts.Submission, expectedToken string) error
	Delete(ctx context.Context, id, expectedToken string) error
}

// EventSink is the append-only audit log. There is no update or delete.
type EventSink interface {
	Append(ctx context.Context, ev contracts.Event) error
}

// Observer is told about every event after it has been committed. Observers
// run synchronously on the calling goroutine and must not block; their
// failures never affect the operation that produced the event.
type Observer interface {
	Observe(ctx context.Context, sub *contracts.Submission, ev contracts.Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, sub *contracts.Submission, ev contracts.Event)

func (f ObserverFunc) Observe(ctx context.Context, sub *contracts.Submission, ev contracts.Event) {
	f(ctx, sub, ev)
}
