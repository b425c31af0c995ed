package submission

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/schema"
	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// Outcome is what a Mutation decided to do to the working copy.
type Outcome struct {
	// Trigger selects the transition. Empty means Mutation.Trigger.
	Trigger Trigger
	Event   contracts.EventType
	Payload map[string]any
}

// Mutation is one state-affecting operation run through Apply.
type Mutation struct {
	// Name labels the operation in traces and logs.
	Name    string
	Trigger Trigger
	Actor   contracts.Actor
	// Fields, when set, are the values the caller is trying to write. They
	// decide whether a stale-token conflict is worth retrying.
	Fields map[string]any
	// Guard, when set, runs on the stored submission after the token check
	// and before the transition check. It lets an operation explain why it
	// cannot proceed in caller terms rather than as a bare conflict.
	Guard func(sub *contracts.Submission, def *schema.Definition) error
	// Mutate edits the working copy. Returning an *Error aborts the call with
	// nothing persisted.
	Mutate func(work *contracts.Submission, def *schema.Definition) (Outcome, error)
}

// Apply runs mu against submission id under the version-token protocol:
//
//  1. load the submission, persisting a lazily detected expiry
//  2. reject expired and cancelled submissions, then stale tokens, then
//     guard failures and illegal transitions, all before anything changes
//  3. run Mutate on a private copy and move to the next state
//  4. rotate the token and save conditionally on the presented token
//  5. append the event; on failure restore the previous snapshot
//  6. notify observers
//
// The approval manager uses Apply so that review decisions participate in
// the same protocol as field writes.
func (m *Manager) Apply(ctx context.Context, id, token string, mu Mutation) (_ *contracts.Submission, err error) {
	ctx, done := m.tracker.TrackOperation(ctx, "submission."+mu.Name,
		attribute.String("submission.id", id),
		attribute.String("actor.kind", string(mu.Actor.Kind)),
	)
	defer func() { done(err) }()

	if err := mu.Actor.Validate(); err != nil {
		return nil, InvalidInput(nil, "actor", err.Error())
	}

	sub, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sub.State {
	case contracts.StateExpired:
		return nil, expired(sub.ID)
	case contracts.StateCancelled:
		return nil, cancelled(sub)
	}
	if token != sub.VersionToken {
		return nil, staleToken(sub, !m.sameValues(sub, mu.Fields))
	}

	def, err := m.defs.Lookup(ctx, sub.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("definition %q for submission %s: %w", sub.DefinitionID, sub.ID, err)
	}
	if mu.Guard != nil {
		if err := mu.Guard(sub, def); err != nil {
			return nil, err
		}
	}
	if e := gate(sub, mu.Trigger); e != nil {
		return nil, e
	}

	work := sub.Clone()
	out, err := mu.Mutate(work, def)
	if err != nil {
		return nil, err
	}
	trigger := out.Trigger
	if trigger == "" {
		trigger = mu.Trigger
	}
	next, ok := Next(sub.State, trigger)
	if !ok {
		return nil, illegalTransition(sub, trigger)
	}

	now := m.clock()
	newToken, err := NewToken()
	if err != nil {
		return nil, err
	}
	work.State = next
	work.VersionToken = newToken
	work.UpdatedBy = mu.Actor
	work.UpdatedAt = now
	ev := m.event(work, out.Event, mu.Actor, now, out.Payload)
	work.Events = append(work.Events, ev)

	if err := m.commit(ctx, sub, work, token, ev); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Lost the race between load and save.
			return nil, staleToken(sub, true)
		}
		return nil, err
	}
	m.logger.InfoContext(ctx, "submission updated",
		"submission_id", work.ID,
		"operation", mu.Name,
		"from", sub.State,
		"to", work.State,
		"event", ev.Type,
		"actor", mu.Actor.String(),
	)
	m.notify(ctx, work, ev)
	return work.Clone(), nil
}

// commit saves work conditionally on expectedToken and appends ev. If the
// sink rejects the event the previous snapshot is restored so the caller
// observes nothing.
func (m *Manager) commit(ctx context.Context, prev, work *contracts.Submission, expectedToken string, ev contracts.Event) error {
	if err := m.store.Save(ctx, work, expectedToken); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save submission %s: %w", work.ID, err)
	}
	if err := m.sink.Append(ctx, ev); err != nil {
		sinkErr := fmt.Errorf("append %s event for submission %s: %w", ev.Type, work.ID, err)
		if prev == nil {
			if derr := m.store.Delete(ctx, work.ID, work.VersionToken); derr != nil {
				m.logger.ErrorContext(ctx, "removing submission after event append failure failed",
					"submission_id", work.ID, "error", derr)
				return errors.Join(sinkErr, fmt.Errorf("rollback: %w", derr))
			}
			return sinkErr
		}
		if rerr := m.store.Save(ctx, prev, work.VersionToken); rerr != nil {
			m.logger.ErrorContext(ctx, "rollback after event append failure failed",
				"submission_id", work.ID, "error", rerr)
			return errors.Join(sinkErr, fmt.Errorf("rollback: %w", rerr))
		}
		return sinkErr
	}
	return nil
}

// sameValues reports whether every value in fields is already stored under
// the same path.
func (m *Manager) sameValues(sub *contracts.Submission, fields map[string]any) bool {
	if len(fields) == 0 {
		return false
	}
	for path, v := range fields {
		p, err := validation.NormalizePath(path)
		if err != nil {
			return false
		}
		stored, ok := sub.Fields[p]
		if !ok {
			return false
		}
		a, errA := validation.NormalizeValue(stored)
		b, errB := validation.NormalizeValue(v)
		if errA != nil || errB != nil || !reflect.DeepEqual(a, b) {
			return false
		}
	}
	return true
}

func (m *Manager) notify(ctx context.Context, sub *contracts.Submission, ev contracts.Event) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, o := range observers {
		o.Observe(ctx, sub.Clone(), ev)
	}
}
