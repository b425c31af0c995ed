// Package submission owns the submission lifecycle: creation, field writes,
// state transitions, resume-token rotation and lazy expiry.
//
// Concurrency control is entirely optimistic. Every mutating call presents
// the version token it last observed and the Store rejects the save if the
// token moved in the meantime. The manager holds no per-submission locks.
package submission

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/schema"
	"github.com/Mindburn-Labs/intake/pkg/validation"
)

// Manager runs the submission state machine.
type Manager struct {
	store Store
	sink  EventSink
	defs  schema.Provider

	clock      func() time.Time
	logger     *slog.Logger
	tracker    Tracker
	defaultTTL time.Duration
	entropy    *ulid.LockedMonotonicReader

	mu        sync.RWMutex
	observers []Observer
}

// NewManager creates a manager over the given collaborators.
func NewManager(store Store, sink EventSink, defs schema.Provider, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		sink:       sink,
		defs:       defs,
		clock:      time.Now,
		logger:     slog.Default().With("component", "submission"),
		tracker:    nopTracker{},
		defaultTTL: DefaultTTL,
		entropy:    &ulid.LockedMonotonicReader{MonotonicReader: ulid.Monotonic(rand.Reader, 0)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddObserver registers o for events committed from now on.
func (m *Manager) AddObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Definitions returns the schema provider the manager validates against.
func (m *Manager) Definitions() schema.Provider { return m.defs }

// Now returns the manager's current time.
func (m *Manager) Now() time.Time { return m.clock() }

// Create starts a submission against definitionID. It fails on caller input
// only when the definition is unknown or a field path is malformed.
func (m *Manager) Create(ctx context.Context, definitionID string, fields map[string]any, actor contracts.Actor, ttl time.Duration) (_ *contracts.Submission, err error) {
	ctx, done := m.tracker.TrackOperation(ctx, "submission.create",
		attribute.String("definition.id", definitionID),
		attribute.String("actor.kind", string(actor.Kind)),
	)
	defer func() { done(err) }()

	if err := actor.Validate(); err != nil {
		return nil, InvalidInput(nil, "actor", err.Error())
	}
	def, err := m.defs.Lookup(ctx, definitionID)
	if err != nil {
		if errors.Is(err, schema.ErrUnknownDefinition) {
			return nil, unknownDefinition(definitionID, err)
		}
		return nil, fmt.Errorf("lookup definition %q: %w", definitionID, err)
	}
	normalized, e := normalizeFields(nil, fields)
	if e != nil {
		return nil, e
	}

	if ttl <= 0 {
		ttl = def.TTL
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	now := m.clock()
	sub := &contracts.Submission{
		ID:               uuid.NewString(),
		DefinitionID:     def.ID(),
		State:            contracts.StateDraft,
		VersionToken:     token,
		Fields:           make(map[string]any, len(normalized)),
		FieldAttribution: make(map[string]contracts.Actor, len(normalized)),
		CreatedBy:        actor,
		UpdatedBy:        actor,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
	changes := writeFields(sub, normalized, actor)
	if len(normalized) > 0 {
		sub.State = contracts.StateInProgress
	}
	payload := map[string]any{"definitionId": sub.DefinitionID, "ttl": ttl.String()}
	if len(changes) > 0 {
		payload["changes"] = changes
	}
	ev := m.event(sub, contracts.EventSubmissionCreated, actor, now, payload)
	sub.Events = append(sub.Events, ev)

	if err := m.commit(ctx, nil, sub, "", ev); err != nil {
		return nil, err
	}
	m.logger.InfoContext(ctx, "submission created",
		"submission_id", sub.ID,
		"definition_id", sub.DefinitionID,
		"state", sub.State,
		"actor", actor.String(),
	)
	m.notify(ctx, sub, ev)
	return sub.Clone(), nil
}

// SetFields writes fields, records actor as the latest writer of each path
// and moves a draft to in_progress. Values are accepted unconditionally;
// Submit is the validation gate.
func (m *Manager) SetFields(ctx context.Context, id, token string, fields map[string]any, actor contracts.Actor) (*contracts.Submission, error) {
	return m.Apply(ctx, id, token, Mutation{
		Name:    "set_fields",
		Trigger: TriggerWrite,
		Actor:   actor,
		Fields:  fields,
		Mutate: func(work *contracts.Submission, _ *schema.Definition) (Outcome, error) {
			if len(fields) == 0 {
				return Outcome{}, MissingInput(work, "fields", "at least one field is required")
			}
			normalized, e := normalizeFields(work, fields)
			if e != nil {
				return Outcome{}, e
			}
			changes := writeFields(work, normalized, actor)
			return Outcome{
				Event:   contracts.EventFieldUpdated,
				Payload: map[string]any{"action": "set_fields", "changes": changes},
			}, nil
		},
	})
}

// Submit runs full validation. On failure nothing changes, not even the
// token. On success the submission moves to submitted, or to needs_review
// when the definition's approval gate applies.
func (m *Manager) Submit(ctx context.Context, id, token string, actor contracts.Actor) (*contracts.Submission, error) {
	return m.Apply(ctx, id, token, Mutation{
		Name:    "submit",
		Trigger: TriggerSubmit,
		Actor:   actor,
		Guard: func(sub *contracts.Submission, def *schema.Definition) error {
			// A draft cannot be submitted. The conflict also lists the
			// required values still missing.
			if sub.State != contracts.StateDraft {
				return nil
			}
			e := illegalTransition(sub, TriggerSubmit)
			if r := validation.ValidateRequiredOnly(def.Schema, sub.Fields); !r.Valid {
				e.Summary = validation.Summary(r.Errors)
				e.Fields = r.Errors
				e.NextActions = append(validation.Guide(def.Schema, r.Errors), e.NextActions...)
			}
			return e
		},
		Mutate: func(work *contracts.Submission, def *schema.Definition) (Outcome, error) {
			r := validation.Validate(def.Schema, work.Fields)
			if len(r.Unmapped) > 0 {
				m.logger.Error("constraint violations without an error code",
					"submission_id", work.ID,
					"definition_id", def.ID(),
					"keywords", r.Unmapped,
				)
			}
			if !r.Valid {
				return Outcome{}, validationFailed(work, def.Schema, r)
			}

			gated, err := def.Gate.Applies(work.Fields)
			if err != nil {
				m.logger.Warn("approval condition failed; routing to review",
					"submission_id", work.ID, "definition_id", def.ID(), "error", err)
			}
			if gated {
				payload := map[string]any{"reviewers": def.Gate.Reviewers}
				if def.Gate.ReviewURL != "" {
					payload["reviewUrl"] = def.Gate.ReviewURL
				}
				return Outcome{
					Trigger: TriggerSubmitForReview,
					Event:   contracts.EventReviewRequested,
					Payload: payload,
				}, nil
			}
			return Outcome{Event: contracts.EventSubmissionSubmitted}, nil
		},
	})
}

// Cancel moves any non-terminal submission to cancelled.
func (m *Manager) Cancel(ctx context.Context, id, token string, actor contracts.Actor, reason string) (*contracts.Submission, error) {
	return m.Apply(ctx, id, token, Mutation{
		Name:    "cancel",
		Trigger: TriggerCancel,
		Actor:   actor,
		Mutate: func(_ *contracts.Submission, _ *schema.Definition) (Outcome, error) {
			var payload map[string]any
			if reason != "" {
				payload = map[string]any{"reason": reason}
			}
			return Outcome{Event: contracts.EventSubmissionCancelled, Payload: payload}, nil
		},
	})
}

// Finalize is the delivery collaborator's entry point: it records that a
// submitted or approved submission was delivered downstream.
func (m *Manager) Finalize(ctx context.Context, id, token string, actor contracts.Actor, receipt map[string]any) (*contracts.Submission, error) {
	return m.Apply(ctx, id, token, Mutation{
		Name:    "finalize",
		Trigger: TriggerFinalize,
		Actor:   actor,
		Mutate: func(_ *contracts.Submission, _ *schema.Definition) (Outcome, error) {
			return Outcome{Event: contracts.EventSubmissionFinalized, Payload: receipt}, nil
		},
	})
}

// RecordDeliveryFailure appends a delivery.failed event. The state and the
// token are left alone so the delivery can be retried.
func (m *Manager) RecordDeliveryFailure(ctx context.Context, id string, actor contracts.Actor, reason string, attempt int) (err error) {
	ctx, done := m.tracker.TrackOperation(ctx, "submission.record_delivery_failure",
		attribute.String("submission.id", id))
	defer func() { done(err) }()

	for range 3 {
		sub, err := m.load(ctx, id)
		if err != nil {
			return err
		}
		if !Allowed(sub.State, TriggerFinalize) {
			return illegalTransition(sub, TriggerFinalize)
		}
		now := m.clock()
		work := sub.Clone()
		ev := m.event(work, contracts.EventDeliveryFailed, actor, now, map[string]any{
			"reason":  reason,
			"attempt": attempt,
		})
		work.Events = append(work.Events, ev)
		err = m.commit(ctx, sub, work, sub.VersionToken, ev)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return err
		}
		m.logger.WarnContext(ctx, "delivery failed", "submission_id", id, "attempt", attempt, "reason", reason)
		m.notify(ctx, work, ev)
		return nil
	}
	return fmt.Errorf("record delivery failure for %s: %w", id, ErrVersionConflict)
}

// Get returns the submission. Reads never rotate the token; an elapsed TTL
// is persisted as the expired state. An expired submission comes back
// without its data, token or history.
func (m *Manager) Get(ctx context.Context, id string) (_ *contracts.Submission, err error) {
	ctx, done := m.tracker.TrackOperation(ctx, "submission.get", attribute.String("submission.id", id))
	defer func() { done(err) }()
	sub, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.State == contracts.StateExpired {
		return redactExpired(sub), nil
	}
	return sub, nil
}

func redactExpired(sub *contracts.Submission) *contracts.Submission {
	return &contracts.Submission{
		ID:               sub.ID,
		DefinitionID:     sub.DefinitionID,
		State:            sub.State,
		Fields:           map[string]any{},
		FieldAttribution: map[string]contracts.Actor{},
		UpdatedBy:        sub.UpdatedBy,
		CreatedAt:        sub.CreatedAt,
		UpdatedAt:        sub.UpdatedAt,
		ExpiresAt:        sub.ExpiresAt,
	}
}

// GetByToken resolves a resume token. An expired submission is reported as
// an expired error that discloses only its id.
func (m *Manager) GetByToken(ctx context.Context, token string) (_ *contracts.Submission, err error) {
	ctx, done := m.tracker.TrackOperation(ctx, "submission.get_by_token")
	defer func() { done(err) }()

	if token == "" {
		return nil, MissingInput(nil, "token", "a resume token is required")
	}
	sub, err := m.store.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("resume token")
	}
	if err != nil {
		return nil, fmt.Errorf("get submission by token: %w", err)
	}
	if sub, err = m.expireIfDue(ctx, sub); err != nil {
		return nil, err
	}
	if sub.State == contracts.StateExpired {
		return nil, expired(sub.ID)
	}
	return sub, nil
}

// load fetches id and applies lazy expiry.
func (m *Manager) load(ctx context.Context, id string) (*contracts.Submission, error) {
	if id == "" {
		return nil, MissingInput(nil, "submissionId", "a submission id is required")
	}
	sub, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, notFound("submission")
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	return m.expireIfDue(ctx, sub)
}

// expireIfDue persists the expired state when the TTL has elapsed. The
// token is kept so that its holder keeps receiving expired rather than a
// stale-token conflict. If the save loses a race the stored copy is
// re-read and checked again.
func (m *Manager) expireIfDue(ctx context.Context, sub *contracts.Submission) (*contracts.Submission, error) {
	for range 3 {
		now := m.clock()
		if sub.State.Terminal() || !sub.Expired(now) {
			return sub, nil
		}
		work := sub.Clone()
		work.State = contracts.StateExpired
		work.UpdatedBy = contracts.SystemActor
		work.UpdatedAt = now
		ev := m.event(work, contracts.EventSubmissionExpired, contracts.SystemActor, now,
			map[string]any{"expiresAt": sub.ExpiresAt.UTC().Format(time.RFC3339Nano), "from": string(sub.State)})
		work.Events = append(work.Events, ev)

		err := m.commit(ctx, sub, work, sub.VersionToken, ev)
		if err == nil {
			m.logger.InfoContext(ctx, "submission expired", "submission_id", sub.ID, "from", sub.State)
			m.notify(ctx, work, ev)
			return work, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		fresh, gerr := m.store.Get(ctx, sub.ID)
		if gerr != nil {
			return nil, fmt.Errorf("re-read submission %s after expiry race: %w", sub.ID, gerr)
		}
		sub = fresh
	}
	return nil, fmt.Errorf("expire submission %s: %w", sub.ID, ErrVersionConflict)
}

func (m *Manager) event(sub *contracts.Submission, typ contracts.EventType, actor contracts.Actor, at time.Time, payload map[string]any) contracts.Event {
	return contracts.Event{
		EventID:      ulid.MustNew(ulid.Timestamp(at), m.entropy).String(),
		Type:         typ,
		SubmissionID: sub.ID,
		Timestamp:    at,
		Actor:        actor,
		State:        sub.State,
		Payload:      payload,
	}
}

// normalizeFields normalises every path of fields and converts every value
// to the JSON data model, so that all stores round-trip them identically.
func normalizeFields(sub *contracts.Submission, fields map[string]any) (map[string]any, *Error) {
	out := make(map[string]any, len(fields))
	for path, v := range fields {
		p, err := validation.NormalizePath(path)
		if err != nil {
			return nil, InvalidInput(sub, path, err.Error())
		}
		nv, err := validation.NormalizeValue(v)
		if err != nil {
			return nil, InvalidInput(sub, p, "value is not representable as JSON")
		}
		out[p] = nv
	}
	return out, nil
}

// writeFields stores normalized into sub in path order and returns the
// change list for the field.updated payload.
func writeFields(sub *contracts.Submission, normalized map[string]any, actor contracts.Actor) []contracts.FieldChange {
	paths := make([]string, 0, len(normalized))
	for p := range normalized {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	changes := make([]contracts.FieldChange, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, contracts.FieldChange{Path: p, Previous: sub.Fields[p], Value: normalized[p]})
		sub.Fields[p] = normalized[p]
		sub.FieldAttribution[p] = actor
	}
	return changes
}
