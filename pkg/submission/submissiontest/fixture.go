// Package submissiontest wires a submission manager over in-memory
// collaborators for tests of this and dependent packages.
package submissiontest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/schema"
	"github.com/Mindburn-Labs/intake/pkg/store"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// Contact requires a non-empty name and an email.
const Contact = `
id: contact
ttl: 1h
field_order: [name, email]
schema:
  type: object
  required: [name]
  properties:
    name: {type: string, minLength: 1}
    email: {type: string, format: email}
`

// Profile requires a name and a nine digit tax id.
const Profile = `
id: profile
field_order: [name, tax_id]
schema:
  type: object
  required: [name, tax_id]
  properties:
    name: {type: string, minLength: 1}
    tax_id: {type: string, pattern: "^[0-9]{9}$"}
`

// KYC is Profile behind a mandatory approval gate.
const KYC = `
id: kyc
version: 1.0.0
field_order: [name, tax_id, passport]
file_fields: [passport]
approval:
  required: true
  reviewers: [compliance]
  review_url: https://review.example.com/kyc
schema:
  type: object
  required: [name, tax_id]
  properties:
    name: {type: string, minLength: 1}
    tax_id: {type: string, pattern: "^[0-9]{9}$"}
    passport: {type: string}
`

// Start is the fixture clock's initial time.
var Start = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

var (
	Agent    = contracts.Actor{Kind: contracts.ActorAgent, ID: "agent-1", Name: "intake bot"}
	Agent2   = contracts.Actor{Kind: contracts.ActorAgent, ID: "agent-2"}
	Human    = contracts.Actor{Kind: contracts.ActorHuman, ID: "user-7", Name: "Ada"}
	Reviewer = contracts.Actor{Kind: contracts.ActorHuman, ID: "reviewer-1", Name: "Grace"}
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sink is the audit log with switchable failure injection.
type Sink struct {
	*store.AuditLog
	fail atomic.Bool
}

var ErrSinkDown = errors.New("sink unavailable")

// FailNext makes every Append fail until Recover is called.
func (s *Sink) FailNext() { s.fail.Store(true) }

func (s *Sink) Recover() { s.fail.Store(false) }

func (s *Sink) Append(ctx context.Context, ev contracts.Event) error {
	if s.fail.Load() {
		return ErrSinkDown
	}
	return s.AuditLog.Append(ctx, ev)
}

// Fixture bundles a manager with its collaborators.
type Fixture struct {
	Manager  *submission.Manager
	Store    *store.MemoryStore
	Sink     *Sink
	Registry *schema.Registry
	Clock    *Clock
}

// New builds a fixture with the Contact, Profile and KYC definitions.
func New(t testing.TB, opts ...submission.Option) *Fixture {
	t.Helper()
	reg := schema.NewRegistry()
	for _, doc := range []string{Contact, Profile, KYC} {
		def, err := schema.Parse([]byte(doc))
		require.NoError(t, err)
		require.NoError(t, reg.Register(def))
	}
	f := &Fixture{
		Store:    store.NewMemoryStore(),
		Sink:     &Sink{AuditLog: store.NewAuditLog()},
		Registry: reg,
		Clock:    &Clock{now: Start},
	}
	all := append([]submission.Option{submission.WithClock(f.Clock.Now)}, opts...)
	f.Manager = submission.NewManager(f.Store, f.Sink, reg, all...)
	return f
}

// Create starts a submission and fails the test on error.
func (f *Fixture) Create(t testing.TB, definitionID string, fields map[string]any) *contracts.Submission {
	t.Helper()
	sub, err := f.Manager.Create(context.Background(), definitionID, fields, Agent, 0)
	require.NoError(t, err)
	return sub
}

// Submitted returns a submission of definitionID that has passed Submit.
func (f *Fixture) Submitted(t testing.TB, definitionID string) *contracts.Submission {
	t.Helper()
	sub := f.Create(t, definitionID, map[string]any{"name": "Ada Lovelace", "tax_id": "123456789"})
	sub, err := f.Manager.Submit(context.Background(), sub.ID, sub.VersionToken, Agent)
	require.NoError(t, err)
	return sub
}

// EventTypes lists the sink's events for a submission in order.
func (f *Fixture) EventTypes(id string) []contracts.EventType {
	entries := f.Sink.Query(store.QueryFilter{SubmissionID: id})
	types := make([]contracts.EventType, len(entries))
	for i, e := range entries {
		types[i] = e.Event.Type
	}
	return types
}

// RequireError asserts err is a call-outcome error of the given type.
func RequireError(t testing.TB, err error, typ contracts.ErrorType) *submission.Error {
	t.Helper()
	require.Error(t, err)
	se, ok := submission.AsError(err)
	require.True(t, ok, "expected *submission.Error, got %T: %v", err, err)
	require.Equal(t, typ, se.Type, se.Message)
	return se
}
