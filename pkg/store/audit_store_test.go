package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

var auditBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testEvent(id, sub string, typ contracts.EventType, offset time.Duration) contracts.Event {
	return contracts.Event{
		EventID:      id,
		Type:         typ,
		SubmissionID: sub,
		Timestamp:    auditBase.Add(offset),
		Actor:        contracts.Actor{Kind: contracts.ActorAgent, ID: "agent-1"},
		State:        contracts.StateInProgress,
		Payload:      map[string]any{"action": "set_fields"},
	}
}

func TestAuditLog_Append(t *testing.T) {
	log := NewAuditLog()
	ctx := context.Background()

	if err := log.Append(ctx, testEvent("e1", "s1", contracts.EventSubmissionCreated, 0)); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
	entry, err := log.Get("e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", entry.Sequence)
	}
	if entry.PreviousHash != "genesis" {
		t.Errorf("expected genesis as first previous hash, got %s", entry.PreviousHash)
	}
	if log.Head("s1") != entry.EntryHash {
		t.Errorf("expected head %q, got %q", entry.EntryHash, log.Head("s1"))
	}
	if log.Head("unknown") != "genesis" {
		t.Errorf("expected genesis head for unknown submission")
	}
}

func TestAuditLog_ChainsPerSubmission(t *testing.T) {
	log := NewAuditLog()
	ctx := context.Background()

	_ = log.Append(ctx, testEvent("a1", "s1", contracts.EventSubmissionCreated, 0))
	_ = log.Append(ctx, testEvent("b1", "s2", contracts.EventSubmissionCreated, time.Second))
	_ = log.Append(ctx, testEvent("a2", "s1", contracts.EventFieldUpdated, 2*time.Second))

	a1, _ := log.Get("a1")
	b1, _ := log.Get("b1")
	a2, _ := log.Get("a2")

	if a2.PreviousHash != a1.EntryHash {
		t.Error("a2 should link to a1")
	}
	if b1.PreviousHash != "genesis" {
		t.Error("s2 should start its own chain")
	}
	if a2.Sequence != 3 {
		t.Errorf("expected global sequence 3, got %d", a2.Sequence)
	}
	if err := log.VerifyChain(); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func TestAuditLog_DuplicateEventRejected(t *testing.T) {
	log := NewAuditLog()
	ctx := context.Background()
	ev := testEvent("e1", "s1", contracts.EventSubmissionCreated, 0)

	if err := log.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	err := log.Append(ctx, ev)
	if !errors.Is(err, ErrMutationAttempt) {
		t.Fatalf("expected ErrMutationAttempt, got %v", err)
	}
	if log.Size() != 1 {
		t.Errorf("expected 1 entry, got %d", log.Size())
	}
}

func TestAuditLog_TamperDetected(t *testing.T) {
	log := NewAuditLog()
	ctx := context.Background()
	_ = log.Append(ctx, testEvent("e1", "s1", contracts.EventSubmissionCreated, 0))
	_ = log.Append(ctx, testEvent("e2", "s1", contracts.EventFieldUpdated, time.Second))

	entry, _ := log.Get("e1")
	entry.Event.Payload = map[string]any{"action": "forged"}

	err := log.VerifyChain()
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
}

func TestAuditLog_Query(t *testing.T) {
	log := NewAuditLog()
	ctx := context.Background()
	_ = log.Append(ctx, testEvent("e1", "s1", contracts.EventSubmissionCreated, 0))
	_ = log.Append(ctx, testEvent("e2", "s1", contracts.EventFieldUpdated, time.Minute))
	_ = log.Append(ctx, testEvent("e3", "s2", contracts.EventSubmissionCreated, 2*time.Minute))
	_ = log.Append(ctx, testEvent("e4", "s1", contracts.EventFieldUpdated, 3*time.Minute))

	if got := log.Query(QueryFilter{SubmissionID: "s1"}); len(got) != 3 {
		t.Errorf("expected 3 entries for s1, got %d", len(got))
	}
	if got := log.Query(QueryFilter{Type: contracts.EventFieldUpdated}); len(got) != 2 {
		t.Errorf("expected 2 field.updated entries, got %d", len(got))
	}
	start := auditBase.Add(30 * time.Second)
	end := auditBase.Add(150 * time.Second)
	got := log.Query(QueryFilter{StartTime: &start, EndTime: &end})
	if len(got) != 2 || got[0].Event.EventID != "e2" || got[1].Event.EventID != "e3" {
		t.Errorf("unexpected time window result: %d entries", len(got))
	}
	if got := log.Query(QueryFilter{MaxResults: 1}); len(got) != 1 {
		t.Errorf("expected MaxResults to cap at 1, got %d", len(got))
	}
}

func TestAuditLog_Handlers(t *testing.T) {
	log := NewAuditLog()
	var seen []string
	log.AddHandler(func(e *AuditEntry) { seen = append(seen, e.Event.EventID) })

	_ = log.Append(context.Background(), testEvent("e1", "s1", contracts.EventSubmissionCreated, 0))
	if len(seen) != 1 || seen[0] != "e1" {
		t.Errorf("handler not called: %v", seen)
	}
}

func TestAuditLog_ExportAndVerifyBundle(t *testing.T) {
	log := NewAuditLog().WithClock(func() time.Time { return auditBase })
	ctx := context.Background()
	_ = log.Append(ctx, testEvent("e1", "s1", contracts.EventSubmissionCreated, 0))
	_ = log.Append(ctx, testEvent("x1", "s2", contracts.EventSubmissionCreated, time.Second))
	_ = log.Append(ctx, testEvent("e2", "s1", contracts.EventFieldUpdated, 2*time.Second))

	bundle, err := log.ExportBundle("s1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if bundle.EntryCount != 2 {
		t.Errorf("expected 2 entries, got %d", bundle.EntryCount)
	}
	if bundle.ChainHead != log.Head("s1") {
		t.Error("bundle head should match the log head")
	}
	if !bundle.CreatedAt.Equal(auditBase) {
		t.Errorf("unexpected created_at %v", bundle.CreatedAt)
	}
	if err := VerifyBundle(bundle); err != nil {
		t.Fatalf("bundle should verify: %v", err)
	}

	bundle.Entries = bundle.Entries[1:]
	if err := VerifyBundle(bundle); err == nil {
		t.Error("truncated bundle should not verify")
	}

	if _, err := log.ExportBundle("missing"); err == nil {
		t.Error("expected error exporting an unknown submission")
	}
}
