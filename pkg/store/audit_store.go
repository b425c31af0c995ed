package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/intake/pkg/canonicalize"
	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

var (
	ErrEntryNotFound   = errors.New("entry not found")
	ErrChainBroken     = errors.New("hash chain is broken")
	ErrMutationAttempt = errors.New("mutation of existing entry attempted")
)

const genesis = "genesis"

// AuditEntry wraps one lifecycle event in the audit log. Each submission
// has its own hash chain, so a single submission's history can be exported
// and verified on its own.
type AuditEntry struct {
	Sequence     uint64          `json:"sequence"`
	Event        contracts.Event `json:"event"`
	EventHash    string          `json:"event_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// AuditLog is an append-only, hash-chained submission.EventSink.
type AuditLog struct {
	mu       sync.RWMutex
	entries  []*AuditEntry
	byEvent  map[string]*AuditEntry
	heads    map[string]string // submission id -> latest entry hash
	sequence uint64
	handlers []EntryHandler
	clock    func() time.Time
}

// EntryHandler is called when new entries are appended.
type EntryHandler func(entry *AuditEntry)

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{
		byEvent: make(map[string]*AuditEntry),
		heads:   make(map[string]string),
		clock:   time.Now,
	}
}

// WithClock overrides the clock used for bundle timestamps.
func (l *AuditLog) WithClock(clock func() time.Time) *AuditLog {
	l.clock = clock
	return l
}

// Append records ev. Re-appending an event id is refused.
func (l *AuditLog) Append(_ context.Context, ev contracts.Event) error {
	eventHash, err := canonicalize.CanonicalHash(ev)
	if err != nil {
		return fmt.Errorf("failed to hash event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.byEvent[ev.EventID]; dup {
		return fmt.Errorf("%w: event %s", ErrMutationAttempt, ev.EventID)
	}
	prev, ok := l.heads[ev.SubmissionID]
	if !ok {
		prev = genesis
	}
	entry := &AuditEntry{
		Sequence:     l.sequence + 1,
		Event:        ev,
		EventHash:    eventHash,
		PreviousHash: prev,
	}
	entry.EntryHash, err = entryHash(entry)
	if err != nil {
		return fmt.Errorf("failed to compute entry hash: %w", err)
	}

	l.sequence++
	l.entries = append(l.entries, entry)
	l.byEvent[ev.EventID] = entry
	l.heads[ev.SubmissionID] = entry.EntryHash

	for _, h := range l.handlers {
		h(entry)
	}
	return nil
}

func entryHash(e *AuditEntry) (string, error) {
	return canonicalize.CanonicalHash(struct {
		Sequence     uint64 `json:"sequence"`
		SubmissionID string `json:"submission_id"`
		EventHash    string `json:"event_hash"`
		PreviousHash string `json:"previous_hash"`
	}{e.Sequence, e.Event.SubmissionID, e.EventHash, e.PreviousHash})
}

// Get retrieves the entry for an event id.
func (l *AuditLog) Get(eventID string) (*AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.byEvent[eventID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// Head returns the chain head of a submission, or "genesis".
func (l *AuditLog) Head(submissionID string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.heads[submissionID]; ok {
		return h
	}
	return genesis
}

// Query returns entries matching the filter in append order.
func (l *AuditLog) Query(filter QueryFilter) []*AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]*AuditEntry, 0)
	for _, e := range l.entries {
		if filter.matches(e) {
			results = append(results, e)
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// QueryFilter defines filtering criteria for queries.
type QueryFilter struct {
	SubmissionID string
	Type         contracts.EventType
	StartTime    *time.Time
	EndTime      *time.Time
	MaxResults   int
}

func (f QueryFilter) matches(e *AuditEntry) bool {
	if f.SubmissionID != "" && e.Event.SubmissionID != f.SubmissionID {
		return false
	}
	if f.Type != "" && e.Event.Type != f.Type {
		return false
	}
	if f.StartTime != nil && e.Event.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Event.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// VerifyChain re-hashes every entry and checks each submission's links.
func (l *AuditLog) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expected := make(map[string]string)
	for i, e := range l.entries {
		prev, ok := expected[e.Event.SubmissionID]
		if !ok {
			prev = genesis
		}
		if err := verifyEntry(e, prev); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		expected[e.Event.SubmissionID] = e.EntryHash
	}
	return nil
}

func verifyEntry(e *AuditEntry, prev string) error {
	if e.PreviousHash != prev {
		return fmt.Errorf("%w: previous_hash %s but expected %s", ErrChainBroken, e.PreviousHash, prev)
	}
	eventHash, err := canonicalize.CanonicalHash(e.Event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChainBroken, err)
	}
	if eventHash != e.EventHash {
		return fmt.Errorf("%w: event %s was modified", ErrChainBroken, e.Event.EventID)
	}
	computed, err := entryHash(e)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChainBroken, err)
	}
	if computed != e.EntryHash {
		return fmt.Errorf("%w: entry hash mismatch (computed %s, stored %s)", ErrChainBroken, computed, e.EntryHash)
	}
	return nil
}

// AddHandler registers a handler for new entries.
func (l *AuditLog) AddHandler(h EntryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Size returns the number of entries.
func (l *AuditLog) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// AuditBundle is the exportable, self-verifying history of one submission.
type AuditBundle struct {
	BundleID     string        `json:"bundle_id"`
	Version      string        `json:"version"`
	SubmissionID string        `json:"submission_id"`
	CreatedAt    time.Time     `json:"created_at"`
	EntryCount   int           `json:"entry_count"`
	Entries      []*AuditEntry `json:"entries"`
	ChainHead    string        `json:"chain_head"`
	BundleHash   string        `json:"bundle_hash"`
}

// ExportBundle exports the complete chain of one submission.
func (l *AuditLog) ExportBundle(submissionID string) (*AuditBundle, error) {
	return NewBundle(submissionID, l.Query(QueryFilter{SubmissionID: submissionID}), l.clock())
}

// NewBundle assembles a bundle from a submission's entries in chain order.
func NewBundle(submissionID string, entries []*AuditEntry, now time.Time) (*AuditBundle, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no audit entries for submission %s", submissionID)
	}
	hash, err := canonicalize.CanonicalHash(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bundle entries: %w", err)
	}
	return &AuditBundle{
		BundleID:     uuid.NewString(),
		Version:      "1.0.0",
		SubmissionID: submissionID,
		CreatedAt:    now.UTC(),
		EntryCount:   len(entries),
		Entries:      entries,
		ChainHead:    entries[len(entries)-1].EntryHash,
		BundleHash:   hash,
	}, nil
}

// VerifyBundle checks the bundle hash and the full chain from genesis.
func VerifyBundle(b *AuditBundle) error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("bundle is empty")
	}
	hash, err := canonicalize.CanonicalHash(b.Entries)
	if err != nil {
		return err
	}
	if hash != b.BundleHash {
		return fmt.Errorf("bundle hash mismatch")
	}
	prev := genesis
	for i, e := range b.Entries {
		if e.Event.SubmissionID != b.SubmissionID {
			return fmt.Errorf("entry %d belongs to submission %s", i, e.Event.SubmissionID)
		}
		if err := verifyEntry(e, prev); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		prev = e.EntryHash
	}
	if prev != b.ChainHead {
		return fmt.Errorf("%w: chain head mismatch", ErrChainBroken)
	}
	return nil
}
