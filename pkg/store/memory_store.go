package store

import (
	"context"
	"sync"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// MemoryStore is the reference submission.Store. A single mutex makes the
// token check and the write one atomic step.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*contracts.Submission
	byToken map[string]string // token digest -> id
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*contracts.Submission),
		byToken: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*contracts.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.byID[id]
	if !ok {
		return nil, submission.ErrNotFound
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) GetByToken(_ context.Context, token string) (*contracts.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[TokenDigest(token)]
	if !ok {
		return nil, submission.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, sub *contracts.Submission, expectedToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.byID[sub.ID]
	switch {
	case expectedToken == "" && exists:
		return submission.ErrVersionConflict
	case expectedToken != "" && (!exists || current.VersionToken != expectedToken):
		return submission.ErrVersionConflict
	}
	if exists {
		delete(s.byToken, TokenDigest(current.VersionToken))
	}
	s.byID[sub.ID] = sub.Clone()
	s.byToken[TokenDigest(sub.VersionToken)] = sub.ID
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id, expectedToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.byID[id]
	if !exists || current.VersionToken != expectedToken {
		return submission.ErrVersionConflict
	}
	delete(s.byToken, TokenDigest(current.VersionToken))
	delete(s.byID, id)
	return nil
}

// Len returns the number of stored submissions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
