package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// BadgerStore implements submission.Store on an embedded Badger database.
// Badger transactions are optimistic: if another transaction committed a
// write to a key this one read, Commit fails with badger.ErrConflict.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens a Badger database in dir, or in memory when dir is empty.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func badgerSubKey(id string) []byte { return []byte("submission/" + id) }

func badgerTokenKey(token string) []byte { return []byte("token/" + TokenDigest(token)) }

func (s *BadgerStore) Get(_ context.Context, id string) (*contracts.Submission, error) {
	var sub *contracts.Submission
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		sub, err = readSubmission(txn, id)
		return err
	})
	return sub, err
}

func (s *BadgerStore) GetByToken(_ context.Context, token string) (*contracts.Submission, error) {
	var sub *contracts.Submission
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerTokenKey(token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return submission.ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		sub, err = readSubmission(txn, string(id))
		return err
	})
	return sub, err
}

func readSubmission(txn *badger.Txn, id string) (*contracts.Submission, error) {
	item, err := txn.Get(badgerSubKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, submission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeSubmission(data)
}

func (s *BadgerStore) Save(_ context.Context, sub *contracts.Submission, expectedToken string) error {
	doc, err := encodeSubmission(sub)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := readSubmission(txn, sub.ID)
		exists := err == nil
		if err != nil && !errors.Is(err, submission.ErrNotFound) {
			return err
		}
		if exists != (expectedToken != "") {
			return submission.ErrVersionConflict
		}
		if exists {
			if current.VersionToken != expectedToken {
				return submission.ErrVersionConflict
			}
			if err := txn.Delete(badgerTokenKey(expectedToken)); err != nil {
				return err
			}
		}
		if err := txn.Set(badgerSubKey(sub.ID), doc); err != nil {
			return err
		}
		return txn.Set(badgerTokenKey(sub.VersionToken), []byte(sub.ID))
	})
	if errors.Is(err, badger.ErrConflict) {
		return submission.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, submission.ErrVersionConflict) {
		return fmt.Errorf("failed to save submission %s: %w", sub.ID, err)
	}
	return err
}

func (s *BadgerStore) Delete(_ context.Context, id, expectedToken string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		current, err := readSubmission(txn, id)
		if errors.Is(err, submission.ErrNotFound) {
			return submission.ErrVersionConflict
		}
		if err != nil {
			return err
		}
		if current.VersionToken != expectedToken {
			return submission.ErrVersionConflict
		}
		if err := txn.Delete(badgerTokenKey(expectedToken)); err != nil {
			return err
		}
		return txn.Delete(badgerSubKey(id))
	})
	if errors.Is(err, badger.ErrConflict) {
		return submission.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, submission.ErrVersionConflict) {
		return fmt.Errorf("failed to delete submission %s: %w", id, err)
	}
	return err
}

// ListDeliverable iterates the submissions for submitted and approved ones.
func (s *BadgerStore) ListDeliverable(_ context.Context) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerSubKey("")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			sub, err := decodeSubmission(data)
			if err != nil {
				return err
			}
			if deliverable(sub.State) {
				ids = append(ids, sub.ID)
			}
		}
		return nil
	})
	return ids, err
}
