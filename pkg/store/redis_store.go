package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

// RedisStore implements submission.Store on Redis. Save watches the
// submission key, so a concurrent writer aborts the MULTI and the loser
// sees ErrVersionConflict.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps an existing client. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "intake"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis creates a client the way the rest of the process expects it.
func DialRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisStore) subKey(id string) string {
	return fmt.Sprintf("%s:submission:%s", s.prefix, id)
}

func (s *RedisStore) tokenKey(token string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, TokenDigest(token))
}

func (s *RedisStore) Get(ctx context.Context, id string) (*contracts.Submission, error) {
	data, err := s.client.Get(ctx, s.subKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, submission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSubmission(data)
}

func (s *RedisStore) GetByToken(ctx context.Context, token string) (*contracts.Submission, error) {
	id, err := s.client.Get(ctx, s.tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, submission.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// The index may briefly point at a rotated token.
	if sub.VersionToken != token {
		return nil, submission.ErrNotFound
	}
	return sub, nil
}

func (s *RedisStore) Save(ctx context.Context, sub *contracts.Submission, expectedToken string) error {
	doc, err := encodeSubmission(sub)
	if err != nil {
		return err
	}
	key := s.subKey(sub.ID)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		switch {
		case errors.Is(err, redis.Nil):
			exists = false
		case err != nil:
			return err
		}
		if exists != (expectedToken != "") {
			return submission.ErrVersionConflict
		}
		if exists {
			stored, err := decodeSubmission(current)
			if err != nil {
				return err
			}
			if stored.VersionToken != expectedToken {
				return submission.ErrVersionConflict
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			if exists {
				pipe.Del(ctx, s.tokenKey(expectedToken))
			}
			pipe.Set(ctx, s.tokenKey(sub.VersionToken), sub.ID, 0)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return submission.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, submission.ErrVersionConflict) {
		return fmt.Errorf("failed to save submission %s: %w", sub.ID, err)
	}
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id, expectedToken string) error {
	key := s.subKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return submission.ErrVersionConflict
		}
		if err != nil {
			return err
		}
		stored, err := decodeSubmission(current)
		if err != nil {
			return err
		}
		if stored.VersionToken != expectedToken {
			return submission.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key, s.tokenKey(expectedToken))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return submission.ErrVersionConflict
	}
	if err != nil && !errors.Is(err, submission.ErrVersionConflict) {
		return fmt.Errorf("failed to delete submission %s: %w", id, err)
	}
	return err
}

// ListDeliverable scans for submitted and approved submissions.
func (s *RedisStore) ListDeliverable(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.subKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		sub, err := decodeSubmission(data)
		if err != nil {
			return nil, err
		}
		if deliverable(sub.State) {
			ids = append(ids, sub.ID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan submissions: %w", err)
	}
	return ids, nil
}
