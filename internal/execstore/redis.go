package execstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces execution records in the shared keyspace.
const keyPrefix = "execution:"

// RedisStore is the shared execution-record tier. Records are stored as JSON
// under execution:<id> with a bounded TTL so results never accumulate.
//
// Concurrent writers to the same record are tolerated: progress fields are
// last-writer-wins, and terminal stickiness is enforced by re-reading the
// record before every transition.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	flags  *cancelFlags
}

// NewRedisStore creates the shared tier on the given client. The client may
// be a single-node or cluster client; REDIS_CLUSTER_MODE decides which one
// the caller builds.
func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		flags:  newCancelFlags(),
	}
}

func recordKey(id string) string {
	return keyPrefix + id
}

// Init implements Store.
func (s *RedisStore) Init(ctx context.Context, id, userID string) error {
	payload, err := json.Marshal(newRecord(id, userID))
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, recordKey(id), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	payload, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode execution record: %w", err)
	}
	return &rec, nil
}

// mutate reads, transforms and rewrites a record, preserving the remaining
// TTL. A nil return from fn skips the write.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*Record) *Record) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	updated := fn(rec)
	if updated == nil {
		return nil
	}
	payload, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(id), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to write execution record: %w", err)
	}
	return nil
}

// UpdateProgress implements Store.
func (s *RedisStore) UpdateProgress(ctx context.Context, id string, current, total int, text string) error {
	err := s.mutate(ctx, id, func(rec *Record) *Record {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Progress = Progress{
			CurrentStatement:     current,
			TotalStatements:      total,
			CurrentStatementText: text,
		}
		return rec
	})
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// SavePartial implements Store.
func (s *RedisStore) SavePartial(ctx context.Context, id string, result json.RawMessage) error {
	return s.mutate(ctx, id, func(rec *Record) *Record {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Result = result
		return rec
	})
}

// Complete implements Store.
func (s *RedisStore) Complete(ctx context.Context, id string, result json.RawMessage, success bool) error {
	return s.mutate(ctx, id, func(rec *Record) *Record {
		if rec.Status == StatusCancelled {
			// Cancelled sticks; still record the partial result for operators.
			rec.Result = result
			return rec
		}
		if rec.Status.Terminal() {
			return nil
		}
		if success {
			rec.Status = StatusCompleted
		} else {
			rec.Status = StatusFailed
		}
		rec.Result = result
		rec.EndTime = time.Now().UnixMilli()
		return rec
	})
}

// Fail implements Store.
func (s *RedisStore) Fail(ctx context.Context, id, errorMessage string) error {
	return s.mutate(ctx, id, func(rec *Record) *Record {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Status = StatusFailed
		rec.Error = errorMessage
		rec.EndTime = time.Now().UnixMilli()
		return rec
	})
}

// MarkCancelled implements Store.
func (s *RedisStore) MarkCancelled(ctx context.Context, id string) error {
	s.flags.set(id)
	return s.mutate(ctx, id, func(rec *Record) *Record {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Status = StatusCancelled
		rec.EndTime = time.Now().UnixMilli()
		return rec
	})
}

// IsCancelled implements Store. The local flag short-circuits; otherwise the
// shared record is consulted so cancels from other replicas are observed.
func (s *RedisStore) IsCancelled(ctx context.Context, id string) bool {
	if s.flags.isSet(id) {
		return true
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return false
	}
	if rec.Status == StatusCancelled {
		s.flags.set(id)
		return true
	}
	return false
}

var _ Store = (*RedisStore)(nil)
