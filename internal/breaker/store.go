package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists per-service circuit snapshots and applies transitions
// atomically: fn receives the current snapshot and returns the next one plus
// a decision bit, and the swap only lands if the snapshot was not changed
// concurrently.
type Store interface {
	Apply(ctx context.Context, service string, fn func(Snapshot) (Snapshot, bool)) (Snapshot, bool, error)
	Get(ctx context.Context, service string) (Snapshot, error)
}

// MemoryStore keeps circuit state in-process. Suitable for tests and
// single-instance deployments; horizontally scaled deployments should use
// RedisStore so all instances share one view of provider health.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (s *MemoryStore) Apply(ctx context.Context, service string, fn func(Snapshot) (Snapshot, bool)) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, decision := fn(s.snaps[service])
	s.snaps[service] = next
	return next, decision, nil
}

func (s *MemoryStore) Get(ctx context.Context, service string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[service], nil
}

const applyMaxRetries = 5

// RedisStore keeps circuit state in Redis, one JSON snapshot per service,
// swapped under WATCH/MULTI so concurrent writers from different instances
// cannot clobber each other's transitions.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a store backed by the given Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) key(service string) string {
	return fmt.Sprintf("breaker:%s", service)
}

func (s *RedisStore) Apply(ctx context.Context, service string, fn func(Snapshot) (Snapshot, bool)) (Snapshot, bool, error) {
	key := s.key(service)

	var out Snapshot
	var decision bool

	txf := func(tx *redis.Tx) error {
		var snap Snapshot

		val, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("redis get failed: %w", err)
		}
		if err == nil {
			if uerr := json.Unmarshal([]byte(val), &snap); uerr != nil {
				// Corrupt snapshot: start from a fresh closed circuit.
				snap = Snapshot{}
			}
		}

		next, dec := fn(snap)
		out, decision = next, dec

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < applyMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return out, decision, nil
		}
		if err == redis.TxFailedErr {
			continue // lost the race, re-read and retry
		}
		return Snapshot{}, false, err
	}

	return Snapshot{}, false, fmt.Errorf("circuit state contention on %s", service)
}

func (s *RedisStore) Get(ctx context.Context, service string) (Snapshot, error) {
	val, err := s.rdb.Get(ctx, s.key(service)).Result()
	if err == redis.Nil {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get failed: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}
