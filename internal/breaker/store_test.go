package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

func TestRedisStoreApplyPersists(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	snap, decision, err := store.Apply(ctx, "twilio-whatsapp", func(s Snapshot) (Snapshot, bool) {
		s.ConsecutiveFailures = 3
		s.State = StateOpen
		return s, false
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if decision {
		t.Error("decision = true, want false")
	}
	if snap.ConsecutiveFailures != 3 || snap.State != StateOpen {
		t.Errorf("returned snapshot = %+v", snap)
	}

	got, err := store.Get(ctx, "twilio-whatsapp")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ConsecutiveFailures != 3 || got.State != StateOpen {
		t.Errorf("persisted snapshot = %+v", got)
	}
}

func TestRedisStoreGetMissingIsClosed(t *testing.T) {
	store := newRedisStore(t)

	snap, err := store.Get(context.Background(), "unknown-service")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if snap.State != StateClosed || snap.ConsecutiveFailures != 0 {
		t.Errorf("missing key snapshot = %+v, want zero value", snap)
	}
}

func TestRedisStoreRoundTripsTimestamps(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	failedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, _, err := store.Apply(ctx, "sns-sms", func(s Snapshot) (Snapshot, bool) {
		s.LastFailureAt = failedAt
		return s, true
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got, err := store.Get(ctx, "sns-sms")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.LastFailureAt.Equal(failedAt) {
		t.Errorf("LastFailureAt = %v, want %v", got.LastFailureAt, failedAt)
	}
}

func TestRegistryWithRedisStore(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(DefaultConfig(), store, zap.NewNop())
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if err := r.RecordFailure(ctx, "twilio-whatsapp"); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}

	allowed, err := r.Allow(ctx, "twilio-whatsapp")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("circuit should be open after 5 failures")
	}

	// A second registry over the same store sees the shared state.
	other := NewRegistry(DefaultConfig(), store, zap.NewNop())
	other.now = func() time.Time { return now }

	allowed, err = other.Allow(ctx, "twilio-whatsapp")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("circuit state should be shared across instances")
	}
}
