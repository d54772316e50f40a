package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LedgerTTL is how long a processed event id is remembered. 24 hours absorbs
// realistic retry storms from upstream senders without unbounded growth.
const LedgerTTL = 24 * time.Hour

// Ledger deduplicates externally-triggered events (payment webhooks and the
// like) using time-bounded keys. For any event id at most one state-mutating
// side effect is ever applied; a repeat is a no-op that still reads as success.
type Ledger struct {
	client *Client
	logger *zap.Logger
}

// NewLedger creates a new idempotency ledger.
func NewLedger(client *Client, logger *zap.Logger) *Ledger {
	return &Ledger{
		client: client,
		logger: logger,
	}
}

func (l *Ledger) buildKey(eventID string) string {
	return fmt.Sprintf("events:%s", eventID)
}

// IsProcessed reports whether the event id has already been handled.
func (l *Ledger) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := l.client.rdb.Get(ctx, l.buildKey(eventID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}

	l.logger.Debug("duplicate event absorbed",
		zap.String("event_id", eventID),
	)
	return true, nil
}

// MarkProcessed records the event id after its side effect has been applied.
// A zero ttl falls back to LedgerTTL.
func (l *Ledger) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = LedgerTTL
	}
	if err := l.client.rdb.Set(ctx, l.buildKey(eventID), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Reserve atomically claims an event id using SET NX. It returns false when
// the id is already held, which closes the race between two concurrent
// deliveries of the same event.
func (l *Ledger) Reserve(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = LedgerTTL
	}
	set, err := l.client.rdb.SetNX(ctx, l.buildKey(eventID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return set, nil
}

// ReserveValue claims an event id and stores value under it. When the id is
// already held it returns the previously stored value instead, so callers can
// answer a replay with the outcome of the first delivery.
func (l *Ledger) ReserveValue(ctx context.Context, eventID, value string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = LedgerTTL
	}
	key := l.buildKey(eventID)
	set, err := l.client.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if set {
		return value, true, nil
	}
	prev, err := l.client.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Key expired between SETNX and GET. Rare enough to treat as a
		// fresh claim on the caller's next attempt.
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return prev, false, nil
}

// Release drops a reservation so a later delivery of the same event id can be
// processed. Used when the side effect behind a claim could not be applied.
func (l *Ledger) Release(ctx context.Context, eventID string) error {
	if err := l.client.rdb.Del(ctx, l.buildKey(eventID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
