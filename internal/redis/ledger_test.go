package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

func TestLedgerMarkAndCheck(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	processed, err := ledger.IsProcessed(ctx, "evt-1")
	if err != nil {
		t.Fatalf("IsProcessed() error = %v", err)
	}
	if processed {
		t.Error("unseen event should not be processed")
	}

	if err := ledger.MarkProcessed(ctx, "evt-1", 0); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	processed, err = ledger.IsProcessed(ctx, "evt-1")
	if err != nil {
		t.Fatalf("IsProcessed() error = %v", err)
	}
	if !processed {
		t.Error("marked event should be processed")
	}
}

func TestLedgerReserveClaimsOnce(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	claimed, err := ledger.Reserve(ctx, "evt-1", 0)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !claimed {
		t.Fatal("first reservation should succeed")
	}

	claimed, err = ledger.Reserve(ctx, "evt-1", 0)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if claimed {
		t.Error("second reservation of the same event must fail")
	}

	// A different event id is unaffected.
	claimed, err = ledger.Reserve(ctx, "evt-2", 0)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !claimed {
		t.Error("different event should claim independently")
	}
}

func TestLedgerReserveValueReturnsOriginal(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	stored, fresh, err := ledger.ReserveValue(ctx, "enqueue:key-1", "msg-1", 0)
	if err != nil {
		t.Fatalf("ReserveValue() error = %v", err)
	}
	if !fresh || stored != "msg-1" {
		t.Fatalf("first claim = (%q, %v), want (msg-1, true)", stored, fresh)
	}

	stored, fresh, err = ledger.ReserveValue(ctx, "enqueue:key-1", "msg-2", 0)
	if err != nil {
		t.Fatalf("ReserveValue() error = %v", err)
	}
	if fresh {
		t.Error("second claim of the same key must not be fresh")
	}
	if stored != "msg-1" {
		t.Errorf("stored value = %q, want original msg-1", stored)
	}
}

func TestLedgerReleaseReopensClaim(t *testing.T) {
	client, _ := newTestClient(t)
	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "evt-1", 0); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := ledger.Release(ctx, "evt-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	claimed, err := ledger.Reserve(ctx, "evt-1", 0)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !claimed {
		t.Error("released event should be claimable again")
	}
}

func TestLedgerEntriesExpire(t *testing.T) {
	client, mr := newTestClient(t)
	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	if _, err := ledger.Reserve(ctx, "evt-1", time.Minute); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	claimed, err := ledger.Reserve(ctx, "evt-1", time.Minute)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !claimed {
		t.Error("expired reservation should be claimable again")
	}
}

func TestLedgerDefaultTTL(t *testing.T) {
	client, mr := newTestClient(t)
	ledger := NewLedger(client, zap.NewNop())

	if err := ledger.MarkProcessed(context.Background(), "evt-1", 0); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	ttl := mr.TTL("events:evt-1")
	if ttl != LedgerTTL {
		t.Errorf("ttl = %v, want %v", ttl, LedgerTTL)
	}
}
