package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestRateLimiterAllowsUnderLimit(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "tenant:acme")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	result, err := limiter.Allow(ctx, "tenant:acme")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if result.Allowed {
		t.Error("request over the limit should be rejected")
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", result.Remaining)
	}
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	client, _ := newTestClient(t)
	limiter := NewRateLimiter(client, zap.NewNop(), RateLimitConfig{Limit: 1, Window: time.Minute})
	ctx := context.Background()

	if result, _ := limiter.Allow(ctx, "tenant:acme"); !result.Allowed {
		t.Fatal("first acme request should be allowed")
	}
	if result, _ := limiter.Allow(ctx, "tenant:acme"); result.Allowed {
		t.Error("second acme request should be rejected")
	}
	if result, _ := limiter.Allow(ctx, "tenant:globex"); !result.Allowed {
		t.Error("other tenant should be unaffected")
	}
}
