package breaker

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auraops/relay/internal/metrics"
)

// Stats is the operator-facing view of one circuit.
type Stats struct {
	Service             string    `json:"service"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
}

// Registry manages one circuit per downstream service, all sharing the same
// Config and Store. Service names are registered lazily on first use.
type Registry struct {
	cfg    Config
	store  Store
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	services map[string]struct{}
}

// NewRegistry creates a registry over the given store.
func NewRegistry(cfg Config, store Store, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		now:      time.Now,
		services: make(map[string]struct{}),
	}
}

func (r *Registry) track(service string) {
	r.mu.Lock()
	r.services[service] = struct{}{}
	r.mu.Unlock()
}

// Allow reports whether a call to the service may proceed. When an open
// circuit's reset timeout has elapsed the caller is admitted as the single
// half-open probe; the caller must report the outcome via RecordSuccess or
// RecordFailure.
func (r *Registry) Allow(ctx context.Context, service string) (bool, error) {
	r.track(service)

	var prev State
	snap, allowed, err := r.store.Apply(ctx, service, func(s Snapshot) (Snapshot, bool) {
		prev = s.State
		return allow(s, r.now(), r.cfg)
	})
	if err != nil {
		return false, err
	}

	metrics.SetCircuitState(service, int(snap.State))
	if prev == StateOpen && snap.State == StateHalfOpen {
		r.logger.Info("circuit breaker probing",
			zap.String("service", service),
		)
	}
	return allowed, nil
}

// RecordSuccess closes the service's circuit and resets its failure counter.
func (r *Registry) RecordSuccess(ctx context.Context, service string) error {
	r.track(service)

	var prev State
	snap, _, err := r.store.Apply(ctx, service, func(s Snapshot) (Snapshot, bool) {
		prev = s.State
		return recordSuccess(s), true
	})
	if err != nil {
		return err
	}

	metrics.SetCircuitState(service, int(snap.State))
	if prev != StateClosed && snap.State == StateClosed {
		r.logger.Info("circuit breaker closed",
			zap.String("service", service),
		)
	}
	return nil
}

// RecordFailure registers a failed call against the service's circuit.
func (r *Registry) RecordFailure(ctx context.Context, service string) error {
	r.track(service)

	var prev State
	snap, _, err := r.store.Apply(ctx, service, func(s Snapshot) (Snapshot, bool) {
		prev = s.State
		return recordFailure(s, r.now(), r.cfg), true
	})
	if err != nil {
		return err
	}

	metrics.SetCircuitState(service, int(snap.State))
	if prev != StateOpen && snap.State == StateOpen {
		r.logger.Warn("circuit breaker opened",
			zap.String("service", service),
			zap.Int("consecutive_failures", snap.ConsecutiveFailures),
		)
	}
	return nil
}

// Stats returns the current state of one circuit.
func (r *Registry) Stats(ctx context.Context, service string) (Stats, error) {
	snap, err := r.store.Get(ctx, service)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Service:             service,
		State:               snap.State.String(),
		ConsecutiveFailures: snap.ConsecutiveFailures,
		LastFailureAt:       snap.LastFailureAt,
	}, nil
}

// StatsAll returns the state of every circuit touched since startup, sorted
// by service name.
func (r *Registry) StatsAll(ctx context.Context) ([]Stats, error) {
	r.mu.Lock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)

	out := make([]Stats, 0, len(names))
	for _, name := range names {
		st, err := r.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
