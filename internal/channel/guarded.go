package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/auraops/relay/internal/breaker"
)

// Guarded wraps the sender registry with per-service circuit breaking. Every
// delivery path in the system (queue dispatch, fallback rerouting, follow-up
// sends) goes through here so a degraded provider is cut off uniformly.
type Guarded struct {
	registry *Registry
	breakers *breaker.Registry
	logger   *zap.Logger
}

// NewGuarded creates a breaker-guarded send facade.
func NewGuarded(registry *Registry, breakers *breaker.Registry, logger *zap.Logger) *Guarded {
	return &Guarded{
		registry: registry,
		breakers: breakers,
		logger:   logger,
	}
}

// Send delivers one message on the given channel, consulting the channel's
// circuit first. When the circuit is open the provider is never contacted and
// breaker.ErrCircuitOpen is returned; callers treat that as a retryable
// failure. Probe admission and outcome recording are handled here, so a
// successful call while half-open closes the circuit.
func (g *Guarded) Send(ctx context.Context, channelName, target, body string) (*Result, error) {
	sender, err := g.registry.Get(channelName)
	if err != nil {
		return nil, err
	}

	service := ServiceName(channelName)

	allowed, err := g.breakers.Allow(ctx, service)
	if err != nil {
		return nil, err
	}
	if !allowed {
		g.logger.Debug("send rejected by open circuit",
			zap.String("service", service),
			zap.String("channel", channelName),
		)
		return nil, breaker.ErrCircuitOpen
	}

	result, sendErr := sender.Send(ctx, target, body)
	if sendErr != nil {
		if rerr := g.breakers.RecordFailure(ctx, service); rerr != nil {
			g.logger.Error("failed to record circuit failure",
				zap.String("service", service),
				zap.Error(rerr),
			)
		}
		return nil, sendErr
	}

	if rerr := g.breakers.RecordSuccess(ctx, service); rerr != nil {
		g.logger.Error("failed to record circuit success",
			zap.String("service", service),
			zap.Error(rerr),
		)
	}
	return result, nil
}

// Breakers exposes the underlying circuit registry for stats reporting.
func (g *Guarded) Breakers() *breaker.Registry {
	return g.breakers
}
