// Package breaker implements per-service circuit breaking for the downstream
// transport providers. The state machine is a pure function of
// (snapshot, event); it is applied through a Store's compare-and-set
// operation so that every process instance shares the same view of a
// provider's health.
package breaker

import (
	"errors"
	"time"
)

// State represents the current state of a circuit.
//
// State transitions:
//
//	Closed -> Open:      threshold consecutive failures
//	Open -> HalfOpen:    reset timeout elapsed since the last failure
//	HalfOpen -> Closed:  the probe call succeeds
//	HalfOpen -> Open:    the probe call fails
type State int

const (
	StateClosed   State = iota // Normal operation - calls pass through
	StateOpen                  // Circuit tripped - calls rejected locally
	StateHalfOpen              // Recovery probe - exactly one trial call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a circuit is rejecting calls to protect a
// degraded downstream service. Callers must treat it as an immediate failure
// without attempting the network call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds the shared circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures before a
	// circuit opens. Any success resets the counter.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects calls before a
	// single half-open probe is allowed through.
	ResetTimeout time.Duration
}

// DefaultConfig returns the production parameters: 5 consecutive failures to
// open, 30 seconds before probing.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Snapshot is the persisted per-service circuit state.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
}

// allow decides whether a call may proceed and returns the (possibly
// transitioned) snapshot. An open circuit whose reset timeout has elapsed
// moves to half-open and admits the caller as the probe; a circuit already
// half-open rejects everyone else until the probe's outcome is recorded.
func allow(snap Snapshot, now time.Time, cfg Config) (Snapshot, bool) {
	switch snap.State {
	case StateClosed:
		return snap, true
	case StateOpen:
		if now.Sub(snap.LastFailureAt) >= cfg.ResetTimeout {
			snap.State = StateHalfOpen
			return snap, true
		}
		return snap, false
	case StateHalfOpen:
		return snap, false
	default:
		return snap, false
	}
}

// recordSuccess resets the failure counter and closes the circuit. A
// successful half-open probe means the service has recovered.
func recordSuccess(snap Snapshot) Snapshot {
	snap.ConsecutiveFailures = 0
	snap.State = StateClosed
	return snap
}

// recordFailure bumps the consecutive failure counter. In closed state the
// circuit opens at the threshold; a failed half-open probe re-opens it.
func recordFailure(snap Snapshot, now time.Time, cfg Config) Snapshot {
	snap.ConsecutiveFailures++
	snap.LastFailureAt = now

	switch snap.State {
	case StateClosed:
		if snap.ConsecutiveFailures >= cfg.FailureThreshold {
			snap.State = StateOpen
		}
	case StateHalfOpen:
		snap.State = StateOpen
	}
	return snap
}
