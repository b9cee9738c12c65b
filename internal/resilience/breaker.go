// Package resilience wraps fallible calls with circuit breaking and
// bounded-backoff retries.
package resilience

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/iwsa-dev/iwsa/internal/types"
)

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tracked failures that
	// trips the breaker from closed to open.
	FailureThreshold uint32

	// RecoveryTimeout is how long the breaker stays open before allowing
	// a single half-open trial call.
	RecoveryTimeout time.Duration

	// Tracked decides whether an error counts against the breaker.
	// Untracked errors propagate without a state change. Nil tracks all.
	Tracked func(error) bool
}

// DefaultBreakerConfig mirrors the orchestrator defaults: three consecutive
// failures open the circuit for five minutes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  5 * time.Minute,
	}
}

// Breaker is a tri-state (closed/open/half-open) wrapper around a fallible
// call, backed by sony/gobreaker.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	tracked func(error) bool
}

// NewBreaker creates a named breaker.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	b := &Breaker{tracked: cfg.Tracked}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // one trial call in half-open
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if b.tracked != nil && !b.tracked(err) {
				// Untracked errors must not move the state machine.
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(st)
	return b
}

// Call executes fn under the breaker. When the breaker is open it fails
// fast with types.ErrCircuitOpen without invoking fn.
func (b *Breaker) Call(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, types.ErrCircuitOpen
	}
	return result, err
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the breaker state as a lowercase string.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}
