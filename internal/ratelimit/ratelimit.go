// Package ratelimit provides token-bucket pacing keyed by logical channel.
// A channel is a backend name for LLM calls or a domain for page requests.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Registry holds one token bucket per logical channel.
type Registry struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate rate.Limit
	logger      *slog.Logger
}

// NewRegistry creates a registry. Channels acquired before SetRate use
// defaultPerSecond as their refill rate.
func NewRegistry(defaultPerSecond float64, logger *slog.Logger) *Registry {
	return &Registry{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: rate.Limit(defaultPerSecond),
		logger:      logger.With("component", "rate_limiter"),
	}
}

// Acquire blocks until the channel has a token, then consumes one.
// Burst is 1, so the minimum inter-call interval is 1/rate.
func (r *Registry) Acquire(ctx context.Context, channel string) error {
	return r.limiter(channel).Wait(ctx)
}

// Allow reports whether a token is available without blocking.
func (r *Registry) Allow(channel string) bool {
	return r.limiter(channel).Allow()
}

// SetRate updates the refill rate for a channel atomically.
func (r *Registry) SetRate(channel string, perSecond float64) {
	r.limiter(channel).SetLimit(rate.Limit(perSecond))
	r.logger.Debug("rate updated", "channel", channel, "per_second", perSecond)
}

// Rate returns the current refill rate for a channel.
func (r *Registry) Rate(channel string) float64 {
	return float64(r.limiter(channel).Limit())
}

func (r *Registry) limiter(channel string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[channel]
	if !ok {
		l = rate.NewLimiter(r.defaultRate, 1)
		r.limiters[channel] = l
	}
	return l
}
