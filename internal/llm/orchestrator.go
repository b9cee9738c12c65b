package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iwsa-dev/iwsa/internal/config"
	"github.com/iwsa-dev/iwsa/internal/ratelimit"
	"github.com/iwsa-dev/iwsa/internal/resilience"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// backendPriority is the fall-through order when the configured primary
// backend fails: free local inference first, then paid tiers by quality,
// then the free hosted tier.
var backendPriority = []string{"local", "openai", "claude", "huggingface"}

// Per-backend request rates in requests per second.
var backendRates = map[string]float64{
	"local":       5,
	"openai":      0.5,
	"claude":      0.5,
	"huggingface": 0.2,
}

// BackendStatus is a point-in-time snapshot of one backend.
type BackendStatus struct {
	Name      string  `json:"name"`
	Available bool    `json:"available"`
	Circuit   string  `json:"circuit"`
	Failures  uint32  `json:"failures"`
	Rate      float64 `json:"rate_per_second"`
}

// Orchestrator selects among prioritized backends to produce scraping
// strategies. Each backend sits behind its own circuit breaker and token
// bucket; attempts are sequential, never parallel.
type Orchestrator struct {
	backends []Backend
	breakers map[string]*resilience.Breaker
	limits   *ratelimit.Registry

	maxTokens   int
	temperature float64

	logger *slog.Logger
}

// NewOrchestrator builds the backend chain from configuration. The primary
// backend is tried first; the rest follow in the default priority order.
func NewOrchestrator(cfg *config.LLMConfig, logger *slog.Logger) *Orchestrator {
	log := logger.With("component", "llm_orchestrator")

	byName := map[string]Backend{
		"local":       NewLocalBackend(cfg, logger),
		"openai":      NewOpenAIBackend(cfg, logger),
		"claude":      NewClaudeBackend(cfg, logger),
		"huggingface": NewHuggingFaceBackend(cfg, logger),
	}

	order := make([]string, 0, len(backendPriority))
	if _, ok := byName[cfg.PrimaryBackend]; ok {
		order = append(order, cfg.PrimaryBackend)
	}
	for _, name := range backendPriority {
		if name != cfg.PrimaryBackend {
			order = append(order, name)
		}
	}

	o := &Orchestrator{
		breakers:    make(map[string]*resilience.Breaker),
		limits:      ratelimit.NewRegistry(1, logger),
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      log,
	}
	for _, name := range order {
		o.backends = append(o.backends, byName[name])
		o.breakers[name] = resilience.NewBreaker(name, resilience.BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  5 * time.Minute,
			Tracked:          trackedFailure,
		}, log)
		if r, ok := backendRates[name]; ok {
			o.limits.SetRate(name, r)
		}
	}
	return o
}

// newOrchestratorWith is the injection point for tests.
func newOrchestratorWith(backends []Backend, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		breakers:    make(map[string]*resilience.Breaker),
		limits:      ratelimit.NewRegistry(1000, logger),
		maxTokens:   2000,
		temperature: 0.1,
		logger:      logger.With("component", "llm_orchestrator"),
	}
	for _, b := range backends {
		o.backends = append(o.backends, b)
		o.breakers[b.Name()] = resilience.NewBreaker(b.Name(), resilience.BreakerConfig{
			FailureThreshold: 3,
			RecoveryTimeout:  5 * time.Minute,
			Tracked:          trackedFailure,
		}, logger)
	}
	return o
}

// trackedFailure decides whether an error counts against a breaker.
// Cancellation is the caller's doing, not backend health.
func trackedFailure(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// GenerateStrategy produces a scraping strategy for the sampled page.
// Backends are attempted in priority order; unavailable backends and open
// circuits are skipped without a call. A response that fails strategy
// parsing moves on to the next backend without counting against the
// circuit. When every backend is exhausted the result carries
// Success=false and the reason.
func (o *Orchestrator) GenerateStrategy(ctx context.Context, html, url, intent string, fields []string) (*Strategy, error) {
	req := buildStrategyRequest(html, url, intent, fields, o.maxTokens, o.temperature)
	return o.generate(ctx, req)
}

// GenerateRecovery produces a corrected strategy from an extraction
// failure's context. Same backend chain and semantics as GenerateStrategy.
func (o *Orchestrator) GenerateRecovery(ctx context.Context, url string, failedSelectors []string, pageState string) (*Strategy, error) {
	req := buildRecoveryRequest(url, failedSelectors, pageState, o.maxTokens, o.temperature)
	return o.generate(ctx, req)
}

func (o *Orchestrator) generate(ctx context.Context, req *Request) (*Strategy, error) {
	start := time.Now()

	attempted := 0
	for _, b := range o.backends {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := b.Name()
		if !b.Available() {
			o.logger.Debug("backend unavailable, skipping", "backend", name)
			continue
		}
		br := o.breakers[name]
		if br.Open() {
			o.logger.Debug("circuit open, skipping", "backend", name)
			continue
		}

		if err := o.limits.Acquire(ctx, name); err != nil {
			return nil, err
		}

		attempted++
		result, err := br.Call(func() (any, error) {
			return b.Generate(ctx, req)
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			o.logger.Warn("backend generation failed", "backend", name, "error", err)
			continue
		}

		resp := result.(*Response)
		strategy, err := ParseStrategy(resp.Content, name)
		if err != nil {
			// Soft failure: a malformed strategy is not backend ill health.
			o.logger.Warn("strategy parse failed", "backend", name, "error", err)
			continue
		}

		strategy.Elapsed = time.Since(start)
		strategy.Cost = resp.Cost
		o.logger.Info("strategy generated",
			"backend", name,
			"confidence", strategy.Confidence,
			"selectors", len(strategy.Selectors),
			"elapsed", strategy.Elapsed,
		)
		return strategy, nil
	}

	if attempted == 0 {
		return FailedStrategy("no backends available", time.Since(start)), types.ErrNoBackends
	}
	return FailedStrategy(
		fmt.Sprintf("all %d attempted backends failed", attempted),
		time.Since(start),
	), nil
}

// EstimateCost returns the per-backend estimated cost of generating a
// strategy for the given input, for every available backend.
func (o *Orchestrator) EstimateCost(html, url, intent string, fields []string) map[string]float64 {
	req := buildStrategyRequest(html, url, intent, fields, o.maxTokens, o.temperature)
	out := make(map[string]float64)
	for _, b := range o.backends {
		if b.Available() {
			out[b.Name()] = b.EstimateCost(req)
		}
	}
	return out
}

// Status snapshots every backend in priority order.
func (o *Orchestrator) Status() []BackendStatus {
	out := make([]BackendStatus, 0, len(o.backends))
	for _, b := range o.backends {
		br := o.breakers[b.Name()]
		out = append(out, BackendStatus{
			Name:      b.Name(),
			Available: b.Available(),
			Circuit:   br.State(),
			Failures:  br.Failures(),
			Rate:      o.limits.Rate(b.Name()),
		})
	}
	return out
}
