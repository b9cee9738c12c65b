package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iwsa-dev/iwsa/internal/config"
)

const hfEndpointBase = "https://api-inference.huggingface.co/models/"

// HuggingFaceBackend calls the hosted inference API for a text-generation
// model. An API key is optional; without one the public quota applies.
// Cold starts return 503 while the model loads and are retried with a
// longer delay by the shared client.
type HuggingFaceBackend struct {
	apiKey string
	model  string
	client *remoteClient
	logger *slog.Logger
}

func NewHuggingFaceBackend(cfg *config.LLMConfig, logger *slog.Logger) *HuggingFaceBackend {
	return &HuggingFaceBackend{
		apiKey: cfg.HFAPIKey,
		model:  cfg.HFModel,
		client: newRemoteClient(cfg.BackendTimeout, cfg.RetryAttempts),
		logger: logger.With("component", "llm_huggingface"),
	}
}

func (b *HuggingFaceBackend) Name() string { return "huggingface" }

func (b *HuggingFaceBackend) Available() bool { return b.model != "" }

// EstimateCost is zero: the hosted tier is free within quota.
func (b *HuggingFaceBackend) EstimateCost(req *Request) float64 { return 0 }

func (b *HuggingFaceBackend) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	// Hosted text-generation takes a flat prompt, not chat messages.
	var prompt strings.Builder
	if req.SystemPrompt != "" {
		prompt.WriteString(req.SystemPrompt)
		prompt.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		prompt.WriteString(m.Content)
		prompt.WriteString("\n")
	}

	payload := map[string]any{
		"inputs": prompt.String(),
		"parameters": map[string]any{
			"max_new_tokens":   req.MaxTokens,
			"temperature":      req.Temperature,
			"return_full_text": false,
		},
		"options": map[string]any{
			"wait_for_model": true,
		},
	}

	body, err := b.client.postJSON(ctx, b.Name(), hfEndpointBase+b.model, b.apiKey, nil, payload)
	if err != nil {
		return nil, err
	}

	content, err := parseHFGeneration(body)
	if err != nil {
		return nil, err
	}

	return &Response{
		Content:    content,
		TokensUsed: estimateTokens(req),
		Cost:       0,
		Backend:    b.Name(),
		Model:      b.model,
		Elapsed:    time.Since(start),
		Success:    true,
	}, nil
}

// parseHFGeneration handles both response shapes the hosted API returns:
// a list of {generated_text} objects or a single object.
func parseHFGeneration(body []byte) (string, error) {
	var list []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list[0].GeneratedText, nil
	}

	var single struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &single); err == nil && single.GeneratedText != "" {
		return single.GeneratedText, nil
	}

	return "", fmt.Errorf("unrecognized hosted inference response shape")
}
