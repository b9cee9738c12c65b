package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/iwsa-dev/iwsa/internal/config"
)

const claudeEndpoint = "https://api.anthropic.com/v1/messages"

const claudeCostPer1K = 0.015

// ClaudeBackend calls the Anthropic messages API. Authentication uses the
// x-api-key header rather than a bearer token, and the system prompt is a
// top-level field instead of a message.
type ClaudeBackend struct {
	apiKey string
	model  string
	client *remoteClient
	logger *slog.Logger
}

func NewClaudeBackend(cfg *config.LLMConfig, logger *slog.Logger) *ClaudeBackend {
	return &ClaudeBackend{
		apiKey: cfg.ClaudeAPIKey,
		model:  cfg.ClaudeModel,
		client: newRemoteClient(cfg.BackendTimeout, cfg.RetryAttempts),
		logger: logger.With("component", "llm_claude"),
	}
}

func (b *ClaudeBackend) Name() string { return "claude" }

func (b *ClaudeBackend) Available() bool { return b.apiKey != "" }

func (b *ClaudeBackend) EstimateCost(req *Request) float64 {
	return float64(estimateTokens(req)) / 1000 * claudeCostPer1K
}

func (b *ClaudeBackend) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	payload := map[string]any{
		"model":       b.model,
		"messages":    req.Messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if req.SystemPrompt != "" {
		payload["system"] = req.SystemPrompt
	}

	headers := map[string]string{
		"x-api-key":         b.apiKey,
		"anthropic-version": "2023-06-01",
	}

	body, err := b.client.postJSON(ctx, b.Name(), claudeEndpoint, "", headers, payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode claude response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("claude response has no content blocks")
	}

	tokens := parsed.Usage.InputTokens + parsed.Usage.OutputTokens
	if tokens == 0 {
		tokens = estimateTokens(req)
	}

	return &Response{
		Content:    parsed.Content[0].Text,
		TokensUsed: tokens,
		Cost:       float64(tokens) / 1000 * claudeCostPer1K,
		Backend:    b.Name(),
		Model:      b.model,
		Elapsed:    time.Since(start),
		Success:    true,
	}, nil
}
