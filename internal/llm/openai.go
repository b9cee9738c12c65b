package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/iwsa-dev/iwsa/internal/config"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// Per 1k tokens, blended input/output.
const openAICostPer1K = 0.03

// OpenAIBackend calls the OpenAI chat completions API.
type OpenAIBackend struct {
	apiKey string
	model  string
	client *remoteClient
	logger *slog.Logger
}

func NewOpenAIBackend(cfg *config.LLMConfig, logger *slog.Logger) *OpenAIBackend {
	return &OpenAIBackend{
		apiKey: cfg.OpenAIAPIKey,
		model:  cfg.OpenAIModel,
		client: newRemoteClient(cfg.BackendTimeout, cfg.RetryAttempts),
		logger: logger.With("component", "llm_openai"),
	}
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Available() bool { return b.apiKey != "" }

func (b *OpenAIBackend) EstimateCost(req *Request) float64 {
	return float64(estimateTokens(req)) / 1000 * openAICostPer1K
}

func (b *OpenAIBackend) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	payload := map[string]any{
		"model":       b.model,
		"messages":    messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}

	body, err := b.client.postJSON(ctx, b.Name(), openAIEndpoint, b.apiKey, nil, payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		tokens = estimateTokens(req)
	}

	return &Response{
		Content:    parsed.Choices[0].Message.Content,
		TokensUsed: tokens,
		Cost:       float64(tokens) / 1000 * openAICostPer1K,
		Backend:    b.Name(),
		Model:      b.model,
		Elapsed:    time.Since(start),
		Success:    true,
	}, nil
}
