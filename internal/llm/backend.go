// Package llm implements the multi-provider strategy orchestrator: a
// prioritized set of language-model backends behind circuit breakers and
// rate limiters, producing one scraping strategy per request.
package llm

import (
	"context"
	"time"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the uniform input to every backend.
type Request struct {
	Messages     []Message
	SystemPrompt string // separate field for backends that split it out
	MaxTokens    int
	Temperature  float64
	Metadata     map[string]string
}

// Response is the uniform output of every backend.
type Response struct {
	Content    string
	TokensUsed int
	Cost       float64 // currency-neutral; always 0 for local inference
	Backend    string
	Model      string
	Elapsed    time.Duration
	Success    bool
	Err        string
}

// Backend is one language-model provider behind the uniform Generate
// operation.
type Backend interface {
	// Name returns the backend identifier used in provenance and logs.
	Name() string

	// Available reports whether the backend is configured and usable.
	// An unavailable backend is skipped, never an error.
	Available() bool

	// EstimateCost returns the estimated cost of serving the request,
	// a cheap arithmetic over token estimates.
	EstimateCost(req *Request) float64

	// Generate produces a completion. Transient transport errors are
	// retried internally; the caller sees the post-retry outcome.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// estimateTokens approximates the token count of a request at four
// characters per token.
func estimateTokens(req *Request) int {
	chars := len(req.SystemPrompt)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	return chars / 4
}
