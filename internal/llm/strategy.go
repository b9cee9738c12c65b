package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Pagination kinds a strategy may declare.
const (
	PaginationNumbered       = "numbered"
	PaginationInfiniteScroll = "infinite_scroll"
	PaginationLoadMore       = "load_more"
	PaginationNone           = "none"
)

// Pagination describes how the executor should walk result pages.
type Pagination struct {
	Type      string   `json:"type"`
	Selectors []string `json:"selectors"`
	Logic     string   `json:"logic"`
}

// Filter describes one site filter the executor may apply.
type Filter struct {
	Name         string `json:"name"`
	Selector     string `json:"selector"`
	Type         string `json:"type"` // dropdown, input, checkbox
	DefaultValue string `json:"default_value"`
}

// Strategy is the structured plan for extracting rows from a site.
// Immutable once returned by the orchestrator.
type Strategy struct {
	Success         bool
	Selectors       []string
	ExtractionLogic string
	Pagination      Pagination
	Filters         []Filter
	ErrorHandling   []string
	Confidence      float64
	Reasoning       string

	// Provenance.
	Backend string
	Elapsed time.Duration
	Cost    float64
}

// strategyPayload is the JSON wire shape every backend is instructed to emit.
type strategyPayload struct {
	Selectors       []string   `json:"selectors"`
	ExtractionLogic *string    `json:"extraction_logic"`
	Pagination      Pagination `json:"pagination_strategy"`
	Filters         []Filter   `json:"filters"`
	ErrorHandling   []string   `json:"error_handling"`
	Confidence      *float64   `json:"confidence_score"`
	Reasoning       string     `json:"reasoning"`
}

// ExtractJSON finds the outermost JSON object in a model response. Returns
// "{}" when no balanced object is present.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return "{}"
	}
	end := strings.LastIndex(s, "}")
	if end <= start {
		return "{}"
	}
	return s[start : end+1]
}

// ParseStrategy parses a model response into a Strategy, validating the
// required fields. A parse failure is soft: the orchestrator moves on to
// the next backend without tripping the breaker.
func ParseStrategy(content, backend string) (*Strategy, error) {
	var payload strategyPayload
	if err := json.Unmarshal([]byte(ExtractJSON(content)), &payload); err != nil {
		return nil, fmt.Errorf("strategy JSON: %w", err)
	}

	if payload.Selectors == nil {
		return nil, fmt.Errorf("missing required field: selectors")
	}
	if payload.ExtractionLogic == nil {
		return nil, fmt.Errorf("missing required field: extraction_logic")
	}
	if payload.Confidence == nil {
		return nil, fmt.Errorf("missing required field: confidence_score")
	}

	s := &Strategy{
		Success:         true,
		Selectors:       sanitizeStrings(payload.Selectors),
		ExtractionLogic: sanitizeString(*payload.ExtractionLogic),
		Pagination:      payload.Pagination,
		Filters:         payload.Filters,
		ErrorHandling:   sanitizeStrings(payload.ErrorHandling),
		Confidence:      clamp01(*payload.Confidence),
		Reasoning:       sanitizeString(payload.Reasoning),
		Backend:         backend,
	}

	s.Pagination.Type = normalizePaginationType(s.Pagination.Type)
	if len(s.Selectors) == 0 {
		return nil, fmt.Errorf("selectors list is empty")
	}
	return s, nil
}

// FailedStrategy returns a failure result carrying a diagnostic reason.
func FailedStrategy(reason string, elapsed time.Duration) *Strategy {
	return &Strategy{Success: false, Reasoning: reason, Elapsed: elapsed}
}

func normalizePaginationType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case PaginationNumbered, PaginationInfiniteScroll, PaginationLoadMore:
		return strings.ToLower(strings.TrimSpace(t))
	default:
		return PaginationNone
	}
}

const maxStrategyString = 10_000

// sanitizeString strips NUL bytes and bounds length.
func sanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > maxStrategyString {
		s = s[:maxStrategyString]
	}
	return s
}

func sanitizeStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = sanitizeString(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
