package llm

import (
	"fmt"
	"strings"
)

// MaxHTMLChars bounds the HTML snapshot embedded in a strategy prompt.
// Oversize input is truncated with an explicit marker; the full HTML is
// never forwarded to a backend.
const MaxHTMLChars = 50_000

const truncationMarker = "... [truncated]"

const strategySystemPrompt = `You are an expert web scraping strategist. Analyze the HTML and generate a complete scraping strategy.

Return your response as a JSON object with this exact structure:
{
    "selectors": ["css_selector1", "css_selector2"],
    "extraction_logic": "detailed explanation of extraction approach",
    "pagination_strategy": {
        "type": "numbered|infinite_scroll|load_more|none",
        "selectors": ["pagination_selectors"],
        "logic": "pagination handling approach"
    },
    "filters": [
        {
            "name": "filter_name",
            "selector": "filter_selector",
            "type": "dropdown|input|checkbox",
            "default_value": "default"
        }
    ],
    "error_handling": ["strategy1", "strategy2"],
    "confidence_score": 0.85,
    "reasoning": "detailed explanation of analysis and choices"
}

Focus on:
1. Robust, reliable selectors
2. Complete extraction strategy
3. Pagination and filtering
4. Error handling approaches
5. Confidence in the strategy`

// TruncateHTML bounds an HTML snapshot for prompt embedding.
func TruncateHTML(html string) string {
	if len(html) > MaxHTMLChars {
		return html[:MaxHTMLChars] + truncationMarker
	}
	return html
}

// buildStrategyRequest assembles the uniform request shared by all backends.
func buildStrategyRequest(html, url, intent string, fields []string, maxTokens int, temperature float64) *Request {
	fieldsText := ""
	if len(fields) > 0 {
		fieldsText = "\nSpecific fields to extract: " + strings.Join(fields, ", ")
	}

	userMessage := fmt.Sprintf(`Analyze this HTML content and generate a complete scraping strategy:

URL: %s
User Intent: %s%s

HTML Content:
%s

Generate a comprehensive scraping strategy that handles all aspects of data extraction from this page.`,
		url, intent, fieldsText, TruncateHTML(html))

	return &Request{
		Messages:     []Message{{Role: RoleUser, Content: userMessage}},
		SystemPrompt: strategySystemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	}
}

// buildRecoveryRequest assembles the error-context variant used by the
// executor's recovery loop. Same JSON contract, different user message.
func buildRecoveryRequest(url string, failedSelectors []string, pageState string, maxTokens int, temperature float64) *Request {
	userMessage := fmt.Sprintf(`A scraping run hit an extraction failure and needs updated selectors.

URL: %s
Failed selectors: %s
Page state: %s

Analyze the situation and generate a corrected scraping strategy for this page.`,
		url, strings.Join(failedSelectors, ", "), TruncateHTML(pageState))

	return &Request{
		Messages:     []Message{{Role: RoleUser, Content: userMessage}},
		SystemPrompt: strategySystemPrompt,
		MaxTokens:    maxTokens,
		Temperature:  temperature,
	}
}

// healthProbeRequest is the minimal request used by health checks.
func healthProbeRequest() *Request {
	return &Request{
		Messages:  []Message{{Role: RoleUser, Content: "Generate a simple test response"}},
		MaxTokens: 50,
	}
}
