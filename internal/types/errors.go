package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrBackendUnavailable = errors.New("backend not available")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrNoBackends         = errors.New("no language model backends available")
	ErrStrategyParse      = errors.New("strategy response does not satisfy schema")
	ErrPoolExhausted      = errors.New("browser pool exhausted")
	ErrSessionNotFound    = errors.New("session not found")
	ErrChallengeDetected  = errors.New("anti-bot challenge detected")
	ErrNoRows             = errors.New("no rows extracted")
	ErrRobotsDisallowed   = errors.New("disallowed by robots.txt")
	ErrInvalidURL         = errors.New("invalid URL")
	ErrCancelled          = errors.New("run cancelled")
)

// BackendError wraps a failure from one language model backend.
type BackendError struct {
	Backend    string
	StatusCode int
	Err        error
	Transient  bool // network/5xx; retried before the breaker sees it
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s error (status %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s error: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) IsTransient() bool { return e.Transient }

// FetchError wraps errors from HTTP snapshot fetching or navigation.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// ExtractionError wraps failures during row extraction on a page.
type ExtractionError struct {
	URL      string
	Page     int
	Selector string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction error on %s page %d (selector=%q): %v", e.URL, e.Page, e.Selector, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StageError wraps a per-row failure inside a pipeline stage.
type StageError struct {
	Stage string
	Row   int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %q failed on row %d: %v", e.Stage, e.Row, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExportError wraps a failure from one export destination.
type ExportError struct {
	Destination string
	Err         error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export to %s failed: %v", e.Destination, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// ConfigError is raised at startup for missing or unparseable configuration.
type ConfigError struct {
	Option string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error (%s): %v", e.Option, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
