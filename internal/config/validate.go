package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values. Any error here is
// fatal at startup.
func Validate(cfg *Config) error {
	validEnvs := map[string]bool{
		"development": true, "staging": true, "production": true,
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("environment must be development/staging/production, got %q", cfg.Environment)
	}

	validBackends := map[string]bool{
		"local": true, "openai": true, "claude": true, "huggingface": true,
	}
	if !validBackends[cfg.LLM.PrimaryBackend] {
		return fmt.Errorf("llm.primary_backend %q is not supported (valid: local, openai, claude, huggingface)", cfg.LLM.PrimaryBackend)
	}
	if cfg.LLM.BackendTimeout <= 0 {
		return fmt.Errorf("llm.backend_timeout must be > 0")
	}
	if cfg.LLM.RetryAttempts < 0 {
		return fmt.Errorf("llm.retry_attempts must be >= 0, got %d", cfg.LLM.RetryAttempts)
	}
	if cfg.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm.max_tokens must be >= 1, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0,2], got %g", cfg.LLM.Temperature)
	}

	if cfg.Scraping.MaxConcurrentBrowsers < 1 {
		return fmt.Errorf("scraping.max_concurrent_browsers must be >= 1, got %d", cfg.Scraping.MaxConcurrentBrowsers)
	}
	if cfg.Scraping.MaxConcurrentBrowsers > 32 {
		return fmt.Errorf("scraping.max_concurrent_browsers must be <= 32, got %d", cfg.Scraping.MaxConcurrentBrowsers)
	}
	if cfg.Scraping.DefaultTimeout <= 0 {
		return fmt.Errorf("scraping.default_timeout must be > 0")
	}
	if cfg.Scraping.MaxPagesPerSession < 1 {
		return fmt.Errorf("scraping.max_pages_per_session must be >= 1, got %d", cfg.Scraping.MaxPagesPerSession)
	}
	if cfg.Scraping.MinDelay < 0 || cfg.Scraping.MaxDelay < cfg.Scraping.MinDelay {
		return fmt.Errorf("scraping delays invalid: min=%s max=%s", cfg.Scraping.MinDelay, cfg.Scraping.MaxDelay)
	}
	validProfiles := map[string]bool{
		"conservative": true, "balanced": true, "aggressive": true, "stealth": true,
	}
	if !validProfiles[cfg.Scraping.DefaultProfile] {
		return fmt.Errorf("scraping.default_profile %q is not supported (valid: conservative, balanced, aggressive, stealth)", cfg.Scraping.DefaultProfile)
	}
	if cfg.Scraping.ProxyPoolURL != "" {
		if _, err := url.Parse(cfg.Scraping.ProxyPoolURL); err != nil {
			return fmt.Errorf("invalid scraping.proxy_pool_url: %w", err)
		}
	}
	for _, proxyURL := range cfg.Scraping.ProxyURLs {
		if _, err := url.Parse(proxyURL); err != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}

// ValidateURL checks if a URL string is a valid scrape target.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// HasLLMBackend reports whether at least one backend can be configured.
func HasLLMBackend(cfg *Config) bool {
	return cfg.LLM.OpenAIAPIKey != "" ||
		cfg.LLM.ClaudeAPIKey != "" ||
		cfg.LLM.HFAPIKey != "" ||
		cfg.LLM.LocalModelPath != ""
}
