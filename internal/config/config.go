package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for IWSA.
type Config struct {
	Environment string         `mapstructure:"environment" yaml:"environment"`
	LLM         LLMConfig      `mapstructure:"llm"         yaml:"llm"`
	Storage     StorageConfig  `mapstructure:"storage"     yaml:"storage"`
	Scraping    ScrapingConfig `mapstructure:"scraping"    yaml:"scraping"`
	Logging     LoggingConfig  `mapstructure:"logging"     yaml:"logging"`
}

// LLMConfig controls the strategy orchestrator and its backends.
type LLMConfig struct {
	PrimaryBackend string        `mapstructure:"primary_backend" yaml:"primary_backend"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout" yaml:"backend_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"  yaml:"retry_attempts"`
	MaxTokens      int           `mapstructure:"max_tokens"      yaml:"max_tokens"`
	Temperature    float64       `mapstructure:"temperature"     yaml:"temperature"`

	// Local inference backend. Absence of the model file makes the
	// backend unavailable, not an error.
	LocalModelPath    string `mapstructure:"local_model_path"    yaml:"local_model_path"`
	LocalThreads      int    `mapstructure:"local_threads"       yaml:"local_threads"`
	LocalQuantization string `mapstructure:"local_quantization"  yaml:"local_quantization"`

	// Remote backend credentials. Empty key disables the backend.
	OpenAIAPIKey string `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	OpenAIModel  string `mapstructure:"openai_model"   yaml:"openai_model"`
	ClaudeAPIKey string `mapstructure:"claude_api_key" yaml:"claude_api_key"`
	ClaudeModel  string `mapstructure:"claude_model"   yaml:"claude_model"`
	HFAPIKey     string `mapstructure:"hf_api_key"     yaml:"hf_api_key"`
	HFModel      string `mapstructure:"hf_model"       yaml:"hf_model"`
}

// StorageConfig controls the document store and spreadsheet export.
type StorageConfig struct {
	DocumentStoreURI string `mapstructure:"document_store_uri" yaml:"document_store_uri"`
	DatabaseName     string `mapstructure:"database_name"      yaml:"database_name"`
	CollectionName   string `mapstructure:"collection_name"    yaml:"collection_name"`

	SpreadsheetCredentialsB64 string `mapstructure:"spreadsheet_credentials_b64" yaml:"spreadsheet_credentials_b64"`
	SpreadsheetShareWith      string `mapstructure:"spreadsheet_share_with"      yaml:"spreadsheet_share_with"`

	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// ScrapingConfig controls the browser runtime and anti-detection layer.
type ScrapingConfig struct {
	MaxConcurrentBrowsers int           `mapstructure:"max_concurrent_browsers" yaml:"max_concurrent_browsers"`
	DefaultTimeout        time.Duration `mapstructure:"default_timeout"         yaml:"default_timeout"`
	MaxPagesPerSession    int           `mapstructure:"max_pages_per_session"   yaml:"max_pages_per_session"`
	Headless              bool          `mapstructure:"headless"                yaml:"headless"`

	RateLimitDelay time.Duration `mapstructure:"rate_limit_delay" yaml:"rate_limit_delay"`
	MinDelay       time.Duration `mapstructure:"min_delay"        yaml:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"        yaml:"max_delay"`

	UserAgentRotation        bool     `mapstructure:"user_agent_rotation"       yaml:"user_agent_rotation"`
	IPRotation               bool     `mapstructure:"ip_rotation"               yaml:"ip_rotation"`
	FingerprintRandomization bool     `mapstructure:"fingerprint_randomization" yaml:"fingerprint_randomization"`
	ProxyPoolURL             string   `mapstructure:"proxy_pool_url"            yaml:"proxy_pool_url"`
	ProxyURLs                []string `mapstructure:"proxy_urls"              yaml:"proxy_urls"`

	RespectRobotsTxt bool   `mapstructure:"respect_robots_txt" yaml:"respect_robots_txt"`
	DefaultProfile   string `mapstructure:"default_profile"    yaml:"default_profile"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		LLM: LLMConfig{
			PrimaryBackend:    "local",
			BackendTimeout:    30 * time.Second,
			RetryAttempts:     3,
			MaxTokens:         2000,
			Temperature:       0.1,
			LocalModelPath:    "./models/tinyllama-1.1b",
			LocalThreads:      4,
			LocalQuantization: "int8",
			OpenAIModel:       "gpt-4",
			ClaudeModel:       "claude-3-sonnet-20240229",
			HFModel:           "microsoft/DialoGPT-large",
		},
		Storage: StorageConfig{
			DatabaseName:   "iwsa_data",
			CollectionName: "scraped_data",
			OutputDir:      ".",
		},
		Scraping: ScrapingConfig{
			MaxConcurrentBrowsers:    3,
			DefaultTimeout:           30 * time.Second,
			MaxPagesPerSession:       1000,
			Headless:                 true,
			RateLimitDelay:           2 * time.Second,
			MinDelay:                 1 * time.Second,
			MaxDelay:                 10 * time.Second,
			UserAgentRotation:        true,
			FingerprintRandomization: true,
			RespectRobotsTxt:         true,
			DefaultProfile:           "balanced",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
