package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	// Environment variable support: IWSA_LLM_MAX_TOKENS etc.
	v.SetEnvPrefix("IWSA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("iwsa")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".iwsa"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper so env vars bind even when
// the key never appears in a config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("environment", cfg.Environment)

	v.SetDefault("llm.primary_backend", cfg.LLM.PrimaryBackend)
	v.SetDefault("llm.backend_timeout", cfg.LLM.BackendTimeout)
	v.SetDefault("llm.retry_attempts", cfg.LLM.RetryAttempts)
	v.SetDefault("llm.max_tokens", cfg.LLM.MaxTokens)
	v.SetDefault("llm.temperature", cfg.LLM.Temperature)
	v.SetDefault("llm.local_model_path", cfg.LLM.LocalModelPath)
	v.SetDefault("llm.local_threads", cfg.LLM.LocalThreads)
	v.SetDefault("llm.local_quantization", cfg.LLM.LocalQuantization)
	v.SetDefault("llm.openai_api_key", cfg.LLM.OpenAIAPIKey)
	v.SetDefault("llm.openai_model", cfg.LLM.OpenAIModel)
	v.SetDefault("llm.claude_api_key", cfg.LLM.ClaudeAPIKey)
	v.SetDefault("llm.claude_model", cfg.LLM.ClaudeModel)
	v.SetDefault("llm.hf_api_key", cfg.LLM.HFAPIKey)
	v.SetDefault("llm.hf_model", cfg.LLM.HFModel)

	v.SetDefault("storage.document_store_uri", cfg.Storage.DocumentStoreURI)
	v.SetDefault("storage.database_name", cfg.Storage.DatabaseName)
	v.SetDefault("storage.collection_name", cfg.Storage.CollectionName)
	v.SetDefault("storage.spreadsheet_credentials_b64", cfg.Storage.SpreadsheetCredentialsB64)
	v.SetDefault("storage.spreadsheet_share_with", cfg.Storage.SpreadsheetShareWith)
	v.SetDefault("storage.output_dir", cfg.Storage.OutputDir)

	v.SetDefault("scraping.max_concurrent_browsers", cfg.Scraping.MaxConcurrentBrowsers)
	v.SetDefault("scraping.default_timeout", cfg.Scraping.DefaultTimeout)
	v.SetDefault("scraping.max_pages_per_session", cfg.Scraping.MaxPagesPerSession)
	v.SetDefault("scraping.headless", cfg.Scraping.Headless)
	v.SetDefault("scraping.rate_limit_delay", cfg.Scraping.RateLimitDelay)
	v.SetDefault("scraping.min_delay", cfg.Scraping.MinDelay)
	v.SetDefault("scraping.max_delay", cfg.Scraping.MaxDelay)
	v.SetDefault("scraping.user_agent_rotation", cfg.Scraping.UserAgentRotation)
	v.SetDefault("scraping.ip_rotation", cfg.Scraping.IPRotation)
	v.SetDefault("scraping.fingerprint_randomization", cfg.Scraping.FingerprintRandomization)
	v.SetDefault("scraping.proxy_pool_url", cfg.Scraping.ProxyPoolURL)
	v.SetDefault("scraping.respect_robots_txt", cfg.Scraping.RespectRobotsTxt)
	v.SetDefault("scraping.default_profile", cfg.Scraping.DefaultProfile)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
}
