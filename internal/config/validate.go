package config

import "fmt"

// Validate checks cfg for values that would make startup pointless and
// returns an error for the first check that fails. Load does not call it, and
// none of the newsagent subcommands invoke it.
func Validate(cfg *Config) error {
	if cfg.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.Mongo.URI == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("MONGO_DB_NAME is required")
	}
	if cfg.Browser.Capacity < 1 {
		return fmt.Errorf("browser pool capacity must be >= 1, got %d", cfg.Browser.Capacity)
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.Provider != "openai" && cfg.LLM.Provider != "anthropic" && cfg.LLM.Provider != "custom" {
		return fmt.Errorf("LLM_PROVIDER must be one of ollama/openai/anthropic/custom, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required for provider %q", cfg.LLM.Provider)
	}
	if cfg.Webhook.URL == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("log level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	return nil
}
