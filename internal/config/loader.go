package config

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envVars lists every variable the three processes read. Unlike the
// crawler's SCRAPEGOAT_-prefixed nested keys, these are the system's own
// unprefixed contract names, bound individually since there is no config
// file to derive the key set from.
var envVars = []string{
	"REDIS_URL", "REDIS_QUEUE_NAME", "REDIS_DLQ_NAME",
	"DATABASE_URL", "MONGO_DB_NAME",
	"NEWSAGENT_API_KEY", "API_ADDR", "MAIN_API_URL",
	"BROWSER_WS_ENDPOINT", "USER_AGENT", "BROWSER_POOL_CAPACITY",
	"LLM_PROVIDER", "LLM_ENDPOINT", "LLM_MODEL", "LLM_API_KEY", "LLM_MAX_TOKENS", "LLM_TEMPERATURE",
	"SEARCH_ENDPOINT", "SEARCH_API_KEY", "SEARCH_MAX_RESULTS",
	"WEBHOOK_URL", "WEBHOOK_SECRET", "WEBHOOK_MAX_RETRIES",
	"SMTP_SERVER", "SMTP_PORT", "SMTP_EMAIL", "SMTP_PASSWORD", "SMTP_RECIPIENTS",
	"LOG_LEVEL", "LOG_FORMAT",
	"METRICS_ENABLED", "METRICS_ADDR",
	"SUBMISSION_SOURCE_ID",
}

// Load builds a Config from environment variables, starting from
// DefaultConfig and overriding every field an env var supplies.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.AutomaticEnv()
	for _, name := range envVars {
		if err := v.BindEnv(name); err != nil {
			return nil, err
		}
	}

	if s := v.GetString("REDIS_URL"); s != "" {
		cfg.Redis.URL = s
	}
	if s := v.GetString("REDIS_QUEUE_NAME"); s != "" {
		cfg.Redis.QueueName = s
	}
	if s := v.GetString("REDIS_DLQ_NAME"); s != "" {
		cfg.Redis.DLQName = s
	}
	if s := v.GetString("DATABASE_URL"); s != "" {
		cfg.Mongo.URI = s
	}
	if s := v.GetString("MONGO_DB_NAME"); s != "" {
		cfg.Mongo.Database = s
	}
	if s := v.GetString("NEWSAGENT_API_KEY"); s != "" {
		cfg.API.APIKey = s
	}
	if s := v.GetString("API_ADDR"); s != "" {
		cfg.API.Addr = s
	}
	if s := v.GetString("MAIN_API_URL"); s != "" {
		cfg.API.SubmitURL = s
	}
	if s := v.GetString("BROWSER_WS_ENDPOINT"); s != "" {
		cfg.Browser.WSEndpoint = s
	}
	if s := v.GetString("USER_AGENT"); s != "" {
		cfg.Browser.UserAgent = s
	}
	if s := v.GetString("BROWSER_POOL_CAPACITY"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			cfg.Browser.Capacity = n
		}
	}
	if s := v.GetString("LLM_PROVIDER"); s != "" {
		cfg.LLM.Provider = strings.ToLower(s)
	}
	if s := v.GetString("LLM_ENDPOINT"); s != "" {
		cfg.LLM.Endpoint = s
	}
	if s := v.GetString("LLM_MODEL"); s != "" {
		cfg.LLM.Model = s
	}
	if s := v.GetString("LLM_API_KEY"); s != "" {
		cfg.LLM.APIKey = s
	}
	if s := v.GetString("LLM_MAX_TOKENS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.LLM.MaxTokens = n
		}
	}
	if s := v.GetString("LLM_TEMPERATURE"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if s := v.GetString("SEARCH_ENDPOINT"); s != "" {
		cfg.Search.Endpoint = s
	}
	if s := v.GetString("SEARCH_API_KEY"); s != "" {
		cfg.Search.APIKey = s
	}
	if s := v.GetString("SEARCH_MAX_RESULTS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.Search.MaxResults = n
		}
	}
	if s := v.GetString("WEBHOOK_URL"); s != "" {
		cfg.Webhook.URL = s
	}
	if s := v.GetString("WEBHOOK_SECRET"); s != "" {
		cfg.Webhook.Secret = s
	}
	if s := v.GetString("WEBHOOK_MAX_RETRIES"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			cfg.Webhook.MaxRetries = n
		}
	}
	if s := v.GetString("SMTP_SERVER"); s != "" {
		cfg.SMTP.Server = s
	}
	if s := v.GetString("SMTP_PORT"); s != "" {
		cfg.SMTP.Port = s
	}
	if s := v.GetString("SMTP_EMAIL"); s != "" {
		cfg.SMTP.Email = s
	}
	if s := v.GetString("SMTP_PASSWORD"); s != "" {
		cfg.SMTP.Password = s
	}
	if s := v.GetString("SMTP_RECIPIENTS"); s != "" {
		cfg.SMTP.Recipients = splitAndTrim(s)
	}
	if s := v.GetString("LOG_LEVEL"); s != "" {
		cfg.Logging.Level = s
	}
	if s := v.GetString("LOG_FORMAT"); s != "" {
		cfg.Logging.Format = s
	}
	if s := v.GetString("METRICS_ENABLED"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if s := v.GetString("METRICS_ADDR"); s != "" {
		cfg.Metrics.Addr = s
	}
	if s := v.GetString("SUBMISSION_SOURCE_ID"); s != "" {
		cfg.SubmissionSourceID = s
	}

	return cfg, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
