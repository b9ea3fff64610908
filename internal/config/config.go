package config

import "time"

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for all three newsagent processes
// (api, scheduler, worker). Every field is sourced from an environment
// variable; there is no YAML config file in this deployment model.
type Config struct {
	Redis    RedisConfig
	Mongo    MongoConfig
	API      APIConfig
	Browser  BrowserConfig
	LLM      LLMConfig
	Search   SearchConfig
	Webhook  WebhookConfig
	SMTP     SMTPConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig

	// SubmissionSourceID is the source_id stamped on articles submitted
	// directly through the job API rather than discovered by the scheduler.
	SubmissionSourceID string
}

// RedisConfig points at the work queue and dead-letter list.
type RedisConfig struct {
	URL      string
	QueueName string
	DLQName   string
}

// MongoConfig points at the document store.
type MongoConfig struct {
	URI      string
	Database string
}

// APIConfig controls the job submission/status HTTP API.
type APIConfig struct {
	Addr   string
	APIKey string
	// SubmitURL is the externally reachable base URL of the job API
	// (MAIN_API_URL) — distinct from Addr, which is only the bind
	// address the api process listens on. The scheduler POSTs discovered
	// URLs here.
	SubmitURL string
}

// BrowserConfig controls the headless rendering pool.
type BrowserConfig struct {
	WSEndpoint string // CDP URL; empty launches a local Chromium
	UserAgent  string
	Capacity   int64
	NavTimeout time.Duration
}

// LLMConfig selects and configures the structured-output model provider.
type LLMConfig struct {
	Provider    string
	Endpoint    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

// SearchConfig points at the related-coverage search tool.
type SearchConfig struct {
	Endpoint   string
	APIKey     string
	MaxResults int
}

// WebhookConfig controls delivery of completed articles downstream.
type WebhookConfig struct {
	URL        string
	Secret     string
	MaxRetries int
}

// SMTPConfig controls the job-failure email notifier. Leaving Server empty
// disables notifications entirely.
type SMTPConfig struct {
	Server     string
	Port       string
	Email      string
	Password   string
	Recipients []string
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string
	Format string
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// DefaultConfig returns a Config with sensible defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			URL:       "redis://localhost:6379/0",
			QueueName: "main",
			DLQName:   "dlq",
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "newsagent",
		},
		API: APIConfig{
			Addr:      ":8080",
			SubmitURL: "http://localhost:8080",
		},
		Browser: BrowserConfig{
			UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 NewsAgent/1.0",
			Capacity:   8,
			NavTimeout: 60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.1",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Search: SearchConfig{
			MaxResults: 5,
		},
		Webhook: WebhookConfig{
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}
