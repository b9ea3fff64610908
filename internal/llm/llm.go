// Package llm is the structured-output LLM boundary every enrichment stage
// calls through: summarization, validation, link scoring, categorization
// and SEO metadata generation all reduce to "render a prompt template against
// some input, get text or JSON back." Providers are swappable so a deploy can
// run against Ollama, an OpenAI-compatible endpoint, Anthropic, or any other
// HTTP backend without touching pipeline code.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider selects which LLM backend a Client dispatches to.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderCustom    Provider = "custom"
)

// Config configures a Client.
type Config struct {
	Provider    Provider
	Endpoint    string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
}

// Client is the interface pipeline stages depend on. Generate returns raw
// text; GenerateJSON additionally extracts the first balanced JSON object
// from the response and unmarshals it into out, which is how every
// structured stage (validate_summary, categorize_article, the SEO stages)
// gets typed results out of a text-completion API.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

// New builds a Client for cfg.Provider.
func New(cfg Config, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderCustom:
		return &httpClient{cfg: cfg, http: &http.Client{Timeout: 120 * time.Second}, logger: logger.With("component", "llm_client", "provider", cfg.Provider)}, nil
	case ProviderAnthropic:
		return newAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// httpClient dispatches to Ollama, OpenAI-compatible, and arbitrary custom
// HTTP completion endpoints.
type httpClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func (c *httpClient) Generate(ctx context.Context, prompt string) (string, error) {
	switch c.cfg.Provider {
	case ProviderOllama:
		return c.generateOllama(ctx, prompt)
	case ProviderOpenAI:
		return c.generateOpenAI(ctx, prompt)
	default:
		return c.generateCustom(ctx, prompt)
	}
}

func (c *httpClient) GenerateJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(ExtractJSON(text)), out)
}

func (c *httpClient) generateOllama(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":  c.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": c.cfg.Temperature,
			"num_predict": c.cfg.MaxTokens,
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return result.Response, nil
}

func (c *httpClient) generateOpenAI(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": c.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens":  c.cfg.MaxTokens,
		"temperature": c.cfg.Temperature,
	}

	body, _ := json.Marshal(payload)
	endpoint := c.cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return result.Choices[0].Message.Content, nil
}

func (c *httpClient) generateCustom(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"prompt": prompt,
		"model":  c.cfg.Model,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(respBody), nil
}

// ExtractJSON returns the first balanced {...} or [...] structure found in
// s, or "{}" if none is found — LLM completions routinely wrap JSON in
// prose or code fences, so stages can't assume the whole response is valid
// JSON, and some structured-output stages (categorize_article) expect a
// top-level array rather than an object.
func ExtractJSON(s string) string {
	openObj, openArr := strings.Index(s, "{"), strings.Index(s, "[")

	start := openObj
	open, close := byte('{'), byte('}')
	if start < 0 || (openArr >= 0 && openArr < start) {
		start = openArr
		open, close = '[', ']'
	}
	if start < 0 {
		return "{}"
	}

	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return "{}"
}
