package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicClient dispatches to the Anthropic Messages API. It is the
// preferred provider for the structured-output stages: its responses tend to
// follow "return only JSON" instructions more reliably than the
// general-purpose HTTP providers, which still matters because GenerateJSON
// has to recover from a model that ignores the instruction anyway.
type anthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	tokens int64
	logger *slog.Logger
}

func newAnthropicClient(cfg Config, logger *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic provider requires an API key")
	}

	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}

	tokens := int64(cfg.MaxTokens)
	if tokens <= 0 {
		tokens = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
		tokens: tokens,
		logger: logger.With("component", "llm_client", "provider", "anthropic"),
	}, nil
}

func (c *anthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.tokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (c *anthropicClient) GenerateJSON(ctx context.Context, prompt string, out any) error {
	text, err := c.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(ExtractJSON(text)), out)
}
