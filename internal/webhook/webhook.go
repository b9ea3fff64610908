// Package webhook delivers a completed Article to the configured downstream
// sink as the terminal {source_url, status, data} envelope, retrying
// transient failures with backoff before giving up.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/newsagent/orchestrator/internal/types"
)

// Sink delivers completed articles to an HTTP endpoint.
type Sink struct {
	Endpoint   string
	Secret     string
	MaxRetries int
	http       *http.Client
	logger     *slog.Logger
}

// New creates a Sink targeting endpoint. Deliveries carry secret verbatim in
// the X-Webhook-Secret header; the receiver is expected to compare it
// directly, not verify an HMAC.
func New(endpoint, secret string, maxRetries int, logger *slog.Logger) *Sink {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Sink{
		Endpoint:   endpoint,
		Secret:     secret,
		MaxRetries: maxRetries,
		http:       &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With("component", "webhook"),
	}
}

// envelope is the terminal payload shape every webhook delivery sends.
type envelope struct {
	SourceURL string      `json:"source_url"`
	Status    string      `json:"status"`
	Data      interface{} `json:"data"`
}

// Deliver POSTs article wrapped in the terminal envelope to the sink,
// retrying with exponential backoff on transport errors and 5xx responses.
func (s *Sink) Deliver(ctx context.Context, article *types.Article) error {
	payload, err := json.Marshal(envelope{SourceURL: article.SourceURL, Status: "success", Data: article})
	if err != nil {
		return fmt.Errorf("marshal article %s: %w", article.ID, err)
	}

	var lastErr error
	var lastStatus int
	backoff := 500 * time.Millisecond
	attempts := 0

	for attempt := 1; attempt <= s.MaxRetries; attempt++ {
		attempts = attempt
		status, err := s.attempt(ctx, payload)
		if err == nil && status >= 200 && status < 300 {
			return nil
		}
		lastErr = err
		lastStatus = status

		if status > 0 && status < 500 && status != http.StatusTooManyRequests {
			break // non-retryable client error
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return &types.WebhookFailure{URL: s.Endpoint, StatusCode: lastStatus, Attempts: attempts, Err: lastErr}
}

func (s *Sink) attempt(ctx context.Context, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "NewsAgent/1.0")
	if s.Secret != "" {
		req.Header.Set("X-Webhook-Secret", s.Secret)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
