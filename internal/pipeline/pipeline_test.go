package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/newsagent/orchestrator/internal/governance"
	"github.com/newsagent/orchestrator/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testGatekeeper(t *testing.T) *governance.Gatekeeper {
	t.Helper()
	_, rdb := newTestRedis(t)
	return governance.New(rdb, nil, "test-agent", testLogger())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

// fakeRenderer returns a fixed HTML page regardless of URL, standing in for
// internal/browserpool.Pool so fetch_content can be tested without a real
// browser.
type fakeRenderer struct {
	html string
	err  error
}

func (f *fakeRenderer) Render(ctx context.Context, url string, cfg RenderConfig) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.html, nil
}

const fakeArticleHTML = `<html><head><title>fallback title</title></head><body>
<article><h1>Test Headline</h1><p>` + strings.Repeat("This is sentence content about the story. ", 20) + `</p>
<a href="https://example.com/related">a related story</a></article>
</body></html>`

// fakeLLM dispatches Generate/GenerateJSON responses by matching a substring
// against the prompt, in order, so each test can script exactly the
// responses its stages need without depending on call count.
type fakeLLM struct {
	textByContains map[string]string
	jsonByContains map[string]any
	genErr         error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if f.genErr != nil {
		return "", f.genErr
	}
	for substr, resp := range f.textByContains {
		if strings.Contains(prompt, substr) {
			return resp, nil
		}
	}
	return "default response", nil
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string, out any) error {
	if f.genErr != nil {
		return f.genErr
	}
	for substr, payload := range f.jsonByContains {
		if strings.Contains(prompt, substr) {
			b, err := json.Marshal(payload)
			if err != nil {
				return err
			}
			return json.Unmarshal(b, out)
		}
	}
	return errors.New("fakeLLM: no scripted response for prompt")
}

func basePrompts() map[string]string {
	prompts := map[string]string{}
	for _, name := range types.RequiredPromptNames {
		prompts[name] = "prompt:" + name
	}
	return prompts
}

func baseState(url string) *types.WorkflowState {
	return &types.WorkflowState{
		JobID:      "job-1",
		URL:        url,
		MaxRetries: 3,
	}
}

// TestRunValidationLoop_AcceptsFirstValidSummary checks that the loop stops
// as soon as a round validates, never trying a retry round.
func TestRunValidationLoop_AcceptsFirstValidSummary(t *testing.T) {
	deps := &Deps{
		Gate:     testGatekeeper(t),
		Renderer: &fakeRenderer{html: fakeArticleHTML},
		Prompts:  basePrompts(),
		Logger:   testLogger(),
		LLM: &fakeLLM{
			textByContains: map[string]string{
				"summary_initial_user": "a concise valid summary",
			},
			jsonByContains: map[string]any{
				"validation_user": map[string]any{"valid": true, "semantic_score": 9.0, "tone_score": 8.0},
			},
		},
	}
	state := baseState("https://news.example.com/a")

	runValidationLoop(context.Background(), deps, state)

	if state.Failed() {
		t.Fatalf("unexpected failure: %s", state.ErrorMessage)
	}
	if len(state.SummaryAttempts) != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", len(state.SummaryAttempts))
	}
	if !state.LastValidation.Valid {
		t.Fatalf("expected last validation to be valid")
	}
	if state.ValidationRounds != 1 {
		t.Fatalf("expected ValidationRounds=1, got %d", state.ValidationRounds)
	}
}

// TestRunValidationLoop_BoundedByMaxRetries verifies validation_count never
// exceeds MaxRetries even when every round is rejected by the validator.
func TestRunValidationLoop_BoundedByMaxRetries(t *testing.T) {
	deps := &Deps{
		Gate:     testGatekeeper(t),
		Renderer: &fakeRenderer{html: fakeArticleHTML},
		Prompts:  basePrompts(),
		Logger:   testLogger(),
		LLM: &fakeLLM{
			textByContains: map[string]string{
				"summary_initial_user": "candidate one",
				"summary_retry_user":   "candidate two",
			},
			jsonByContains: map[string]any{
				"validation_user": map[string]any{"valid": false, "semantic_score": 4.0, "tone_score": 4.0},
			},
		},
	}
	state := baseState("https://news.example.com/a")
	state.MaxRetries = 2

	runValidationLoop(context.Background(), deps, state)

	if state.Failed() {
		t.Fatalf("unexpected failure: %s", state.ErrorMessage)
	}
	if len(state.SummaryAttempts) != 2 {
		t.Fatalf("expected exactly 2 attempts bounded by MaxRetries, got %d", len(state.SummaryAttempts))
	}
	if state.LastValidation.Valid {
		t.Fatalf("expected every round rejected, so last validation should not be valid")
	}
}

// TestSelectBestSummary_PicksGreatestSemanticScore matches the spec's
// retry-then-select scenario: three scored attempts, the first one wins.
func TestSelectBestSummary_PicksGreatestSemanticScore(t *testing.T) {
	state := &types.WorkflowState{
		SummaryAttempts: []types.SummaryAttempt{
			{Summary: "attempt one", Validation: types.ValidationResult{SemanticScore: 9.5}},
			{Summary: "attempt two", Validation: types.ValidationResult{SemanticScore: 7.0}},
			{Summary: "attempt three", Validation: types.ValidationResult{SemanticScore: 6.0}},
		},
	}

	selectBestSummary(context.Background(), &Deps{}, state)

	if state.SelectedSummary != "attempt one" {
		t.Fatalf("expected attempt with greatest semantic_score to win, got %q", state.SelectedSummary)
	}
	if state.LastValidation.SemanticScore != 9.5 {
		t.Fatalf("expected LastValidation to carry the winning attempt's score, got %v", state.LastValidation.SemanticScore)
	}
}

// TestCategorizeArticle_ResolvesNormalizedName verifies a prediction that
// doesn't exactly match the taxonomy still resolves via normalization.
func TestCategorizeArticle_ResolvesNormalizedName(t *testing.T) {
	deps := &Deps{
		Prompts: basePrompts(),
		Logger:  testLogger(),
		CategoryMapping: map[string]string{
			"Market News": "cat-externally-123",
		},
		LLM: &fakeLLM{
			jsonByContains: map[string]any{
				"categorization_user": []string{"**Market News**", "Unmapped Topic"},
			},
		},
	}
	state := baseState("https://news.example.com/a")
	state.SelectedSummary = "a summary"
	state.RawContent = "raw body"

	categorizeArticle(context.Background(), deps, state)

	if state.Failed() {
		t.Fatalf("unexpected failure: %s", state.ErrorMessage)
	}
	if len(state.CategoryIDs) != 1 || state.CategoryIDs[0] != "cat-externally-123" {
		t.Fatalf("expected normalized match to resolve to cat-externally-123, got %v", state.CategoryIDs)
	}
	if state.Category != "**Market News**" {
		t.Fatalf("expected Category to be the first raw prediction, got %q", state.Category)
	}
}

// TestFetchContent_GovernanceDenied checks the fail-fast edge for a
// robots.txt block, which the worker loop special-cases via errors.As.
func TestFetchContent_GovernanceDenied(t *testing.T) {
	mr, rdb := newTestRedis(t)
	// Pre-seed the robots cache as "disallow" for this domain so CanFetch
	// returns false without needing a real HTTP fetch.
	if err := mr.Set("robots_cache:blocked.example.com", "0"); err != nil {
		t.Fatalf("seed robots cache: %v", err)
	}

	deps := &Deps{
		Gate:     governance.New(rdb, nil, "test-agent", testLogger()),
		Renderer: &fakeRenderer{html: fakeArticleHTML},
		Logger:   testLogger(),
	}
	state := baseState("https://blocked.example.com/a")

	fetchContent(context.Background(), deps, state)

	if !state.Failed() {
		t.Fatalf("expected fetch_content to fail on robots.txt denial")
	}
	var denied *types.GovernanceDenied
	if !errors.As(state.FailedErr, &denied) {
		t.Fatalf("expected FailedErr to be a *types.GovernanceDenied, got %T: %v", state.FailedErr, state.FailedErr)
	}
}

// TestRun_ShortCircuitsOnFetchFailure verifies the staged executor stops at
// the first failed stage rather than running the rest of the pipeline.
func TestRun_ShortCircuitsOnFetchFailure(t *testing.T) {
	deps := &Deps{
		Gate:     testGatekeeper(t),
		Renderer: &fakeRenderer{err: errors.New("connection refused")},
		Prompts:  basePrompts(),
		Logger:   testLogger(),
		LLM:      &fakeLLM{},
	}
	state := baseState("https://news.example.com/a")

	result := Run(context.Background(), deps, state)

	if !result.Failed() {
		t.Fatalf("expected pipeline to fail")
	}
	if result.FailedStage != "fetch_content" {
		t.Fatalf("expected failure at fetch_content, got %q", result.FailedStage)
	}
	if len(result.SummaryAttempts) != 0 {
		t.Fatalf("expected summarization never to run after fetch failure")
	}
}
