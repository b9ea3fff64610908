// Package pipeline executes the enrichment workflow a single article job
// goes through: fetch, link extraction, summarization with a validate/
// regenerate loop, link scoring, related-article search, categorization,
// translation/country enrichment, SEO metadata generation, and webhook
// delivery. It replaces the crawler's linear Middleware chain (which only
// ever ran forward over one Item) with a typed stage-function list plus one
// conditional edge, mirroring the graph this pipeline's node ordering is
// grounded on.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"github.com/newsagent/orchestrator/internal/browserpool"
	"github.com/newsagent/orchestrator/internal/extract"
	"github.com/newsagent/orchestrator/internal/governance"
	"github.com/newsagent/orchestrator/internal/llm"
	"github.com/newsagent/orchestrator/internal/search"
	"github.com/newsagent/orchestrator/internal/types"
	"github.com/newsagent/orchestrator/internal/webhook"
)

const (
	// linkScoreConcurrency bounds how many embedded links scoreEmbeddedLinks
	// visits concurrently, so a long article never opens dozens of browser
	// tabs at once.
	linkScoreConcurrency = 8
	// linkVisitBudget is the navigation timeout for a single embedded link's
	// own page.
	linkVisitBudget = 15 * time.Second
	// linkTextChars is how much visible text is kept from a visited link
	// before it's handed to the relevance prompt.
	linkTextChars = 1500

	maxRelatedQueries = 5
)

// Renderer fetches and renders a URL's HTML. Implemented by
// internal/browserpool.Pool; kept as an interface so the pipeline can be
// tested without launching a real browser.
type Renderer interface {
	Render(ctx context.Context, url string, cfg RenderConfig) (string, error)
}

// RenderConfig is browserpool.Config; the pipeline sets only its UserAgent
// and NavTimeout fields.
type RenderConfig = browserpool.Config

// Deps are the external collaborators every stage may call through. Stages
// are plain functions over (ctx, *Deps, *types.WorkflowState) rather than
// methods so each one can be tested in isolation with a minimal Deps.
type Deps struct {
	Gate     *governance.Gatekeeper
	Renderer Renderer
	LLM      llm.Client
	Search   search.Client
	Webhook  *webhook.Sink
	Prompts  map[string]string
	// CategoryMapping is the category name->external_id taxonomy, loaded
	// once at worker startup and not reloaded per job; categorize_article
	// resolves the LLM's predicted names against it.
	CategoryMapping map[string]string
	UserAgent       string
	Logger          *slog.Logger

	MaxValidationRounds int
}

// Stage is one node in the pipeline graph.
type Stage func(ctx context.Context, deps *Deps, state *types.WorkflowState)

// Run drives state through every stage in order, short-circuiting as soon as
// a stage records a failure, and handles the validate/regenerate loop
// between generate_summary and validate_summary.
func Run(ctx context.Context, deps *Deps, state *types.WorkflowState) *types.WorkflowState {
	stages := []Stage{
		fetchContent,
		extractLinks,
	}
	for _, stage := range stages {
		stage(ctx, deps, state)
		if state.Failed() {
			return state
		}
	}

	runValidationLoop(ctx, deps, state)
	if state.Failed() {
		return state
	}

	remaining := []Stage{
		selectBestSummary,
		scoreEmbeddedLinks,
		findRelatedArticles,
		categorizeArticle,
		enrichTranslationAndCountries,
		generateSEO,
		notifyWebhook,
	}
	for _, stage := range remaining {
		stage(ctx, deps, state)
		if state.Failed() {
			return state
		}
	}

	return state
}

// runValidationLoop generates a summary candidate, validates it, and
// regenerates on rejection: the first attempt uses summary_initial_user, and
// every subsequent attempt uses summary_retry_user threaded with the
// previous round's validator feedback. The loop is terminal as soon as a
// round validates, or once validation_count reaches MaxRetries — whichever
// comes first. The last candidate generated is kept even if never
// validated, so select_best_summary always has at least one candidate to
// choose from.
func runValidationLoop(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	maxRounds := state.MaxRetries
	if maxRounds <= 0 {
		maxRounds = deps.MaxValidationRounds
	}
	if maxRounds <= 0 {
		maxRounds = 1
	}

	for round := 0; round < maxRounds; round++ {
		state.ValidationRounds = round + 1

		generateSummary(ctx, deps, state, round)
		if state.Failed() {
			return
		}

		validateSummary(ctx, deps, state)
		if state.Failed() {
			return
		}

		if state.LastValidation.Valid {
			return
		}
	}
}

func fetchContent(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	allowed, err := deps.Gate.CanFetch(ctx, state.URL)
	if err != nil {
		state.Fail("fetch_content", fmt.Errorf("governance check: %w", err))
		return
	}
	if !allowed {
		state.Fail("fetch_content", &types.GovernanceDenied{URL: state.URL, Reason: "robots.txt disallows this path"})
		return
	}
	if err := deps.Gate.WaitForSlot(ctx, state.URL); err != nil {
		state.Fail("fetch_content", fmt.Errorf("rate limit wait: %w", err))
		return
	}

	html, err := deps.Renderer.Render(ctx, state.URL, RenderConfig{UserAgent: deps.UserAgent, NavTimeout: 60 * time.Second})
	if err != nil {
		state.Fail("fetch_content", &types.FetchError{URL: state.URL, Err: err, Retryable: true})
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		state.Fail("fetch_content", &types.ParseError{URL: state.URL, Strategy: "html", Err: err})
		return
	}

	title, body := extract.Article(doc, state.URL)
	if body == "" {
		// Every heuristic selector came up empty (a markup shape the fixed
		// candidateSelectors list doesn't cover): fall back to an
		// LLM-driven extraction over the raw page before giving up.
		title, body = extractWithLLM(ctx, deps, state.URL, html)
	}
	if body == "" {
		state.Fail("fetch_content", types.ErrEmptyResponse)
		return
	}

	state.RawHTML = html
	state.Title = title
	state.RawContent = body
	state.ExtractedAt = time.Now()
}

// extractWithLLM is the content_extractor fallback strategy: a single
// structured-output call over the raw HTML, used only when the fixed
// selector heuristics fail to find an article body.
func extractWithLLM(ctx context.Context, deps *Deps, url, html string) (title, body string) {
	prompt := deps.Prompts["content_extractor"] + "\n\nURL: " + url + "\n\nHTML:\n" + truncateRunes(html, 20000)

	var result struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := deps.LLM.GenerateJSON(ctx, prompt, &result); err != nil {
		return "", ""
	}
	return strings.TrimSpace(result.Title), strings.TrimSpace(result.Body)
}

func extractLinks(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(state.RawHTML))
	if err != nil {
		state.Fail("extract_links", &types.ParseError{URL: state.URL, Strategy: "html", Err: err})
		return
	}
	state.Links = extract.Links(doc, state.URL)
}

// generateSummary runs one generate_summary round. round 0 is the first
// attempt (summary_system + summary_initial_user); every later round reuses
// summary_system + summary_retry_user, threading in the previous candidate
// and the validator's rejection feedback.
func generateSummary(ctx context.Context, deps *Deps, state *types.WorkflowState, round int) {
	var prompt string
	if round == 0 {
		prompt = deps.Prompts["summary_system"] + "\n\n" + deps.Prompts["summary_initial_user"] +
			"\n\nArticle:\n" + state.RawContent
	} else {
		previous := state.SummaryAttempts[len(state.SummaryAttempts)-1]
		feedback := strings.Join(previous.Validation.Issues, "; ")
		prompt = deps.Prompts["summary_system"] + "\n\n" + deps.Prompts["summary_retry_user"] +
			"\n\nArticle:\n" + state.RawContent +
			"\n\nPrevious summary:\n" + previous.Summary +
			"\n\nValidator feedback:\n" + feedback
	}

	summary, err := deps.LLM.Generate(ctx, prompt)
	if err != nil {
		state.Fail("generate_summary", &types.LLMError{Stage: "generate_summary", Err: err})
		return
	}
	state.SummaryAttempts = append(state.SummaryAttempts, types.SummaryAttempt{Summary: strings.TrimSpace(summary)})
	// Clears any validation a prior round left attached: the edge
	// downstream must see a fresh, unvalidated candidate.
	state.LastValidation = types.ValidationResult{}
}

func validateSummary(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	idx := len(state.SummaryAttempts) - 1
	latest := state.SummaryAttempts[idx].Summary
	prompt := deps.Prompts["validation_system"] + "\n\n" + deps.Prompts["validation_user"] +
		"\n\nArticle:\n" + state.RawContent + "\n\nSummary:\n" + latest

	var result types.ValidationResult
	if err := deps.LLM.GenerateJSON(ctx, prompt, &result); err != nil {
		state.Fail("validate_summary", &types.LLMError{Stage: "validate_summary", Err: err})
		return
	}
	state.SummaryAttempts[idx].Validation = result
	state.LastValidation = result
	state.ValidationRounds = len(state.SummaryAttempts)
}

// selectBestSummary is deterministic, not a further LLM call: it picks the
// attempt with the greatest SemanticScore (a null/zero score loses to any
// scored attempt) and copies it onto the article fields downstream stages
// read. Runs exactly once, after the validation loop terminates either way.
func selectBestSummary(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	best := state.SummaryAttempts[0]
	for _, a := range state.SummaryAttempts[1:] {
		if a.Validation.SemanticScore > best.Validation.SemanticScore {
			best = a
		}
	}
	state.SelectedSummary = best.Summary
	state.LastValidation = best.Validation
}

// scoreEmbeddedLinks fans out over every link found in the article body,
// bounded by linkScoreConcurrency concurrent visits. Each worker passes the
// link's URL through the governance gate, opens a fresh render of it, extracts the first linkTextChars of
// visible text, and scores it for relevance against the article's summary.
// A link whose visit or scoring fails is left at score 0 rather than
// failing the stage.
func scoreEmbeddedLinks(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	if len(state.Links) == 0 {
		return
	}

	sem := semaphore.NewWeighted(linkScoreConcurrency)
	var wg sync.WaitGroup
	for i := range state.Links {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(link *types.EmbeddedLink) {
			defer wg.Done()
			defer sem.Release(1)
			scoreLink(ctx, deps, state, link)
		}(&state.Links[i])
	}
	wg.Wait()
}

func scoreLink(ctx context.Context, deps *Deps, state *types.WorkflowState, link *types.EmbeddedLink) {
	allowed, err := deps.Gate.CanFetch(ctx, link.URL)
	if err != nil || !allowed {
		deps.Logger.Warn("link visit not permitted, scoring 0", "url", link.URL, "error", err)
		return
	}
	if err := deps.Gate.WaitForSlot(ctx, link.URL); err != nil {
		deps.Logger.Warn("rate limit wait failed, scoring 0", "url", link.URL, "error", err)
		return
	}

	navCtx, cancel := context.WithTimeout(ctx, linkVisitBudget)
	defer cancel()

	html, err := deps.Renderer.Render(navCtx, link.URL, RenderConfig{UserAgent: deps.UserAgent, NavTimeout: linkVisitBudget})
	if err != nil {
		deps.Logger.Warn("link visit failed, scoring 0", "url", link.URL, "error", err)
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		deps.Logger.Warn("link page parse failed, scoring 0", "url", link.URL, "error", err)
		return
	}
	text := truncateRunes(strings.TrimSpace(doc.Find("body").Text()), linkTextChars)

	prompt := deps.Prompts["relevance_system"] + "\n\n" + deps.Prompts["relevance_user"] +
		fmt.Sprintf("\n\nArticle summary:\n%s\n\nLink text:\n%s", state.SelectedSummary, text)

	var result struct {
		Score  float64 `json:"score"`
		Reason string  `json:"reason"`
	}
	if err := deps.LLM.GenerateJSON(ctx, prompt, &result); err != nil {
		deps.Logger.Warn("link scoring failed, defaulting to 0", "url", link.URL, "error", err)
		return
	}
	link.RelevanceScore = result.Score
	link.Reason = result.Reason
}

// findRelatedArticles generates 3-5 diverse search queries from the article
// summary in a single structured-output call, then runs each query through
// the search tool sequentially, unioning results by URL against a seen-set
// seeded with the article's own URL.
func findRelatedArticles(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	if deps.Search == nil {
		return
	}

	queryPrompt := deps.Prompts["search_system"] + "\n\n" + deps.Prompts["search_user"] + "\n\n" + state.SelectedSummary
	var queries []string
	if err := deps.LLM.GenerateJSON(ctx, queryPrompt, &queries); err != nil {
		deps.Logger.Warn("search query generation failed, skipping related articles", "job_id", state.JobID, "error", err)
		return
	}
	if len(queries) > maxRelatedQueries {
		queries = queries[:maxRelatedQueries]
	}

	seen := map[string]bool{state.URL: true}
	var related []string
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}

		results, err := deps.Search.Search(ctx, q)
		if err != nil {
			deps.Logger.Warn("related article search failed", "job_id", state.JobID, "query", q, "error", err)
			continue
		}
		for _, u := range results {
			if seen[u] {
				continue
			}
			seen[u] = true
			related = append(related, u)
		}
	}
	state.SearchResults = related
}

func categorizeArticle(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	prompt := deps.Prompts["categorization_system"] + "\n\n" + deps.Prompts["categorization_user"] + "\n\n" + state.SelectedSummary

	var names []string
	if err := deps.LLM.GenerateJSON(ctx, prompt, &names); err != nil {
		state.Fail("categorize_article", &types.LLMError{Stage: "categorize_article", Err: err})
		return
	}
	if len(names) > 3 {
		names = names[:3] // structured-output upper bound; see §9 categorization ambiguity
	}

	normalized := make(map[string]string, len(deps.CategoryMapping))
	for name, id := range deps.CategoryMapping {
		normalized[normalizeCategory(name)] = id
	}

	var ids []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if id, ok := deps.CategoryMapping[name]; ok {
			ids = append(ids, id)
			continue
		}
		if id, ok := normalized[normalizeCategory(name)]; ok {
			ids = append(ids, id)
			continue
		}
		deps.Logger.Warn("unresolved category prediction, skipping", "job_id", state.JobID, "category", name)
	}

	state.Categories = names
	state.CategoryIDs = ids
	if len(names) > 0 {
		state.Category = names[0]
	}
}

// enrichTranslationAndCountries runs the translation and country-extraction
// stages. Both are PartialEnrichmentFailure territory (§7): a failure here
// leaves the corresponding field empty rather than failing the job.
func enrichTranslationAndCountries(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	translatePrompt := deps.Prompts["translation_system"] + "\n\n" + deps.Prompts["translation_user"] +
		"\n\nTitle:\n" + state.Title + "\n\nSummary:\n" + state.SelectedSummary + "\n\nContent:\n" + state.RawContent

	var translation struct {
		TitleAr   string `json:"title_ar"`
		SummaryAr string `json:"summary_ar"`
		ContentAr string `json:"content_ar"`
	}
	if err := deps.LLM.GenerateJSON(ctx, translatePrompt, &translation); err != nil {
		deps.Logger.Warn("translation failed, leaving Arabic fields empty", "job_id", state.JobID, "error", err)
	} else {
		state.TitleAr = translation.TitleAr
		state.SummaryAr = translation.SummaryAr
		state.ContentAr = translation.ContentAr
	}

	countryPrompt := deps.Prompts["country_extraction_system"] + "\n\n" + deps.Prompts["country_extraction_user"] +
		"\n\n" + state.RawContent

	var countries []string
	if err := deps.LLM.GenerateJSON(ctx, countryPrompt, &countries); err != nil {
		deps.Logger.Warn("country extraction failed, leaving countries empty", "job_id", state.JobID, "error", err)
		return
	}
	state.Countries = countries
}

// generateSEO makes a single structured-output call producing every SEO
// field at once: a meta_title capped at 60 characters, a meta_description
// capped at 160, a slug capped at 9 words, up to 5 primary keywords, and the
// OpenGraph/Twitter Card fields. JSONLD is then assembled deterministically
// from the result, not by the model.
func generateSEO(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	prompt := deps.Prompts["seo_system"] + "\n\n" + deps.Prompts["seo_user"] +
		"\n\nTitle:\n" + state.Title + "\n\nSummary:\n" + state.SelectedSummary

	var result struct {
		MetaTitle          string   `json:"meta_title"`
		MetaDescription    string   `json:"meta_description"`
		Slug               string   `json:"slug"`
		PrimaryKeywords    []string `json:"primary_keywords"`
		OGTitle            string   `json:"og_title"`
		OGDescription      string   `json:"og_description"`
		OGImage            string   `json:"og_image"`
		TwitterCard        string   `json:"twitter_card"`
		TwitterTitle       string   `json:"twitter_title"`
		TwitterDescription string   `json:"twitter_description"`
		TwitterImage       string   `json:"twitter_image"`
	}
	if err := deps.LLM.GenerateJSON(ctx, prompt, &result); err != nil {
		state.Fail("generate_seo", &types.LLMError{Stage: "generate_seo", Err: err})
		return
	}

	keywords := result.PrimaryKeywords
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}

	seo := types.SeoMetadata{
		MetaTitle:          truncateRunes(strings.TrimSpace(result.MetaTitle), 60),
		MetaDescription:    truncateRunes(strings.TrimSpace(result.MetaDescription), 160),
		Slug:               normalizeSlug(result.Slug),
		PrimaryKeywords:    keywords,
		OGTitle:            strings.TrimSpace(result.OGTitle),
		OGDescription:      strings.TrimSpace(result.OGDescription),
		OGImage:            strings.TrimSpace(result.OGImage),
		TwitterCard:        strings.TrimSpace(result.TwitterCard),
		TwitterTitle:       strings.TrimSpace(result.TwitterTitle),
		TwitterDescription: strings.TrimSpace(result.TwitterDescription),
		TwitterImage:       strings.TrimSpace(result.TwitterImage),
	}
	seo.JSONLD = buildJSONLD(state, seo)
	state.SEO = seo
}

// buildJSONLD deterministically assembles a schema.org NewsArticle document.
// The LLM never produces this: generate_seo's structured-output call fills
// the rest of SeoMetadata, and this is plain Go over the result.
func buildJSONLD(state *types.WorkflowState, seo types.SeoMetadata) map[string]any {
	now := time.Now().Format(time.RFC3339)
	return map[string]any{
		"@context":       "https://schema.org",
		"@type":          "NewsArticle",
		"headline":       seo.MetaTitle,
		"description":    seo.MetaDescription,
		"keywords":       seo.PrimaryKeywords,
		"url":            state.URL,
		"articleSection": state.Category,
		"datePublished":  now,
		"dateModified":   now,
		"publisher": map[string]any{
			"@type": "Organization",
			"name":  "NewsAgent",
		},
	}
}

// notifyWebhook is best-effort (§7 WebhookFailure): a delivery timeout or
// non-2xx is logged but never sets error_message, so the job still reports
// completed status even when the downstream sink is unreachable.
func notifyWebhook(ctx context.Context, deps *Deps, state *types.WorkflowState) {
	if deps.Webhook == nil {
		return
	}
	article := state.ToArticle()
	article.ID = state.JobID
	if err := deps.Webhook.Deliver(ctx, article); err != nil {
		deps.Logger.Warn("webhook delivery failed, job still reports completed", "job_id", state.JobID, "error", err)
	}
}

// normalizeCategory lowercases s and strips punctuation so a prediction like
// "**Market News**" still resolves against a mapping keyed by "Market News".
func normalizeCategory(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// normalizeSlug slugifies s and caps it at 9 hyphen-separated words. It
// never pads a short slug out to 7 words: the word-count target is the
// seo_user prompt's job, not something invented here from a short result.
func normalizeSlug(s string) string {
	slug := slugify(s)
	parts := strings.Split(slug, "-")
	if len(parts) > 9 {
		parts = parts[:9]
	}
	return strings.Join(parts, "-")
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// truncateRunes cuts s to at most max runes, safe for multi-byte content
// unlike a byte-index slice.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
