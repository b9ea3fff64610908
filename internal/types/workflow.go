package types

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a queued job, persisted in the status
// hash the API layer reads back for job polling.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCrashed    JobStatus = "crashed"
)

// JobStatusUpdate carries the fields a status write may change beyond the
// status value itself. SourceURL is written on every status write (the
// created_at timestamp is set by SetStatus itself, once, and preserved
// across later updates); Result, Error and Traceback are each optional
// depending on where the job is in its lifecycle.
type JobStatusUpdate struct {
	SourceURL string
	Result    any
	Error     string
	Traceback string
}

// Source is a configured listing page the discovery scheduler polls
// periodically for new article links.
type Source struct {
	ID            string        `bson:"_id,omitempty"`
	Name          string        `bson:"name"`
	ListingURL    string        `bson:"listing_url"`
	LinkSelector  string        `bson:"link_selector"`
	DelaySeconds  int           `bson:"delay_seconds"`
	PollInterval  time.Duration `bson:"poll_interval"`
	Enabled       bool          `bson:"enabled"`
	LastCrawledAt time.Time     `bson:"last_crawled_at,omitempty"`
}

// DiscoveredArticle is a candidate link surfaced by the discovery scheduler
// before it has been enqueued for enrichment.
type DiscoveredArticle struct {
	ID         string    `bson:"_id,omitempty"`
	SourceID   string    `bson:"source_id"`
	URL        string    `bson:"url"`
	Title      string    `bson:"title,omitempty"`
	DiscoveredAt time.Time `bson:"discovered_at"`
	Enqueued   bool      `bson:"enqueued"`
	// SubmissionFailed is set when submit-job rejected this link; the
	// scheduler won't retry it on its own, an operator has to requeue it.
	SubmissionFailed bool `bson:"submission_failed,omitempty"`
}

// JobEnvelope is the unit of work placed on the Redis work queue. It carries
// only the addressing information the worker needs to start the pipeline;
// everything else is fetched fresh so a requeued job always starts clean.
type JobEnvelope struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	SourceID  string    `json:"source_id,omitempty"`
	Attempt   int       `json:"attempt"`
	MaxAttempts int     `json:"max_attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Prompt is a named LLM instruction template loaded from the prompt store.
// The worker's pipeline looks these up by Name; a deploy is rejected at
// startup if any name in the required set is missing.
type Prompt struct {
	Name      string `bson:"name"`
	Template  string `bson:"template"`
	UpdatedAt time.Time `bson:"updated_at,omitempty"`
}

// Category is an admin-managed taxonomy entry: a human name the
// categorization stage's LLM call predicts against, and the external id
// downstream consumers of the webhook actually key on.
type Category struct {
	Name       string `bson:"name"`
	ExternalID string `bson:"external_id"`
}

// RequiredPromptNames is the fixed set of prompts the pipeline depends on.
// Startup validation refuses to run unless every one of these resolves to a
// non-empty template.
var RequiredPromptNames = []string{
	"content_extractor",
	"summary_system",
	"summary_initial_user",
	"summary_retry_user",
	"validation_system",
	"validation_user",
	"relevance_system",
	"relevance_user",
	"search_system",
	"search_user",
	"categorization_system",
	"categorization_user",
	"seo_system",
	"seo_user",
	"translation_system",
	"translation_user",
	"country_extraction_system",
	"country_extraction_user",
}

// EmbeddedLink is an outbound link found within article body content, scored
// for relevance before being kept on the final Article record.
type EmbeddedLink struct {
	URL            string  `json:"url" bson:"url"`
	AnchorText     string  `json:"anchor_text" bson:"anchor_text"`
	RelevanceScore float64 `json:"relevance_score" bson:"relevance_score"`
	Reason         string  `json:"reason,omitempty" bson:"reason,omitempty"`
}

// SummaryAttempt pairs one generate_summary candidate with the validation
// verdict it received, so select_best_summary can rank the full history
// rather than just the most recent round.
type SummaryAttempt struct {
	Summary    string           `json:"summary"`
	Validation ValidationResult `json:"validation"`
}

// ValidationResult is the structured verdict the validate_summary stage
// produces; a Valid=false result drives the regenerate edge in the
// pipeline. SemanticScore is what select_best_summary ranks attempts by
// once the loop ends, whether or not any round returned Valid=true.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Issues        []string `json:"issues,omitempty"`
	SemanticScore float64  `json:"semantic_score"`
	ToneScore     float64  `json:"tone_score"`
}

// SeoMetadata is the single structured-output result of the generate_seo
// stage, embedded verbatim on the final Article. JSONLD is not LLM output:
// the executor deterministically builds a schema.org NewsArticle document
// from the rest of the article and attaches it here once generate_seo's
// structured-output call returns.
type SeoMetadata struct {
	MetaTitle          string         `json:"meta_title" bson:"meta_title"`
	MetaDescription    string         `json:"meta_description" bson:"meta_description"`
	Slug               string         `json:"slug" bson:"slug"`
	PrimaryKeywords    []string       `json:"primary_keywords" bson:"primary_keywords"`
	OGTitle            string         `json:"og_title" bson:"og_title"`
	OGDescription      string         `json:"og_description" bson:"og_description"`
	OGImage            string         `json:"og_image,omitempty" bson:"og_image,omitempty"`
	TwitterCard        string         `json:"twitter_card" bson:"twitter_card"`
	TwitterTitle       string         `json:"twitter_title" bson:"twitter_title"`
	TwitterDescription string         `json:"twitter_description" bson:"twitter_description"`
	TwitterImage       string         `json:"twitter_image,omitempty" bson:"twitter_image,omitempty"`
	JSONLD             map[string]any `json:"json_ld,omitempty" bson:"json_ld,omitempty"`
}

// Article is the fully enriched record produced by a successful pipeline run
// and handed to the webhook sink / archive collection.
type Article struct {
	ID              string         `json:"id" bson:"_id,omitempty"`
	SourceURL       string         `json:"source_url" bson:"source_url"`
	Title           string         `json:"title" bson:"title"`
	RawContent      string         `json:"-" bson:"raw_content"`
	Summary         string         `json:"summary" bson:"summary"`
	SummaryCandidates []string     `json:"-" bson:"summary_candidates,omitempty"`
	Category        string         `json:"category" bson:"category"`
	Categories      []string       `json:"categories,omitempty" bson:"categories,omitempty"`
	CategoryIDs     []string       `json:"category_ids,omitempty" bson:"category_ids,omitempty"`
	Countries       []string       `json:"countries,omitempty" bson:"countries,omitempty"`
	ContentAr       string         `json:"content_ar,omitempty" bson:"content_ar,omitempty"`
	SummaryAr       string         `json:"summary_ar,omitempty" bson:"summary_ar,omitempty"`
	TitleAr         string         `json:"title_ar,omitempty" bson:"title_ar,omitempty"`
	ReadingTime     int            `json:"reading_time" bson:"reading_time"`
	ReadingTimeAr   int            `json:"reading_time_ar,omitempty" bson:"reading_time_ar,omitempty"`
	EmbeddedLinks   []EmbeddedLink `json:"embedded_links,omitempty" bson:"embedded_links,omitempty"`
	RelatedArticles []string       `json:"related_articles,omitempty" bson:"related_articles,omitempty"`
	SEO             SeoMetadata    `json:"seo" bson:"seo"`
	PublishedAt     time.Time      `json:"published_at,omitempty" bson:"published_at,omitempty"`
	ProcessedAt     time.Time      `json:"processed_at" bson:"processed_at"`
}

// WorkflowState threads through every pipeline stage. Stages fail fast by
// setting ErrorMessage instead of returning a Go error: the executor checks
// it after every stage and short-circuits to job-status recording, mirroring
// how the graph this pipeline is descended from short-circuits on node state
// rather than on exceptions.
type WorkflowState struct {
	JobID        string
	URL          string
	SourceID     string
	Attempt      int

	RawHTML      string
	Title        string
	RawContent   string
	ExtractedAt  time.Time

	// MaxRetries bounds the validation retry loop; copied from the
	// envelope's MaxAttempts at job start so a per-submission override
	// (via POST /submit-job {max_retries}) actually reaches the pipeline.
	MaxRetries       int
	SummaryAttempts  []SummaryAttempt
	SelectedSummary  string
	ValidationRounds int
	LastValidation   ValidationResult

	Links         []EmbeddedLink
	SearchResults []string
	Category      string
	Categories    []string
	CategoryIDs   []string
	Countries     []string
	ContentAr     string
	SummaryAr     string
	TitleAr       string
	SEO           SeoMetadata

	ErrorMessage string
	FailedStage  string
	// FailedErr keeps the original error value alongside ErrorMessage so
	// the worker loop can distinguish operational outcomes (e.g.
	// GovernanceDenied, which is not DLQ'd or notified) from real
	// failures without parsing ErrorMessage text.
	FailedErr error
}

// Failed reports whether a prior stage recorded a fatal error.
func (s *WorkflowState) Failed() bool { return s.ErrorMessage != "" }

// Fail records a fatal error from the named stage. Subsequent stages in the
// executor's loop observe Failed() and skip their own work.
func (s *WorkflowState) Fail(stage string, err error) {
	s.FailedStage = stage
	s.ErrorMessage = err.Error()
	s.FailedErr = err
}

// wordsPerMinute is the reading speed readingTime divides word count by.
const wordsPerMinute = 200

// readingTime estimates minutes to read text at wordsPerMinute, rounding up
// so a short article is never reported as 0 minutes.
func readingTime(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// ToArticle assembles the final Article record once the pipeline completes
// without error.
func (s *WorkflowState) ToArticle() *Article {
	candidates := make([]string, len(s.SummaryAttempts))
	for i, a := range s.SummaryAttempts {
		candidates[i] = a.Summary
	}
	return &Article{
		SourceURL:     s.URL,
		Title:         s.Title,
		RawContent:    s.RawContent,
		Summary:       s.SelectedSummary,
		SummaryCandidates: candidates,
		Category:      s.Category,
		Categories:    s.Categories,
		CategoryIDs:   s.CategoryIDs,
		Countries:     s.Countries,
		ContentAr:     s.ContentAr,
		SummaryAr:     s.SummaryAr,
		ReadingTime:   readingTime(s.RawContent),
		ReadingTimeAr: readingTime(s.ContentAr),
		TitleAr:       s.TitleAr,
		EmbeddedLinks: s.Links,
		RelatedArticles: s.SearchResults,
		SEO:           s.SEO,
		ProcessedAt:   time.Now(),
	}
}
