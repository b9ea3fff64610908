// Package scheduler polls each enabled source's listing page on a fixed
// interval, filters newly seen links, and submits them to the job API.
// Grounded on the teacher's internal/engine/scheduler.go ticker-driven loop
// and bounded worker pool, generalized so the per-source fetch goes through
// the distributed governance gate instead of an in-process robots/delay
// cache, and the concurrency cap is an explicit semaphore.Weighted rather
// than a raw goroutine pool.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"

	"github.com/newsagent/orchestrator/internal/browserpool"
	"github.com/newsagent/orchestrator/internal/extract"
	"github.com/newsagent/orchestrator/internal/governance"
	"github.com/newsagent/orchestrator/internal/linkfilter"
	"github.com/newsagent/orchestrator/internal/types"
)

const maxConcurrentSourceChecks = 3

// SourceStore is the narrow interface the scheduler depends on for source
// bookkeeping and discovery dedup.
type SourceStore interface {
	ListEnabledSources(ctx context.Context) ([]types.Source, error)
	MarkCrawled(ctx context.Context, sourceID string) error
	IsKnownURL(ctx context.Context, sourceID, url string) (bool, error)
	RecordDiscovered(ctx context.Context, a *types.DiscoveredArticle) error
	MarkEnqueued(ctx context.Context, sourceID, url string) error
	MarkSubmissionFailed(ctx context.Context, sourceID, url string) error
}

// Notifier is emailed when checking a source panics or a discovered article
// fails submission. Implemented by internal/notifier.Notifier; kept as an
// interface so it can be stubbed out in tests without dialing SMTP.
type Notifier interface {
	NotifyFailure(jobID, sourceURL, reason string)
}

// Renderer fetches and renders a listing page's HTML. Implemented by
// internal/browserpool.Pool; kept as an interface so the scheduler can be
// tested without launching a real browser.
type Renderer interface {
	Render(ctx context.Context, url string, cfg browserpool.Config) (string, error)
}

// Scheduler runs the periodic discovery loop.
type Scheduler struct {
	store    SourceStore
	gate     *governance.Gatekeeper
	browser  Renderer
	notifier Notifier
	sem      *semaphore.Weighted

	apiURL string
	apiKey string
	http   *http.Client

	interval time.Duration
	logger   *slog.Logger
}

// Config configures a Scheduler.
type Config struct {
	APIURL   string
	APIKey   string
	Interval time.Duration
}

// New builds a Scheduler. notifier may be nil in tests that don't care about
// failure emails.
func New(store SourceStore, gate *governance.Gatekeeper, browser Renderer, notifier Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		store:    store,
		gate:     gate,
		browser:  browser,
		notifier: notifier,
		sem:      semaphore.NewWeighted(maxConcurrentSourceChecks),
		apiURL:   cfg.APIURL,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: 15 * time.Second},
		interval: cfg.Interval,
		logger:   logger.With("component", "scheduler"),
	}
}

// Run ticks every Interval until ctx is canceled. A tick that is still
// running when the next one fires is skipped rather than overlapped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sources, err := s.store.ListEnabledSources(ctx)
	if err != nil {
		s.logger.Error("list sources failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	for _, src := range sources {
		if !due(src) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(src types.Source) {
			defer wg.Done()
			defer s.sem.Release(1)
			s.checkSourceSafely(ctx, src)
		}(src)
	}
}

// due reports whether src's PollInterval has elapsed since its last crawl,
// or it has never been crawled at all, or it has no positive PollInterval.
func due(src types.Source) bool {
	if src.LastCrawledAt.IsZero() {
		return true
	}
	if src.PollInterval <= 0 {
		return true
	}
	return time.Since(src.LastCrawledAt) >= src.PollInterval
}

// checkSourceSafely recovers from a panic in checkSource so one malformed
// source page never takes the whole discovery tick down, attaching a
// synthetic job id (scheduler-<source_id>) and notifying same as any other
// job failure.
func (s *Scheduler) checkSourceSafely(ctx context.Context, src types.Source) {
	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			s.logger.Error("source check panicked", "source_id", src.ID, "panic", r)
			if s.notifier != nil {
				s.notifier.NotifyFailure("scheduler-"+src.ID, src.ListingURL, reason)
			}
		}
	}()
	s.checkSource(ctx, src)
}

func (s *Scheduler) checkSource(ctx context.Context, src types.Source) {
	logger := s.logger.With("source_id", src.ID, "listing_url", src.ListingURL)

	allowed, err := s.gate.CanFetch(ctx, src.ListingURL)
	if err != nil {
		logger.Error("robots check failed", "error", err)
		return
	}
	if !allowed {
		logger.Info("listing page denied by robots.txt")
		s.store.MarkCrawled(ctx, src.ID)
		return
	}

	if err := s.gate.WaitForSlot(ctx, src.ListingURL); err != nil {
		logger.Error("rate limit wait failed", "error", err)
		return
	}

	html, err := s.browser.Render(ctx, src.ListingURL, browserpool.Config{})
	if err != nil {
		logger.Error("render listing page failed", "error", err)
		s.store.MarkCrawled(ctx, src.ID)
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logger.Error("parse listing page failed", "error", err)
		s.store.MarkCrawled(ctx, src.ID)
		return
	}

	baseDomain := ""
	if u, err := url.Parse(src.ListingURL); err == nil {
		baseDomain = u.Hostname()
	}

	selector := src.LinkSelector
	if selector == "" {
		selector = "a[href]"
	}

	n := 0
	for _, link := range extract.ListingLinks(doc, src.ListingURL, selector) {
		if !linkfilter.Allowed(link.URL, link.AnchorText, baseDomain) {
			continue
		}
		known, err := s.store.IsKnownURL(ctx, src.ID, link.URL)
		if err != nil {
			logger.Error("known url check failed", "url", link.URL, "error", err)
			continue
		}
		if known {
			continue
		}

		if err := s.store.RecordDiscovered(ctx, &types.DiscoveredArticle{
			SourceID: src.ID,
			URL:      link.URL,
			Title:    link.AnchorText,
		}); err != nil {
			logger.Error("record discovered failed", "url", link.URL, "error", err)
			continue
		}

		if err := s.submitJob(ctx, link.URL, src.ID); err != nil {
			logger.Error("submit job failed", "url", link.URL, "error", err)
			if markErr := s.store.MarkSubmissionFailed(ctx, src.ID, link.URL); markErr != nil {
				logger.Error("mark submission_failed failed", "url", link.URL, "error", markErr)
			}
			if s.notifier != nil {
				s.notifier.NotifyFailure("scheduler-"+src.ID, link.URL, err.Error())
			}
			continue
		}
		s.store.MarkEnqueued(ctx, src.ID, link.URL)
		n++
	}

	s.store.MarkCrawled(ctx, src.ID)
	logger.Info("source check complete", "new_links", n)
}

func (s *Scheduler) submitJob(ctx context.Context, sourceURL, sourceID string) error {
	payload, err := json.Marshal(map[string]any{"source_url": sourceURL})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/submit-job", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", s.apiKey)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit-job: unexpected status %d", resp.StatusCode)
	}
	return nil
}
