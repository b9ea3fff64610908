// Package browserpool runs a bounded pool of headless-Chromium pages used to
// render JavaScript-heavy listing pages and article pages alike. It is
// descended from the crawler's BrowserFetcher, generalized from a
// single-purpose request/response fetcher into a semaphore-bounded render
// primitive shared by the discovery scheduler and the pipeline's fetch
// stage.
package browserpool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"golang.org/x/sync/semaphore"
)

// blockedResourceTypes are aborted at the network layer so rendering a
// listing or article page doesn't waste time/bandwidth on assets the
// extraction stages never look at.
var blockedResourceTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeImage:      true,
	proto.NetworkResourceTypeMedia:      true,
	proto.NetworkResourceTypeFont:       true,
	proto.NetworkResourceTypeStylesheet: true,
}

var blockedHosts = []string{
	"doubleclick.net", "googlesyndication.com", "googleadservices.com",
	"adservice.google.com", "taboola.com", "outbrain.com", "adsrvr.org",
}

// Pool renders pages through a pool of browser tabs bounded by a weighted
// semaphore, so a burst of concurrent fetch stages can never spin up more
// than Capacity tabs at once regardless of how many worker goroutines call
// Render concurrently.
type Pool struct {
	browser  *rod.Browser
	sem      *semaphore.Weighted
	capacity int64
	logger   *slog.Logger
}

// Config configures browser launch behavior.
type Config struct {
	Capacity int
	// WSEndpoint is a CDP websocket URL (BROWSER_WS_ENDPOINT) for an
	// already-running remote Chromium instance. When set, New connects to
	// it directly instead of launching a local browser process — the
	// production deployment shape, since every worker/scheduler process
	// shares one headless-browser service rather than each forking its
	// own Chromium.
	WSEndpoint  string
	UserAgent   string
	NavTimeout  time.Duration
	ScrollWait  time.Duration
	ScrollSteps int
}

// New connects to a pool of browser tabs capped at cfg.Capacity concurrent
// renders. If cfg.WSEndpoint is set it connects to that remote CDP
// endpoint; otherwise it launches a local headless Chromium process, which
// is convenient for development but not how the spec's BROWSER_WS_ENDPOINT
// deployment is meant to run.
func New(cfg Config, logger *slog.Logger) (*Pool, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 8
	}

	controlURL := cfg.WSEndpoint
	if controlURL == "" {
		l := launcher.New().
			Headless(true).
			Set("disable-gpu").
			Set("disable-dev-shm-usage").
			Set("no-sandbox").
			Set("disable-setuid-sandbox").
			Set("disable-blink-features", "AutomationControlled")

		launchURL, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = launchURL
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	logger.Info("browser pool ready", "capacity", cfg.Capacity)

	return &Pool{
		browser:  browser,
		sem:      semaphore.NewWeighted(int64(cfg.Capacity)),
		capacity: int64(cfg.Capacity),
		logger:   logger.With("component", "browser_pool"),
	}, nil
}

// Close shuts down the underlying browser.
func (p *Pool) Close() error {
	return p.browser.Close()
}

// Render navigates to url in a fresh stealth-patched tab, performs a bounded
// lazy-load scroll to trigger infinite-scroll listing pages, and returns the
// rendered HTML. It blocks until a pool slot is free or ctx is canceled.
func (p *Pool) Render(ctx context.Context, url string, cfg Config) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire browser slot: %w", err)
	}
	defer p.sem.Release(1)

	page, err := stealth.Page(p.browser)
	if err != nil {
		return "", fmt.Errorf("stealth page: %w", err)
	}
	defer page.Close()

	if cfg.UserAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent})
	}

	if err := p.interceptNetwork(page); err != nil {
		p.logger.Warn("network interception setup failed", "error", err)
	}

	timeout := cfg.NavTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if err := page.Timeout(timeout).Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		p.logger.Debug("page stability timeout, continuing", "url", url)
	}

	p.lazyScroll(page, cfg)

	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("read html %s: %w", url, err)
	}
	return html, nil
}

// interceptNetwork aborts requests for resource types and hosts the
// extraction stages never read, cutting render time and bandwidth.
func (p *Pool) interceptNetwork(page *rod.Page) error {
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		resourceType := h.Request.Type()
		host := h.Request.URL().Host

		if blockedResourceTypes[resourceType] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		for _, blocked := range blockedHosts {
			if strings.Contains(host, blocked) {
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return nil
}

// lazyScroll performs a two-phase scroll: incremental steps to trigger
// intersection-observer lazy loading, then a final scroll-to-bottom, with a
// short wait after each step for the page to render newly loaded content.
func (p *Pool) lazyScroll(page *rod.Page, cfg Config) {
	steps := cfg.ScrollSteps
	if steps <= 0 {
		steps = 4
	}
	wait := cfg.ScrollWait
	if wait <= 0 {
		wait = 400 * time.Millisecond
	}

	for i := 0; i < steps; i++ {
		_, err := page.Eval(`() => window.scrollBy(0, document.body.scrollHeight / 4)`)
		if err != nil {
			return
		}
		time.Sleep(wait)
	}

	_, _ = page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	time.Sleep(wait)
}
