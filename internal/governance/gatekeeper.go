// Package governance is the single choke point every fetch — discovery
// listing pages and article pages alike — passes through before a request
// leaves the process. It combines robots.txt compliance with a
// Redis-coordinated per-domain rate limit so that many worker processes
// sharing one queue never exceed one in-flight request per domain's
// configured delay.
package governance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	robotsCacheTTL = 24 * time.Hour
	delayCacheTTL  = 5 * time.Minute
	defaultDelay   = 5 * time.Second
)

// DelaySource resolves a per-domain crawl delay from durable configuration
// (the sources collection). Implemented by internal/storage.
type DelaySource interface {
	DelaySecondsForDomain(ctx context.Context, domain string) (int, bool, error)
}

// Gatekeeper enforces robots.txt and distributed rate limiting.
type Gatekeeper struct {
	redis     *redis.Client
	delays    DelaySource
	userAgent string
	client    *http.Client
	logger    *slog.Logger
}

// New creates a Gatekeeper. delays may be nil, in which case every domain
// uses defaultDelay.
func New(rdb *redis.Client, delays DelaySource, userAgent string, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		redis:     rdb,
		delays:    delays,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With("component", "governance"),
	}
}

// CanFetch reports whether robots.txt for rawURL's domain permits fetching
// it for the configured user agent. Results are cached in Redis for 24h;
// a robots.txt that can't be fetched defaults to allow, matching standard
// crawler behavior.
func (g *Gatekeeper) CanFetch(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse url: %w", err)
	}
	domain := u.Host
	cacheKey := "robots_cache:" + domain

	if cached, err := g.redis.Get(ctx, cacheKey).Result(); err == nil {
		return cached == "1", nil
	} else if err != redis.Nil {
		g.logger.Warn("robots cache read failed", "domain", domain, "error", err)
	}

	allowed := g.fetchAndCheckRobots(ctx, u)

	val := "0"
	if allowed {
		val = "1"
	}
	if err := g.redis.Set(ctx, cacheKey, val, robotsCacheTTL).Err(); err != nil {
		g.logger.Warn("robots cache write failed", "domain", domain, "error", err)
	}
	return allowed, nil
}

func (g *Gatekeeper) fetchAndCheckRobots(ctx context.Context, u *url.URL) bool {
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return true
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return true // robots.txt unreachable = allow, matches standard crawler convention
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return true
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return true
	}

	rules := parseRobotsTxt(string(body), g.userAgent)
	return rules.allows(u.Path)
}

// WaitForSlot blocks until the caller may fetch rawURL's domain without
// exceeding its configured rate limit. It acquires a Redis SET NX PX lock
// keyed by domain and sized to the domain's delay; callers that lose the
// race sleep for the lock's remaining TTL and retry.
func (g *Gatekeeper) WaitForSlot(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	domain := u.Host
	delay := g.dynamicDelay(ctx, domain)
	lockKey := "rate_limit:" + domain

	for {
		acquired, err := g.redis.SetNX(ctx, lockKey, "locked", delay).Result()
		if err != nil {
			return fmt.Errorf("acquire rate limit lock: %w", err)
		}
		if acquired {
			return nil
		}

		ttl, err := g.redis.PTTL(ctx, lockKey).Result()
		sleep := time.Second
		if err == nil && ttl > 0 {
			sleep = ttl + 100*time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// dynamicDelay resolves a domain's crawl delay: Redis cache, then the
// sources collection, then defaultDelay — caching whichever value it lands
// on for 5 minutes so a config change takes effect without hammering Mongo.
func (g *Gatekeeper) dynamicDelay(ctx context.Context, domain string) time.Duration {
	cacheKey := "config:delay:" + domain

	if cached, err := g.redis.Get(ctx, cacheKey).Result(); err == nil {
		var seconds int
		if _, scanErr := fmt.Sscanf(cached, "%d", &seconds); scanErr == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	delay := defaultDelay
	if g.delays != nil {
		if seconds, ok, err := g.delays.DelaySecondsForDomain(ctx, domain); err != nil {
			g.logger.Error("delay lookup failed", "domain", domain, "error", err)
		} else if ok {
			delay = time.Duration(seconds) * time.Second
		}
	}

	if err := g.redis.Set(ctx, cacheKey, int(delay/time.Second), delayCacheTTL).Err(); err != nil {
		g.logger.Warn("delay cache write failed", "domain", domain, "error", err)
	}
	return delay
}

// robotsRules holds the Disallow/Allow directives parsed for a single
// user-agent section of a robots.txt document.
type robotsRules struct {
	disallowed []string
	allowed    []string
}

func (r robotsRules) allows(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, pattern := range r.allowed {
		if matchRobotsPattern(pattern, path) {
			return true
		}
	}
	for _, pattern := range r.disallowed {
		if matchRobotsPattern(pattern, path) {
			return false
		}
	}
	return true
}

// parseRobotsTxt extracts the rules applying to userAgent (or "*") from raw
// robots.txt content.
func parseRobotsTxt(content, userAgent string) robotsRules {
	var rules robotsRules
	inOurSection := false
	ua := strings.ToLower(userAgent)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(strings.ToLower(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "user-agent":
			section := strings.ToLower(value)
			inOurSection = section == "*" || strings.Contains(ua, section) || strings.Contains(section, ua)
		case "disallow":
			if inOurSection && value != "" {
				rules.disallowed = append(rules.disallowed, value)
			}
		case "allow":
			if inOurSection && value != "" {
				rules.allowed = append(rules.allowed, value)
			}
		}
	}
	return rules
}

// matchRobotsPattern supports the * and trailing-$ wildcards robots.txt uses.
func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}

	endsWithDollar := strings.HasSuffix(pattern, "$")
	if endsWithDollar {
		pattern = pattern[:len(pattern)-1]
	}

	if strings.Contains(pattern, "*") {
		return matchWildcard(pattern, path, endsWithDollar)
	}

	if endsWithDollar {
		return path == pattern
	}
	return strings.HasPrefix(path, pattern)
}

func matchWildcard(pattern, path string, mustEnd bool) bool {
	parts := strings.Split(pattern, "*")
	pos := 0

	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(path[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}

	if mustEnd {
		return pos == len(path)
	}
	return true
}
