// Package linkfilter holds the ad/social/tracker blocklists the discovery
// scheduler applies to its listing-page crawl, so it only ever sees
// candidate URLs that could plausibly be articles on the same site. The
// pipeline's extract_links stage (extract.Links) does not apply them.
package linkfilter

import (
	"net/url"
	"regexp"
	"strings"
)

// adPatterns match ad, tracker and affiliate paths/query strings.
var adPatterns = compileAll([]string{
	`/ads/`, `/ad/`, `doubleclick`, `googlead`, `outbrain`,
	`taboola`, `click\?`, `campaign`, `sponsored`, `promotion`,
})

// domainBlocklist lists hosts that never host the articles this pipeline
// cares about: ad networks, analytics, and social platforms linked from
// share buttons.
var domainBlocklist = []string{
	"doubleclick.net", "googleadservices.com", "googlesyndication.com",
	"adservice.google.com", "analytics.google.com", "facebook.com",
	"twitter.com", "linkedin.com", "instagram.com", "pinterest.com",
	"ad.doubleclick.net", "c.ad.doubleclick.net", "platform.twitter.com",
	"syndication.twitter.com", "adobedtm.com", "omtrdc.net", "outbrain.com",
	"taboola.com", "sharethrough.com", "adsrvr.org",
}

// textBlocklist matches the visible anchor text of share/social buttons that
// otherwise look like same-domain links (e.g. a "Share" button that points
// back at the article's own canonical URL).
var textBlocklist = compileAll([]string{
	`^share$`, `^tweet$`, `^post$`, `^facebook$`, `^twitter$`,
	`^linkedin$`, `^pinterest$`, `^advertisement$`, `^related:$`,
	`share on.*`, `share to.*`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

// Allowed reports whether href (already resolved to an absolute URL against
// the listing page) should be treated as a candidate article link: same
// domain as base, not an ad/tracker URL, not pointing at a blocklisted
// domain, and not carrying share-button anchor text.
func Allowed(href, anchorText, baseDomain string) bool {
	if href == "" {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host != baseDomain {
		return false
	}
	for _, re := range adPatterns {
		if re.MatchString(href) {
			return false
		}
	}
	for _, blocked := range domainBlocklist {
		if strings.Contains(u.Host, blocked) {
			return false
		}
	}
	for _, re := range textBlocklist {
		if re.MatchString(strings.TrimSpace(anchorText)) {
			return false
		}
	}
	return true
}
