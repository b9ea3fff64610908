package extract

import (
	"net/url"
	"strings"
)

// resolveURL resolves href against base, returning "" for anything that
// can't become an absolute http(s) URL (mailto:, javascript:, bare fragments).
func resolveURL(base, href string) string {
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := b.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
