package linkfilter

import "testing"

func TestAllowed(t *testing.T) {
	cases := []struct {
		name   string
		href   string
		text   string
		base   string
		expect bool
	}{
		{"same domain article", "https://news.example.com/a/story-1", "Read more", "news.example.com", true},
		{"other domain", "https://cdn.example.net/a/story-1", "Read more", "news.example.com", false},
		{"ad path", "https://news.example.com/ads/banner", "click here", "news.example.com", false},
		{"ad tracker keyword", "https://news.example.com/story?ref=doubleclick", "Read more", "news.example.com", false},
		{"blocklisted domain", "https://facebook.com/share", "share", "facebook.com", false},
		{"share button text", "https://news.example.com/story-1", "Share", "news.example.com", false},
		{"share on text", "https://news.example.com/story-1", "Share on Facebook", "news.example.com", false},
		{"non-http scheme", "javascript:void(0)", "click", "news.example.com", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Allowed(tc.href, tc.text, tc.base)
			if got != tc.expect {
				t.Errorf("Allowed(%q, %q, %q) = %v, want %v", tc.href, tc.text, tc.base, got, tc.expect)
			}
		})
	}
}
