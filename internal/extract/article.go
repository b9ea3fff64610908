package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/newsagent/orchestrator/internal/types"
)

// candidateSelectors are tried in order when no structured NewsArticle body
// is available; the first selector that yields a non-trivial amount of text
// wins. News sites vary widely in markup, so this mirrors the old
// configurable-selector parser's fallback-chain idea but fixed to the
// handful of containers real news templates actually use.
var candidateSelectors = []string{
	"article",
	`[itemprop="articleBody"]`,
	".article-body",
	".story-body",
	"#article-body",
	"main",
}

// Article extracts a title and body from a parsed HTML document, preferring
// JSON-LD article metadata and falling back to heuristic selectors.
func Article(doc *goquery.Document, sourceURL string) (title, body string) {
	meta := StructuredMetadata(doc)

	if jsonLD, ok := meta["json_ld"].(map[string]any); ok && JSONLDArticleType(jsonLD) {
		if t, ok := jsonLD["headline"].(string); ok && t != "" {
			title = t
		}
		if b, ok := jsonLD["articleBody"].(string); ok && b != "" {
			body = strings.TrimSpace(b)
		}
	}

	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	if body == "" {
		for _, sel := range candidateSelectors {
			text := paragraphText(doc.Find(sel).First())
			if len(text) > len(body) {
				body = text
			}
			if len(body) > 500 {
				break
			}
		}
	}

	return title, body
}

func paragraphText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Find("p").Each(func(i int, p *goquery.Selection) {
		t := strings.TrimSpace(p.Text())
		if t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
	})
	return strings.TrimSpace(b.String())
}

// Links returns every anchor inside the article body along with its visible
// text, the raw material for the link-scoring stage.
func Links(doc *goquery.Document, baseURL string) []types.EmbeddedLink {
	var links []types.EmbeddedLink
	seen := make(map[string]bool)

	doc.Find("article a[href], .article-body a[href], main a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = resolveURL(baseURL, href)
		if href == "" || seen[href] {
			return
		}
		seen[href] = true
		links = append(links, types.EmbeddedLink{
			URL:        href,
			AnchorText: strings.TrimSpace(sel.Text()),
		})
	})

	return links
}

// ListingLinks returns every resolved, de-duplicated href matching selector,
// along with its anchor text. Used by the discovery scheduler against a
// source's configured link_selector rather than the fixed article-body
// selectors Links uses.
func ListingLinks(doc *goquery.Document, baseURL, selector string) []types.EmbeddedLink {
	var links []types.EmbeddedLink
	seen := make(map[string]bool)

	doc.Find(selector).Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = resolveURL(baseURL, href)
		if href == "" || seen[href] {
			return
		}
		seen[href] = true
		links = append(links, types.EmbeddedLink{
			URL:        href,
			AnchorText: strings.TrimSpace(sel.Text()),
		})
	})

	return links
}
