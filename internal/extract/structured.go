package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// structuredDataType identifies the kind of embedded metadata a page carries.
type structuredDataType string

const (
	jsonLD      structuredDataType = "json-ld"
	openGraph   structuredDataType = "opengraph"
	twitterCard structuredDataType = "twitter_card"
	metaTags    structuredDataType = "meta"
)

// structuredData is one block of page metadata found by StructuredMetadata.
type structuredData struct {
	Type structuredDataType
	Data map[string]any
}

// StructuredMetadata collects JSON-LD, OpenGraph, Twitter Card and standard
// meta tag data from a parsed document. The fetch stage (via Article) uses
// the JSON-LD block (when a NewsArticle/Article @type is present) as its
// first-choice extraction strategy and otherwise falls back to h1/title and
// heuristic body extraction; it does not read the OpenGraph or meta values.
func StructuredMetadata(doc *goquery.Document) map[string]any {
	merged := make(map[string]any)

	for _, sd := range extractJSONLD(doc) {
		merged["json_ld"] = sd.Data
		break // first JSON-LD block wins; pages rarely carry more than one article block
	}
	if og := extractOpenGraph(doc); len(og.Data) > 0 {
		merged["opengraph"] = og.Data
	}
	if tc := extractTwitterCard(doc); len(tc.Data) > 0 {
		merged["twitter_card"] = tc.Data
	}
	if mt := extractMetaTags(doc); len(mt.Data) > 0 {
		merged["meta"] = mt.Data
	}
	return merged
}

// JSONLDArticleType reports whether a JSON-LD block declares itself an
// Article/NewsArticle, the signal the fetch stage uses to prefer it over
// heuristic body extraction.
func JSONLDArticleType(data map[string]any) bool {
	t, _ := data["@type"].(string)
	switch strings.ToLower(t) {
	case "article", "newsarticle", "reportagenewsarticle", "blogposting":
		return true
	}
	return false
}

// extractJSONLD parses <script type="application/ld+json"> elements, handling
// both single-object and array-rooted documents.
func extractJSONLD(doc *goquery.Document) []structuredData {
	var results []structuredData

	doc.Find(`script[type="application/ld+json"]`).Each(func(i int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			results = append(results, structuredData{Type: jsonLD, Data: data})
			return
		}

		var dataArr []map[string]any
		if err := json.Unmarshal([]byte(raw), &dataArr); err == nil {
			for _, d := range dataArr {
				results = append(results, structuredData{Type: jsonLD, Data: d})
			}
		}
	})

	return results
}

func extractOpenGraph(doc *goquery.Document) structuredData {
	data := make(map[string]any)
	doc.Find(`meta[property^="og:"]`).Each(func(i int, sel *goquery.Selection) {
		property, _ := sel.Attr("property")
		content, _ := sel.Attr("content")
		if property != "" && content != "" {
			data[strings.TrimPrefix(property, "og:")] = content
		}
	})
	return structuredData{Type: openGraph, Data: data}
}

func extractTwitterCard(doc *goquery.Document) structuredData {
	data := make(map[string]any)
	doc.Find(`meta[name^="twitter:"], meta[property^="twitter:"]`).Each(func(i int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			name, _ = sel.Attr("property")
		}
		content, _ := sel.Attr("content")
		if name != "" && content != "" {
			data[strings.TrimPrefix(name, "twitter:")] = content
		}
	})
	return structuredData{Type: twitterCard, Data: data}
}

func extractMetaTags(doc *goquery.Document) structuredData {
	data := make(map[string]any)

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		data["title"] = title
	}

	for _, name := range []string{"description", "keywords", "author", "robots"} {
		if content, exists := doc.Find(`meta[name="` + name + `"]`).Attr("content"); exists && content != "" {
			data[name] = content
		}
	}

	if canonical, exists := doc.Find(`link[rel="canonical"]`).Attr("href"); exists && canonical != "" {
		data["canonical"] = canonical
	}

	return structuredData{Type: metaTags, Data: data}
}
