// Package search is the external search tool boundary the find_other_sources
// stage calls to surface related coverage of a story. It is deliberately
// thin: the pipeline only needs a list of candidate URLs back for a query.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/newsagent/orchestrator/internal/types"
)

// Client looks up related article URLs for a free-text query.
type Client interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// HTTPClient calls a search API (e.g. a SearXNG instance, Bing, or any
// provider exposing a simple query->results JSON endpoint) over HTTP.
type HTTPClient struct {
	Endpoint string
	APIKey   string
	MaxResults int
	http     *http.Client
}

// NewHTTPClient builds a search Client against endpoint.
func NewHTTPClient(endpoint, apiKey string, maxResults int) *HTTPClient {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &HTTPClient{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		MaxResults: maxResults,
		http:       &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) Search(ctx context.Context, query string) ([]string, error) {
	reqURL := fmt.Sprintf("%s?q=%s&limit=%d", c.Endpoint, url.QueryEscape(query), c.MaxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &types.SearchError{Query: query, Err: err}
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &types.SearchError{Query: query, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &types.SearchError{Query: query, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var result struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &types.SearchError{Query: query, Err: err}
	}

	urls := make([]string, 0, len(result.Results))
	for _, r := range result.Results {
		if r.URL != "" {
			urls = append(urls, r.URL)
		}
	}
	return urls, nil
}
