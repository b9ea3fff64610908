package scheduler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/newsagent/orchestrator/internal/browserpool"
	"github.com/newsagent/orchestrator/internal/governance"
	"github.com/newsagent/orchestrator/internal/types"
)

type fakeStore struct {
	sources      []types.Source
	known        map[string]bool
	discovered   []types.DiscoveredArticle
	crawled      map[string]bool
	enqueued     map[string]bool
}

func (f *fakeStore) ListEnabledSources(ctx context.Context) ([]types.Source, error) {
	return f.sources, nil
}

func (f *fakeStore) MarkCrawled(ctx context.Context, sourceID string) error {
	if f.crawled == nil {
		f.crawled = map[string]bool{}
	}
	f.crawled[sourceID] = true
	return nil
}

func (f *fakeStore) IsKnownURL(ctx context.Context, sourceID, url string) (bool, error) {
	return f.known[sourceID+"|"+url], nil
}

func (f *fakeStore) RecordDiscovered(ctx context.Context, a *types.DiscoveredArticle) error {
	f.discovered = append(f.discovered, *a)
	return nil
}

func (f *fakeStore) MarkEnqueued(ctx context.Context, sourceID, url string) error {
	if f.enqueued == nil {
		f.enqueued = map[string]bool{}
	}
	f.enqueued[sourceID+"|"+url] = true
	return nil
}

func (f *fakeStore) MarkSubmissionFailed(ctx context.Context, sourceID, url string) error {
	return nil
}

func (f *fakeStore) DelaySecondsForDomain(ctx context.Context, domain string) (int, bool, error) {
	return 0, false, nil
}

type fakeRenderer struct{ html string }

func (f fakeRenderer) Render(ctx context.Context, url string, cfg browserpool.Config) (string, error) {
	return f.html, nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheckSourceSubmitsNewLinksOnly(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := &fakeStore{
		sources: []types.Source{{ID: "s1", ListingURL: "https://news.example/", LinkSelector: "a.headline"}},
		known:   map[string]bool{"s1|https://news.example/old": true},
	}
	gate := governance.New(rdb, store, "newsagent-bot", noopLogger())

	var submitted []string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		submitted = append(submitted, r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer api.Close()

	html := `<html><body>
		<a class="headline" href="/old">Old story</a>
		<a class="headline" href="/new">New story</a>
	</body></html>`
	sched := New(store, gate, fakeRenderer{html: html}, nil, Config{APIURL: api.URL, APIKey: "k", Interval: time.Hour}, noopLogger())

	sched.checkSource(context.Background(), store.sources[0])

	if len(submitted) != 1 {
		t.Fatalf("expected exactly 1 submission, got %d: %v", len(submitted), submitted)
	}
	if len(store.discovered) != 1 || store.discovered[0].URL != "https://news.example/new" {
		t.Fatalf("expected only the new link recorded, got %+v", store.discovered)
	}
	if !store.crawled["s1"] {
		t.Fatalf("expected source marked crawled")
	}
}

func TestCheckSourceSkipsWhenRobotsDeny(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	robots := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}))
	defer robots.Close()

	store := &fakeStore{sources: []types.Source{{ID: "s1", ListingURL: robots.URL + "/listing"}}}
	gate := governance.New(rdb, store, "newsagent-bot", noopLogger())

	called := false
	renderer := fakeRendererFunc(func() { called = true })
	sched := New(store, gate, renderer, nil, Config{APIURL: "http://unused", APIKey: "k", Interval: time.Hour}, noopLogger())

	sched.checkSource(context.Background(), store.sources[0])

	if called {
		t.Fatalf("expected renderer not to be invoked when robots.txt denies")
	}
	if !store.crawled["s1"] {
		t.Fatalf("expected source still marked crawled on denial")
	}
}

type fakeRendererFunc func()

func (f fakeRendererFunc) Render(ctx context.Context, url string, cfg browserpool.Config) (string, error) {
	f()
	return "", nil
}
