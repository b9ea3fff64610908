package governance

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestGatekeeper(t *testing.T, delays DelaySource) (*Gatekeeper, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(rdb, delays, "newsagent-bot", logger), mr
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestCanFetch_AllowsWhenRobotsDisallowsOtherPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer srv.Close()

	gk, _ := newTestGatekeeper(t, nil)
	ctx := context.Background()

	allowed, err := gk.CanFetch(ctx, srv.URL+"/articles/1")
	if err != nil {
		t.Fatalf("CanFetch: %v", err)
	}
	if !allowed {
		t.Fatal("expected /articles/1 to be allowed")
	}

	allowed, err = gk.CanFetch(ctx, srv.URL+"/private/secret")
	if err != nil {
		t.Fatalf("CanFetch: %v", err)
	}
	if allowed {
		t.Fatal("expected /private/secret to be disallowed")
	}
}

func TestCanFetch_CachesResult(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("User-agent: *\nDisallow: /blocked/\n"))
	}))
	defer srv.Close()

	gk, _ := newTestGatekeeper(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := gk.CanFetch(ctx, srv.URL+"/articles/1"); err != nil {
			t.Fatalf("CanFetch: %v", err)
		}
	}
	if hits != 1 {
		t.Fatalf("expected robots.txt fetched once, got %d fetches", hits)
	}
}

type fixedDelay struct{ seconds int }

func (f fixedDelay) DelaySecondsForDomain(ctx context.Context, domain string) (int, bool, error) {
	return f.seconds, true, nil
}

func TestWaitForSlot_SerializesPerDomain(t *testing.T) {
	gk, _ := newTestGatekeeper(t, fixedDelay{seconds: 1})
	ctx := context.Background()

	start := time.Now()
	if err := gk.WaitForSlot(ctx, "https://example.com/a"); err != nil {
		t.Fatalf("first WaitForSlot: %v", err)
	}
	firstElapsed := time.Since(start)
	if firstElapsed > 200*time.Millisecond {
		t.Fatalf("first acquisition should be immediate, took %v", firstElapsed)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := gk.WaitForSlot(ctx, "https://example.com/b"); err != nil {
			t.Errorf("second WaitForSlot: %v", err)
		}
	}()

	select {
	case <-done:
		t.Fatal("second WaitForSlot returned before the first lock's delay elapsed")
	case <-time.After(300 * time.Millisecond):
	}
}
