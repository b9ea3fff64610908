package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/newsagent/orchestrator/internal/queue"
	"github.com/newsagent/orchestrator/internal/types"
)

type fakeQueue struct {
	enqueued []*types.JobEnvelope
	status   map[string]*queue.JobStatusRecord
	failEnqueue bool
}

func (f *fakeQueue) Enqueue(ctx context.Context, job *types.JobEnvelope) error {
	if f.failEnqueue {
		return context.DeadlineExceeded
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeQueue) GetStatus(ctx context.Context, jobID string) (*queue.JobStatusRecord, error) {
	r, ok := f.status[jobID]
	if !ok {
		return nil, types.ErrJobNotFound
	}
	return r, nil
}

func (f *fakeQueue) Counts(ctx context.Context) (queue.Counts, error) {
	return queue.Counts{Queued: int64(len(f.enqueued))}, nil
}

func (f *fakeQueue) PeekMain(ctx context.Context, limit, offset int64) ([]types.JobEnvelope, error) {
	return nil, nil
}

func (f *fakeQueue) PeekDeadLetter(ctx context.Context, limit, offset int64) ([]types.JobEnvelope, error) {
	return nil, nil
}

func (f *fakeQueue) DeadLetterCount(ctx context.Context) (int64, error) { return 0, nil }

func (f *fakeQueue) RequeueAll(ctx context.Context) (int, error) { return 0, nil }

func (f *fakeQueue) RequeueOne(ctx context.Context, jobID string) error { return nil }

func (f *fakeQueue) DeleteDeadLetter(ctx context.Context, jobID string) error { return nil }

type fakeStore struct{}

func (fakeStore) RecentArticles(ctx context.Context, limit int64) ([]types.Article, error) {
	return []types.Article{{ID: "a1", Title: "example"}}, nil
}

func (fakeStore) DeleteArticle(ctx context.Context, id string) error {
	if id == "missing" {
		return types.ErrJobNotFound
	}
	return nil
}

func TestSubmitJobRequiresAPIKey(t *testing.T) {
	fq := &fakeQueue{status: map[string]*queue.JobStatusRecord{}}
	srv := New(fq, fakeStore{}, "secret", noopLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/submit-job", "application/json", strings.NewReader(`{"source_url":"https://example.com/a"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without api key, got %d", resp.StatusCode)
	}
}

func TestSubmitJobAccepted(t *testing.T) {
	fq := &fakeQueue{status: map[string]*queue.JobStatusRecord{}}
	srv := New(fq, fakeStore{}, "", noopLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/submit-job", "application/json", strings.NewReader(`{"source_url":"https://example.com/a"}`))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["job_id"] == "" || body["job_id"] == nil {
		t.Fatalf("expected job_id in response, got %v", body)
	}
	if len(fq.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(fq.enqueued))
	}
}

func TestJobStatusNotFound(t *testing.T) {
	fq := &fakeQueue{status: map[string]*queue.JobStatusRecord{}}
	srv := New(fq, fakeStore{}, "", noopLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/jobs/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	fq := &fakeQueue{status: map[string]*queue.JobStatusRecord{}}
	srv := New(fq, fakeStore{}, "secret", noopLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected /health to bypass auth, got %d", resp.StatusCode)
	}
}

func TestDeleteArticleNotFound(t *testing.T) {
	fq := &fakeQueue{status: map[string]*queue.JobStatusRecord{}}
	srv := New(fq, fakeStore{}, "", noopLogger())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/articles/missing", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
