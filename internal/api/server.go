// Package api is the synchronous HTTP surface for job submission, job
// status polling, queue/dead-letter operator tooling, and article listing.
// Grounded on the teacher's internal/api/server.go: Go 1.22 method-pattern
// routing on a plain http.ServeMux, a narrow interface boundary in place of
// a concrete engine, and a jsonResponse helper for uniform envelope shape.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/newsagent/orchestrator/internal/queue"
	"github.com/newsagent/orchestrator/internal/storage"
	"github.com/newsagent/orchestrator/internal/types"
)

// JobQueue is the narrow interface the job endpoints depend on.
type JobQueue interface {
	Enqueue(ctx context.Context, job *types.JobEnvelope) error
	GetStatus(ctx context.Context, jobID string) (*queue.JobStatusRecord, error)
	Counts(ctx context.Context) (queue.Counts, error)
	PeekMain(ctx context.Context, limit, offset int64) ([]types.JobEnvelope, error)
	PeekDeadLetter(ctx context.Context, limit, offset int64) ([]types.JobEnvelope, error)
	DeadLetterCount(ctx context.Context) (int64, error)
	RequeueAll(ctx context.Context) (int, error)
	RequeueOne(ctx context.Context, jobID string) error
	DeleteDeadLetter(ctx context.Context, jobID string) error
}

// ArticleStore is the narrow interface the article endpoints depend on.
type ArticleStore interface {
	RecentArticles(ctx context.Context, limit int64) ([]types.Article, error)
	DeleteArticle(ctx context.Context, id string) error
}

// Server wires the job API's HTTP routes to their backing collaborators.
type Server struct {
	queue   JobQueue
	store   ArticleStore
	apiKey  string
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New builds a Server. apiKey, when non-empty, is required via the X-API-Key
// header on every route except /health.
func New(q JobQueue, store ArticleStore, apiKey string, logger *slog.Logger) *Server {
	s := &Server{queue: q, store: store, apiKey: apiKey, logger: logger.With("component", "api")}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("POST /submit-job", s.auth(http.HandlerFunc(s.handleSubmitJob)))
	s.mux.Handle("GET /jobs/{id}", s.auth(http.HandlerFunc(s.handleJobStatus)))
	s.mux.Handle("GET /queue/status", s.auth(http.HandlerFunc(s.handleQueueStatus)))
	s.mux.Handle("GET /queue/main/items", s.auth(http.HandlerFunc(s.handleMainItems)))
	s.mux.Handle("GET /queue/dlq/items", s.auth(http.HandlerFunc(s.handleDLQItems)))
	s.mux.Handle("GET /queue/dlq/count", s.auth(http.HandlerFunc(s.handleDLQCount)))
	s.mux.Handle("POST /queue/dlq/requeue-all", s.auth(http.HandlerFunc(s.handleRequeueAll)))
	s.mux.Handle("POST /queue/dlq/requeue/{id}", s.auth(http.HandlerFunc(s.handleRequeueOne)))
	s.mux.Handle("DELETE /queue/dlq/{id}", s.auth(http.HandlerFunc(s.handleDeleteDeadLetter)))
	s.mux.Handle("GET /articles", s.auth(http.HandlerFunc(s.handleRecentArticles)))
	s.mux.Handle("DELETE /articles/{id}", s.auth(http.HandlerFunc(s.handleDeleteArticle)))
}

// auth enforces the X-API-Key header when the server was configured with a
// key. Left as a pass-through in deployments that run behind a trusted
// network boundary and configure no key.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.apiKey {
			jsonResponse(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing X-API-Key"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Counts(r.Context()); err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "redis": "unreachable"})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"status": "ok", "redis": "ok", "graph_logic": "ok"})
}

type submitJobRequest struct {
	SourceURL  string `json:"source_url"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceURL == "" {
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "source_url is required"})
		return
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	job := &types.JobEnvelope{
		ID:          newJobID(),
		URL:         req.SourceURL,
		Attempt:     0,
		MaxAttempts: maxRetries,
		EnqueuedAt:  time.Now(),
	}
	if err := s.queue.Enqueue(r.Context(), job); err != nil {
		s.logger.Error("enqueue failed", "error", err)
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unreachable"})
		return
	}

	counts, _ := s.queue.Counts(r.Context())
	jsonResponse(w, http.StatusAccepted, map[string]any{
		"job_id":         job.ID,
		"status":         string(types.JobStatusQueued),
		"queue_position": counts.Queued,
		"message":        "job accepted",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	record, err := s.queue.GetStatus(r.Context(), id)
	if err != nil || record == nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	jsonResponse(w, http.StatusOK, record)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.Counts(r.Context())
	if err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, counts)
}

func (s *Server) handleMainItems(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	offset := parseOffset(r)
	jobs, err := s.queue.PeekMain(r.Context(), limit, offset)
	if err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": jobs})
}

func (s *Server) handleDLQItems(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 50)
	offset := parseOffset(r)
	jobs, err := s.queue.PeekDeadLetter(r.Context(), limit, offset)
	if err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"items": jobs})
}

func (s *Server) handleDLQCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.queue.DeadLetterCount(r.Context())
	if err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"count": count})
}

func (s *Server) handleRequeueAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RequeueAll(r.Context())
	if err != nil {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"requeued": n})
}

func (s *Server) handleRequeueOne(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.RequeueOne(r.Context(), id); err != nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"job_id": id, "status": "re-queued"})
}

func (s *Server) handleDeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.DeleteDeadLetter(r.Context(), id); err != nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentArticles(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 20)
	articles, err := s.store.RecentArticles(r.Context(), limit)
	if err != nil {
		jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"articles": articles})
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteArticle(r.Context(), id); err != nil {
		jsonResponse(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(r *http.Request, fallback int64) int64 {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseOffset(r *http.Request) int64 {
	raw := r.URL.Query().Get("offset")
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func newJobID() string {
	return uuid.NewString()
}
