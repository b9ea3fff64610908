// Package worker runs the single-threaded job loop a worker process hosts:
// blocking-dequeue a job envelope, drive it through the pipeline executor,
// and record the terminal outcome on the queue's status hash, archiving a
// success or dead-lettering + notifying on failure. Grounded on the
// teacher's internal/distributed/master.go task-assignment loop, adapted
// from in-memory task handoff to the Redis queue's blocking-pop/ack
// discipline described in C4/C5.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/newsagent/orchestrator/internal/observability"
	"github.com/newsagent/orchestrator/internal/pipeline"
	"github.com/newsagent/orchestrator/internal/types"
)

// Queue is the narrow interface the worker loop depends on.
type Queue interface {
	DequeueBlocking(ctx context.Context, timeout time.Duration) (*types.JobEnvelope, error)
	Ack(ctx context.Context, job *types.JobEnvelope) error
	Requeue(ctx context.Context, job *types.JobEnvelope) error
	SetStatus(ctx context.Context, jobID string, status types.JobStatus, update types.JobStatusUpdate) error
}

// ArticleArchive is the narrow interface the worker depends on to persist a
// successfully enriched article.
type ArticleArchive interface {
	ArchiveArticle(ctx context.Context, a *types.Article) error
}

// Notifier is emailed on pipeline failure or worker crash. Implemented by
// internal/notifier.Notifier; kept as an interface so it can be stubbed out
// in tests without dialing SMTP.
type Notifier interface {
	NotifyFailure(jobID, sourceURL, reason string)
}

// Worker processes one envelope at a time from Queue, matching the spec's
// single-threaded-per-process worker model; operators scale throughput by
// running more worker processes against the same queue, not more goroutines
// inside one.
type Worker struct {
	queue    Queue
	archive  ArticleArchive
	notifier Notifier
	deps     *pipeline.Deps
	metrics  *observability.Metrics
	logger   *slog.Logger

	dequeueTimeout time.Duration
}

// New builds a Worker.
func New(q Queue, archive ArticleArchive, notifier Notifier, deps *pipeline.Deps, metrics *observability.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		queue:          q,
		archive:        archive,
		notifier:       notifier,
		deps:           deps,
		metrics:        metrics,
		logger:         logger.With("component", "worker"),
		dequeueTimeout: 5 * time.Second,
	}
}

// Run blocks, processing one envelope after another, until ctx is canceled.
// A canceled context while blocked in DequeueBlocking returns cleanly; a
// context canceled mid-pipeline lets the current envelope finish (the
// spec's "drain the current envelope or accept redelivery" SIGTERM
// contract): processJob runs on a context that is not canceled with ctx,
// and Run only checks ctx.Err() between envelopes.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.DequeueBlocking(ctx, w.dequeueTimeout)
		if err != nil {
			if err == types.ErrQueueClosed {
				continue // plain timeout, poll again
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		w.processJob(context.WithoutCancel(ctx), job)
	}
}

// processJob runs one envelope through the pipeline and records its
// terminal status, recovering from a stage panic so one bad job never
// takes the whole worker process down.
func (w *Worker) processJob(ctx context.Context, job *types.JobEnvelope) {
	logger := w.logger.With("job_id", job.ID, "source_url", job.URL)

	defer func() {
		if r := recover(); r != nil {
			crashErr := &types.WorkerCrashError{JobID: job.ID, Panic: r}
			logger.Error("worker crashed processing job", "panic", r)
			w.queue.SetStatus(ctx, job.ID, types.JobStatusCrashed, types.JobStatusUpdate{
				SourceURL: job.URL,
				Error:     crashErr.Error(),
				Traceback: string(debug.Stack()),
			})
			w.queue.Requeue(ctx, job)
			w.notifier.NotifyFailure(job.ID, job.URL, crashErr.Error())
			if w.metrics != nil {
				w.metrics.JobsFailed.Inc()
			}
		}
	}()

	if err := w.queue.SetStatus(ctx, job.ID, types.JobStatusProcessing, types.JobStatusUpdate{SourceURL: job.URL}); err != nil {
		logger.Error("set processing status failed", "error", err)
	}

	state := &types.WorkflowState{
		JobID:      job.ID,
		URL:        job.URL,
		SourceID:   job.SourceID,
		Attempt:    job.Attempt,
		MaxRetries: job.MaxAttempts,
	}

	start := time.Now()
	state = pipeline.Run(ctx, w.deps, state)
	elapsed := time.Since(start)

	if state.Failed() {
		reason := fmt.Sprintf("stage=%s: %s", state.FailedStage, state.ErrorMessage)

		var denied *types.GovernanceDenied
		if errors.As(state.FailedErr, &denied) {
			// Operational outcome, not an exceptional one: no DLQ, no
			// operator email, just a terminal failed status.
			logger.Info("pipeline blocked by robots.txt", "url", job.URL)
			if err := w.queue.SetStatus(ctx, job.ID, types.JobStatusFailed, types.JobStatusUpdate{SourceURL: job.URL, Error: reason}); err != nil {
				logger.Error("set failed status failed", "error", err)
			}
			if err := w.queue.Ack(ctx, job); err != nil {
				logger.Error("ack job failed", "error", err)
			}
			return
		}

		logger.Warn("pipeline failed", "stage", state.FailedStage, "error", state.ErrorMessage, "elapsed", elapsed)

		if err := w.queue.SetStatus(ctx, job.ID, types.JobStatusFailed, types.JobStatusUpdate{SourceURL: job.URL, Error: reason}); err != nil {
			logger.Error("set failed status failed", "error", err)
		}
		if err := w.queue.Requeue(ctx, job); err != nil {
			logger.Error("dead-letter job failed", "error", err)
		}
		w.notifier.NotifyFailure(job.ID, job.URL, reason)
		if w.metrics != nil {
			w.metrics.JobsFailed.Inc()
		}
		return
	}

	article := state.ToArticle()
	article.ID = job.ID
	if err := w.archive.ArchiveArticle(ctx, article); err != nil {
		logger.Error("archive article failed", "error", err)
	}

	result := map[string]any{"id": article.ID, "title": article.Title, "category": article.Category}
	if err := w.queue.SetStatus(ctx, job.ID, types.JobStatusCompleted, types.JobStatusUpdate{SourceURL: job.URL, Result: result}); err != nil {
		logger.Error("set completed status failed", "error", err)
	}
	if err := w.queue.Ack(ctx, job); err != nil {
		logger.Error("ack job failed", "error", err)
	}
	logger.Info("pipeline completed", "elapsed", elapsed)
	if w.metrics != nil {
		w.metrics.JobsCompleted.Inc()
	}
}
