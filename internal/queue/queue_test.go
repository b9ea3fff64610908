package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/newsagent/orchestrator/internal/types"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestEnqueueDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := &types.JobEnvelope{ID: "job-1", URL: "https://example.com/a", MaxAttempts: 3}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	got, err := q.DequeueBlocking(ctx, time.Second)
	if err != nil {
		t.Fatalf("DequeueBlocking: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("got job %q, want %q", got.ID, job.ID)
	}

	status, err := q.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != types.JobStatusQueued {
		t.Fatalf("status = %q, want queued", status.Status)
	}
}

func TestRequeueDeadLettersAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := &types.JobEnvelope{ID: "job-2", URL: "https://example.com/b", Attempt: 0, MaxAttempts: 1}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.DequeueBlocking(ctx, time.Second)
	if err != nil {
		t.Fatalf("DequeueBlocking: %v", err)
	}

	if err := q.Requeue(ctx, got); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	status, err := q.GetStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != types.JobStatusFailed {
		t.Fatalf("status = %q, want failed (dead-lettered)", status.Status)
	}

	dead, err := q.PeekDeadLetter(ctx, 10, 0)
	if err != nil {
		t.Fatalf("PeekDeadLetter: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != job.ID {
		t.Fatalf("dead letter list = %+v, want one entry for %q", dead, job.ID)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.DeadLetter != 1 || counts.Queued != 0 {
		t.Fatalf("counts = %+v, want 1 dead letter, 0 queued", counts)
	}
}

func TestRequeueAll(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job := &types.JobEnvelope{ID: "job-3", URL: "https://example.com/c", MaxAttempts: 1}
	q.Enqueue(ctx, job)
	got, _ := q.DequeueBlocking(ctx, time.Second)
	q.Requeue(ctx, got) // dead-letters immediately since MaxAttempts=1

	n, err := q.RequeueAll(ctx)
	if err != nil {
		t.Fatalf("RequeueAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("RequeueAll moved %d jobs, want 1", n)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Queued != 1 || counts.DeadLetter != 0 {
		t.Fatalf("counts = %+v, want 1 queued, 0 dead letter", counts)
	}
}
