// Package queue implements the FIFO work queue jobs travel through between
// the discovery scheduler (producer) and worker processes (consumer),
// including dead-letter handling for jobs that exhaust their retry budget.
// It replaces the in-memory master/node task assignment this repo used to
// coordinate distributed crawl work with a Redis-backed list so any number
// of worker processes can share one queue.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/newsagent/orchestrator/internal/types"
)

const (
	listKey       = "newsagent:jobs"
	processingKey = "newsagent:jobs:processing"
	deadLetterKey = "newsagent:jobs:dead"
	statusKeyFmt  = "newsagent:job_status:%s"
	statusTTL     = 24 * time.Hour
)

// Queue is a Redis-backed FIFO job queue with a dead-letter list.
type Queue struct {
	redis *redis.Client
}

// New wraps an existing Redis client as a Queue.
func New(rdb *redis.Client) *Queue {
	return &Queue{redis: rdb}
}

// Enqueue pushes a job to the head of the work list and marks it queued.
func (q *Queue) Enqueue(ctx context.Context, job *types.JobEnvelope) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.redis.LPush(ctx, listKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return q.SetStatus(ctx, job.ID, types.JobStatusQueued, types.JobStatusUpdate{SourceURL: job.URL})
}

// DequeueBlocking pops the next job, blocking up to timeout for one to
// arrive. It atomically moves the raw payload into a processing list so a
// worker that crashes mid-job can be detected and requeued by an operator
// tool instead of silently losing the work.
func (q *Queue) DequeueBlocking(ctx context.Context, timeout time.Duration) (*types.JobEnvelope, error) {
	result, err := q.redis.BRPopLPush(ctx, listKey, processingKey, timeout).Result()
	if err == redis.Nil {
		return nil, types.ErrQueueClosed
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}

	var job types.JobEnvelope
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

// Ack removes a job from the processing list once it has reached a terminal
// state (completed, dead-lettered, or requeued).
func (q *Queue) Ack(ctx context.Context, job *types.JobEnvelope) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.redis.LRem(ctx, processingKey, 1, payload).Err()
}

// Requeue re-enqueues job with an incremented attempt counter, or moves it to
// the dead-letter list if it has exhausted MaxAttempts.
func (q *Queue) Requeue(ctx context.Context, job *types.JobEnvelope) error {
	if err := q.Ack(ctx, job); err != nil {
		return fmt.Errorf("ack before requeue: %w", err)
	}

	job.Attempt++
	if job.Attempt >= job.MaxAttempts {
		return q.DeadLetter(ctx, job)
	}
	return q.Enqueue(ctx, job)
}

// DeadLetter moves job to the dead-letter list and marks it failed.
func (q *Queue) DeadLetter(ctx context.Context, job *types.JobEnvelope) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.redis.LPush(ctx, deadLetterKey, payload).Err(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return q.SetStatus(ctx, job.ID, types.JobStatusFailed, types.JobStatusUpdate{SourceURL: job.URL, Error: "exhausted retries"})
}

// RequeueAll moves every job currently in the dead-letter list back onto the
// work list, resetting its attempt counter. Used by the operator-facing
// requeue-all endpoint.
func (q *Queue) RequeueAll(ctx context.Context) (int, error) {
	n := 0
	for {
		result, err := q.redis.RPopLPush(ctx, deadLetterKey, listKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return n, fmt.Errorf("requeue all: %w", err)
		}

		var job types.JobEnvelope
		if err := json.Unmarshal([]byte(result), &job); err == nil {
			job.Attempt = 0
			if reset, marshalErr := json.Marshal(job); marshalErr == nil {
				q.redis.LSet(ctx, listKey, 0, reset)
			}
			q.SetStatus(ctx, job.ID, types.JobStatusQueued, types.JobStatusUpdate{SourceURL: job.URL})
		}
		n++
	}
	return n, nil
}

// RequeueOne moves a single named job out of the dead-letter list back onto
// the work list, resetting its attempt counter. Used by the operator-facing
// per-job requeue endpoint.
func (q *Queue) RequeueOne(ctx context.Context, jobID string) error {
	raw, err := q.redis.LRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("requeue one: %w", err)
	}
	for _, r := range raw {
		var job types.JobEnvelope
		if err := json.Unmarshal([]byte(r), &job); err != nil || job.ID != jobID {
			continue
		}
		if err := q.redis.LRem(ctx, deadLetterKey, 1, r).Err(); err != nil {
			return fmt.Errorf("remove dead-lettered job: %w", err)
		}
		job.Attempt = 0
		return q.Enqueue(ctx, &job)
	}
	return types.ErrJobNotFound
}

// DeleteDeadLetter removes a single named job from the dead-letter list
// without requeuing it.
func (q *Queue) DeleteDeadLetter(ctx context.Context, jobID string) error {
	raw, err := q.redis.LRange(ctx, deadLetterKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	for _, r := range raw {
		var job types.JobEnvelope
		if err := json.Unmarshal([]byte(r), &job); err != nil || job.ID != jobID {
			continue
		}
		return q.redis.LRem(ctx, deadLetterKey, 1, r).Err()
	}
	return types.ErrJobNotFound
}

// PeekDeadLetter returns up to limit jobs from the dead-letter list,
// starting at offset, without removing them.
func (q *Queue) PeekDeadLetter(ctx context.Context, limit, offset int64) ([]types.JobEnvelope, error) {
	return peekList(ctx, q.redis, deadLetterKey, limit, offset)
}

// PeekMain returns up to limit jobs from the head of the work list, starting
// at offset, without removing them. Used by the operator-facing
// /queue/main/items endpoint to inspect what's waiting to be picked up.
func (q *Queue) PeekMain(ctx context.Context, limit, offset int64) ([]types.JobEnvelope, error) {
	return peekList(ctx, q.redis, listKey, limit, offset)
}

// DeadLetterCount reports the current depth of the dead-letter list.
func (q *Queue) DeadLetterCount(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("dead letter count: %w", err)
	}
	return n, nil
}

func peekList(ctx context.Context, rdb *redis.Client, key string, limit, offset int64) ([]types.JobEnvelope, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	raw, err := rdb.LRange(ctx, key, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("peek %s: %w", key, err)
	}
	jobs := make([]types.JobEnvelope, 0, len(raw))
	for _, r := range raw {
		var job types.JobEnvelope
		if err := json.Unmarshal([]byte(r), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Counts reports the current depth of each list, surfaced by the job API's
// queue-health endpoint.
type Counts struct {
	Queued     int64
	Processing int64
	DeadLetter int64
}

// Counts reports current queue depths.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.redis.Pipeline()
	queuedCmd := pipe.LLen(ctx, listKey)
	processingCmd := pipe.LLen(ctx, processingKey)
	deadCmd := pipe.LLen(ctx, deadLetterKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("queue counts: %w", err)
	}
	return Counts{
		Queued:     queuedCmd.Val(),
		Processing: processingCmd.Val(),
		DeadLetter: deadCmd.Val(),
	}, nil
}

// SetStatus records a job's current status for API polling, with a 24-hour
// TTL refreshed on every write so the status hash doesn't grow unbounded.
// created_at is written once via HSetNX and preserved across later updates
// to the same job id.
func (q *Queue) SetStatus(ctx context.Context, jobID string, status types.JobStatus, update types.JobStatusUpdate) error {
	key := fmt.Sprintf(statusKeyFmt, jobID)

	fields := map[string]any{
		"status":     string(status),
		"source_url": update.SourceURL,
		"error":      update.Error,
		"traceback":  update.Traceback,
		"updated_at": time.Now().Format(time.RFC3339),
	}
	if update.Result != nil {
		if b, err := json.Marshal(update.Result); err == nil {
			fields["result"] = string(b)
		}
	}

	pipe := q.redis.TxPipeline()
	pipe.HSetNX(ctx, key, "created_at", time.Now().Format(time.RFC3339))
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set job status: %w", err)
	}
	return nil
}

// JobStatusRecord is the status hash returned to API callers.
type JobStatusRecord struct {
	Status    types.JobStatus `json:"status"`
	SourceURL string          `json:"source_url"`
	CreatedAt string          `json:"created_at"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
	UpdatedAt string          `json:"updated_at"`
}

// GetStatus reads back a job's current status.
func (q *Queue) GetStatus(ctx context.Context, jobID string) (*JobStatusRecord, error) {
	key := fmt.Sprintf(statusKeyFmt, jobID)
	values, err := q.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	if len(values) == 0 {
		return nil, types.ErrJobNotFound
	}
	record := &JobStatusRecord{
		Status:    types.JobStatus(values["status"]),
		SourceURL: values["source_url"],
		CreatedAt: values["created_at"],
		Error:     values["error"],
		Traceback: values["traceback"],
		UpdatedAt: values["updated_at"],
	}
	if r := values["result"]; r != "" {
		record.Result = json.RawMessage(r)
	}
	return record, nil
}
