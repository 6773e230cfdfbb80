// Package jobqueue provides the Redis-backed priority queue feeding the
// execution worker pool. Jobs carry a type, a priority derived from that
// type, and a bounded retry budget; exhausted jobs land in a dead letter
// list for inspection.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/logging"
)

// Priority orders jobs across queues. Higher priorities drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Job types understood by the execution workers.
const (
	JobTypeRiskCheck       = "risk_check"
	JobTypeDecisionExecute = "decision_execute"
	JobTypePositionSweep   = "position_sweep"
	JobTypeOrderReconcile  = "order_reconcile"
	JobTypeAnalytics       = "analytics"
)

// PriorityFor maps a job type to its queue priority. Risk checks preempt
// everything; analytics run when nothing else is waiting.
func PriorityFor(jobType string) Priority {
	switch jobType {
	case JobTypeRiskCheck:
		return PriorityCritical
	case JobTypeDecisionExecute:
		return PriorityHigh
	case JobTypePositionSweep, JobTypeOrderReconcile:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Job is one unit of work.
type Job struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	Priority     Priority       `json:"priority"`
	CreatedAt    time.Time      `json:"created_at"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	LastError    string         `json:"last_error,omitempty"`
}

// Handler processes jobs of one type.
type Handler func(ctx context.Context, job Job) error

// Config tunes the queue.
type Config struct {
	// Namespace prefixes every Redis key the queue touches.
	Namespace string
	// MaxAttempts is the default retry budget per job.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
}

// Queue is the Redis-backed priority queue.
type Queue struct {
	client      *redis.Client
	clock       clock.Clock
	logger      logging.Logger
	namespace   string
	queues      map[Priority]string
	deadLetter  string
	scheduled   string
	maxAttempts int
	backoffBase time.Duration
}

func New(client *redis.Client, cfg Config, clk clock.Clock, logger logging.Logger) *Queue {
	ns := cfg.Namespace
	if ns == "" {
		ns = "jobs"
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}

	return &Queue{
		client:    client,
		clock:     clk,
		logger:    logger.WithComponent("jobqueue"),
		namespace: ns,
		queues: map[Priority]string{
			PriorityLow:      fmt.Sprintf("%s:queue:low", ns),
			PriorityNormal:   fmt.Sprintf("%s:queue:normal", ns),
			PriorityHigh:     fmt.Sprintf("%s:queue:high", ns),
			PriorityCritical: fmt.Sprintf("%s:queue:critical", ns),
		},
		deadLetter:  fmt.Sprintf("%s:deadletter", ns),
		scheduled:   fmt.Sprintf("%s:scheduled", ns),
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
	}
}

// EnqueueOptions overrides per-job defaults.
type EnqueueOptions struct {
	MaxAttempts int
	ScheduleFor *time.Time
}

// Enqueue adds a job at the priority its type implies.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload map[string]any) (*Job, error) {
	return q.EnqueueWithOptions(ctx, jobType, payload, EnqueueOptions{})
}

func (q *Queue) EnqueueWithOptions(ctx context.Context, jobType string, payload map[string]any, opts EnqueueOptions) (*Job, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	job := Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     payload,
		Priority:    PriorityFor(jobType),
		CreatedAt:   q.clock.Now(),
		MaxAttempts: maxAttempts,
	}
	if opts.ScheduleFor != nil {
		job.ScheduledFor = opts.ScheduleFor
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	if job.ScheduledFor != nil {
		err = q.client.ZAdd(ctx, q.scheduled, redis.Z{
			Score:  float64(job.ScheduledFor.Unix()),
			Member: data,
		}).Err()
		if err != nil {
			return nil, fmt.Errorf("failed to schedule job: %w", err)
		}
	} else {
		if err := q.client.LPush(ctx, q.queues[job.Priority], data).Err(); err != nil {
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	return &job, nil
}

// Dequeue promotes due scheduled jobs, then pops the highest-priority
// waiting job. Returns nil when every queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	if err := q.promoteScheduled(ctx); err != nil {
		return nil, err
	}

	for _, priority := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow} {
		result, err := q.client.RPop(ctx, q.queues[priority]).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(result), &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		job.Attempts++
		return &job, nil
	}

	return nil, nil
}

// Fail reschedules a job with exponential backoff while attempts remain,
// otherwise moves it to the dead letter list.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	job.LastError = cause.Error()

	if job.Attempts < job.MaxAttempts {
		delay := q.backoffBase << (job.Attempts - 1)
		retryAt := q.clock.Now().Add(delay)
		job.ScheduledFor = &retryAt

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job for retry: %w", err)
		}
		err = q.client.ZAdd(ctx, q.scheduled, redis.Z{
			Score:  float64(retryAt.Unix()),
			Member: data,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}

		q.logger.Warn("job failed, retrying",
			"job_id", job.ID, "type", job.Type, "attempt", job.Attempts, "retry_in", delay.String(), "error", cause)
		return nil
	}

	data, err := json.Marshal(map[string]any{
		"job":       job,
		"error":     cause.Error(),
		"failed_at": q.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	if err := q.client.LPush(ctx, q.deadLetter, data).Err(); err != nil {
		return fmt.Errorf("failed to add to dead letter: %w", err)
	}

	q.logger.Error("job exhausted retries",
		"job_id", job.ID, "type", job.Type, "attempts", job.Attempts, "error", cause)
	return nil
}

// QueueDepths reports the number of waiting jobs per priority.
func (q *Queue) QueueDepths(ctx context.Context) (map[Priority]int64, error) {
	depths := make(map[Priority]int64, len(q.queues))
	for priority, name := range q.queues {
		length, err := q.client.LLen(ctx, name).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get depth for %s: %w", name, err)
		}
		depths[priority] = length
	}
	return depths, nil
}

// DeadLetterDepth reports the number of permanently failed jobs.
func (q *Queue) DeadLetterDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.deadLetter).Result()
}

// PeekDeadLetter returns dead letter entries without removing them.
func (q *Queue) PeekDeadLetter(ctx context.Context, count int64) ([]map[string]any, error) {
	items, err := q.client.LRange(ctx, q.deadLetter, 0, count-1).Result()
	if err != nil {
		return nil, err
	}

	var entries []map[string]any
	for _, item := range items {
		var entry map[string]any
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RetryDeadLetter moves one dead letter entry back to its priority queue
// with a fresh retry budget.
func (q *Queue) RetryDeadLetter(ctx context.Context, index int64) error {
	item, err := q.client.LIndex(ctx, q.deadLetter, index).Result()
	if err != nil {
		return fmt.Errorf("failed to get dead letter item: %w", err)
	}

	var entry struct {
		Job Job `json:"job"`
	}
	if err := json.Unmarshal([]byte(item), &entry); err != nil {
		return fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}

	job := entry.Job
	job.Attempts = 0
	job.ScheduledFor = nil

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.queues[job.Priority], data).Err(); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	return q.client.LRem(ctx, q.deadLetter, 1, item).Err()
}

// promoteScheduled moves due jobs from the scheduled set onto their
// priority queues.
func (q *Queue) promoteScheduled(ctx context.Context) error {
	now := q.clock.Now().Unix()
	items, err := q.client.ZRangeByScore(ctx, q.scheduled, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return err
	}

	for _, item := range items {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}
		if err := q.client.LPush(ctx, q.queues[job.Priority], item).Err(); err != nil {
			continue
		}
		if err := q.client.ZRem(ctx, q.scheduled, item).Err(); err != nil {
			continue
		}
	}
	return nil
}
