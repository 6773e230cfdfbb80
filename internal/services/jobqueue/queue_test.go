package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegate/tradegate/internal/clock"
	"github.com/tradegate/tradegate/internal/logging"
)

func setupQueue(t *testing.T) (*Queue, *clock.Fake) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	q := New(client, Config{Namespace: "test", MaxAttempts: 3, BackoffBase: time.Second}, fake, logging.NewNopLogger())
	return q, fake
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypeAnalytics, map[string]any{"n": 1})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, JobTypePositionSweep, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, JobTypeDecisionExecute, map[string]any{"decision_id": "dec-1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, JobTypeRiskCheck, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)

	var order []string
	for {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		if job == nil {
			break
		}
		order = append(order, job.Type)
	}
	assert.Equal(t, []string{JobTypeRiskCheck, JobTypeDecisionExecute, JobTypePositionSweep, JobTypeAnalytics}, order)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, JobTypeDecisionExecute, map[string]any{"decision_id": id})
		require.NoError(t, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, want, job.Payload["decision_id"])
	}
}

func TestQueue_ScheduledJobPromotedWhenDue(t *testing.T) {
	q, fake := setupQueue(t)
	ctx := context.Background()

	runAt := fake.Now().Add(5 * time.Minute)
	_, err := q.EnqueueWithOptions(ctx, JobTypePositionSweep, nil, EnqueueOptions{ScheduleFor: &runAt})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "not due yet")

	fake.Advance(5 * time.Minute)
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypePositionSweep, job.Type)
}

func TestQueue_FailReschedulesWithBackoff(t *testing.T) {
	q, fake := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypeDecisionExecute, map[string]any{"decision_id": "dec-1"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.Attempts)

	require.NoError(t, q.Fail(ctx, job, errors.New("venue timeout")))

	// First retry is one backoff base out, not immediate.
	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	fake.Advance(time.Second)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "venue timeout", got.LastError)
}

func TestQueue_ExhaustedJobGoesToDeadLetter(t *testing.T) {
	q, fake := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypeDecisionExecute, map[string]any{"decision_id": "dec-1"})
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempts)
		require.NoError(t, q.Fail(ctx, job, errors.New("still broken")))
		fake.Advance(time.Minute)
	}

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "exhausted job must not requeue")

	depth, err := q.DeadLetterDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	entries, err := q.PeekDeadLetter(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "still broken", entries[0]["error"])
}

func TestQueue_RetryDeadLetter(t *testing.T) {
	q, fake := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypeRiskCheck, map[string]any{"session_id": "sess-1"})
	require.NoError(t, err)
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		require.NoError(t, q.Fail(ctx, job, errors.New("down")))
		fake.Advance(time.Minute)
	}

	require.NoError(t, q.RetryDeadLetter(ctx, 0))

	depth, err := q.DeadLetterDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeRiskCheck, job.Type)
	assert.Equal(t, 1, job.Attempts, "retry budget reset")
}

func TestQueue_QueueDepths(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, JobTypeRiskCheck, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, JobTypeAnalytics, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, JobTypeAnalytics, nil)
	require.NoError(t, err)

	depths, err := q.QueueDepths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths[PriorityCritical])
	assert.Equal(t, int64(0), depths[PriorityHigh])
	assert.Equal(t, int64(2), depths[PriorityLow])
}
