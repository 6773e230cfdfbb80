package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradegate/tradegate/internal/logging"
	"github.com/tradegate/tradegate/internal/services/workerpool"
)

// Dispatcher drains the queue into the worker pool, routing each job to the
// handler registered for its type.
type Dispatcher struct {
	queue        *Queue
	pool         *workerpool.Pool
	logger       logging.Logger
	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewDispatcher(queue *Queue, pool *workerpool.Pool, pollInterval time.Duration, logger logging.Logger) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Dispatcher{
		queue:        queue,
		pool:         pool,
		logger:       logger.WithComponent("job_dispatcher"),
		pollInterval: pollInterval,
		handlers:     make(map[string]Handler),
	}
}

// Register installs the handler for a job type. Jobs with no handler fail
// and retry like any other failure.
func (d *Dispatcher) Register(jobType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[jobType] = handler
}

func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dispatcher already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.loop(ctx)

	d.logger.Info("job dispatcher started", "poll_interval", d.pollInterval.String())
	return nil
}

func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("job dispatcher stopped")
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				dispatched, err := d.DispatchOnce(ctx)
				if err != nil {
					d.logger.WithError(err).Warn("dispatch failed")
					break
				}
				if !dispatched {
					break
				}
			}
		}
	}
}

// DispatchOnce pops at most one job and hands it to the pool. It reports
// whether a job was dispatched so callers can drain in a loop.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (bool, error) {
	job, err := d.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	d.mu.Lock()
	handler, ok := d.handlers[job.Type]
	d.mu.Unlock()
	if !ok {
		if failErr := d.queue.Fail(ctx, job, fmt.Errorf("no handler for job type %q", job.Type)); failErr != nil {
			return true, failErr
		}
		return true, nil
	}

	task := workerpool.Task{
		ID: job.ID,
		Execute: func(taskCtx context.Context) error {
			if err := d.runHandler(taskCtx, handler, *job); err != nil {
				if failErr := d.queue.Fail(taskCtx, job, err); failErr != nil {
					d.logger.WithError(failErr).Error("failed to record job failure", "job_id", job.ID)
				}
				return err
			}
			return nil
		},
	}
	if err := d.pool.Submit(task); err != nil {
		// Pool is shutting down; the rejection consumes an attempt and the
		// job retries through the scheduled set like any other failure.
		return true, d.queue.Fail(ctx, job, err)
	}
	return true, nil
}

// runHandler contains handler panics so the dequeued job fails through the
// normal retry path instead of being lost.
func (d *Dispatcher) runHandler(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
