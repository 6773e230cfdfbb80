// Package workerpool provides the bounded goroutine pool that executes
// queued jobs. Concurrency is fixed at start; when the submission buffer is
// full, Submit blocks rather than growing unbounded.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tradegate/tradegate/internal/logging"
)

// Task is one unit of work. Execute receives the pool's lifecycle context
// so in-flight work observes shutdown.
type Task struct {
	ID      string
	Execute func(ctx context.Context) error
}

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Workers:   8,
		QueueSize: 64,
	}
}

// Pool runs tasks on a fixed set of workers.
type Pool struct {
	workers   int
	taskQueue chan Task
	logger    logging.Logger
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	running   bool

	executed atomic.Int64
	failed   atomic.Int64
}

func New(cfg Config, logger logging.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers:   cfg.Workers,
		taskQueue: make(chan Task, cfg.QueueSize),
		logger:    logger.WithComponent("workerpool"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pool already running")
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.running = true

	p.logger.Info("worker pool started", "workers", p.workers, "queue_size", cap(p.taskQueue))
	return nil
}

// Stop drains queued tasks, then waits for in-flight work to finish. The
// queue is closed under the write lock so no submitter holding the read
// lock can send on a closed channel.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("pool not running")
	}
	p.running = false
	close(p.taskQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()

	p.logger.Info("worker pool stopped", "executed", p.executed.Load(), "failed", p.failed.Load())
	return nil
}

// Submit hands a task to the pool, blocking while the buffer is full. The
// read lock stays held across the send; workers keep draining the queue,
// so a Stop waiting on the write lock cannot deadlock a blocked submitter.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("pool not running")
	}

	select {
	case p.taskQueue <- task:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("pool shutting down")
	}
}

// TrySubmit is the non-blocking variant for callers that prefer to shed
// load instead of waiting.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return fmt.Errorf("pool not running")
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue full")
	}
}

func (p *Pool) QueueDepth() int {
	return len(p.taskQueue)
}

func (p *Pool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Stats reports cumulative task counts.
type Stats struct {
	Executed   int64
	Failed     int64
	QueueDepth int
}

func (p *Pool) Stats() Stats {
	return Stats{
		Executed:   p.executed.Load(),
		Failed:     p.failed.Load(),
		QueueDepth: len(p.taskQueue),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.taskQueue {
		p.run(task)
	}
}

// run executes one task, containing panics so a bad handler never takes
// down a worker.
func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("task panicked", "task_id", task.ID, "panic", fmt.Sprintf("%v", r))
		}
	}()

	p.executed.Add(1)
	if err := task.Execute(p.ctx); err != nil {
		p.failed.Add(1)
		p.logger.Warn("task failed", "task_id", task.ID, "error", err)
	}
}
