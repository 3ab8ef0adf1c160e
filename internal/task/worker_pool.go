package task

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// WorkerPool manages a pool of worker goroutines that process tasks
// from a task queue. It handles graceful shutdown and worker lifecycle.
type WorkerPool struct {
	// taskQueue provides read access to the tasks to be processed
	taskQueue TaskQueueReader

	// workerCount is the number of concurrent workers to start
	workerCount int

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is passed to every task and cancelled by Stop
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger

	// errorHandler is called when a task execution fails
	// If nil, errors are only logged
	errorHandler func(task Task, err error)

	// successHandler is called when a task completes without error
	successHandler func(task Task)
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration.
// Tasks run under a context derived from parent; Stop cancels it.
func NewWorkerPool(parent context.Context, taskQueue TaskQueueReader, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if parent == nil {
		parent = context.Background()
	}

	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	ctx, cancel := context.WithCancel(parent)

	return &WorkerPool{
		taskQueue:   taskQueue,
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetErrorHandler allows setting a custom error handler for task execution failures
func (p *WorkerPool) SetErrorHandler(handler func(task Task, err error)) {
	p.errorHandler = handler
}

// SetSuccessHandler sets a function called after each successful task.
func (p *WorkerPool) SetSuccessHandler(handler func(task Task)) {
	p.successHandler = handler
}

// Start launches the workers. They run until the queue is closed and
// drained, or until Stop is called.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debug("worker pool started", "worker_count", p.workerCount)
}

// Stop cancels running tasks and waits for every worker to exit.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Debug("worker pool stopped")
}

// Wait blocks until every worker has exited after the queue was closed.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
	p.cancel()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue.GetChannel():
			if !ok {
				return
			}
			p.run(task, id)
		}
	}
}

func (p *WorkerPool) run(task Task, workerID int) {
	log := p.logger.With(
		"task_id", task.ID(),
		"task_type", task.Type(),
		"worker_id", workerID,
	)

	err := p.execute(task)
	if err != nil {
		log.Error("task execution failed", "error", err)
		if p.errorHandler != nil {
			p.errorHandler(task, err)
		}
		return
	}

	log.Debug("task completed")
	if p.successHandler != nil {
		p.successHandler(task)
	}
}

// execute runs the task, converting a panic into an error.
func (p *WorkerPool) execute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
			p.logger.Error("recovered from task panic",
				"task_id", task.ID(),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	return task.Execute(p.ctx)
}

// BatchResult summarizes a RunBatch call. Total counts distinct tasks;
// Duplicates counts tasks dropped because an identical one was queued.
type BatchResult struct {
	Total      int
	Succeeded  int
	Failed     int
	Duplicates int
}

// RunBatch executes tasks over a fresh pool of at most workers goroutines
// and waits for all of them. A failing or panicking task is counted and
// logged; it never stops the others. Cancelling ctx cancels the tasks.
func RunBatch(ctx context.Context, tasks []Task, workers int, logger *slog.Logger) BatchResult {
	var result BatchResult
	if len(tasks) == 0 {
		return result
	}

	queue := NewTaskQueue(len(tasks), logger)
	for _, t := range tasks {
		// The queue is sized to the batch, so only duplicates are refused.
		if err := queue.Enqueue(t); err != nil {
			result.Duplicates++
		}
	}
	queue.Close()
	result.Total = queue.Len()

	if workers > result.Total {
		workers = result.Total
	}

	var succeeded, failed atomic.Int64
	pool := NewWorkerPool(ctx, queue, WorkerPoolConfig{WorkerCount: workers}, logger)
	pool.SetSuccessHandler(func(Task) { succeeded.Add(1) })
	pool.SetErrorHandler(func(Task, error) { failed.Add(1) })
	pool.Start()
	pool.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())
	return result
}
