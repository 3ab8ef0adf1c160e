package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Errors returned by TaskQueue.Enqueue.
var (
	ErrQueueClosed   = errors.New("task queue is closed")
	ErrQueueFull     = errors.New("task queue is full")
	ErrDuplicateTask = errors.New("task already queued")
)

// taskKey identifies a unit of work: the record it acts on and what it does.
type taskKey struct {
	id       uuid.UUID
	taskType string
}

// TaskQueue is a bounded queue of tasks. A task whose ID and type match one
// already accepted is refused, so a record appearing twice in one sweep's
// candidates is worked on once.
type TaskQueue struct {
	mu     sync.Mutex
	tasks  chan Task
	seen   map[taskKey]struct{}
	closed bool
	logger *slog.Logger
}

// NewTaskQueue creates a queue holding at most size tasks.
func NewTaskQueue(size int, logger *slog.Logger) *TaskQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskQueue{
		tasks:  make(chan Task, size),
		seen:   make(map[taskKey]struct{}, size),
		logger: logger,
	}
}

// Enqueue adds a task without blocking.
func (q *TaskQueue) Enqueue(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	key := taskKey{id: task.ID(), taskType: task.Type()}
	if _, dup := q.seen[key]; dup {
		return fmt.Errorf("%w: %s %s", ErrDuplicateTask, key.taskType, key.id)
	}

	select {
	case q.tasks <- task:
		q.seen[key] = struct{}{}
		return nil
	default:
		return fmt.Errorf("%w: capacity %d", ErrQueueFull, cap(q.tasks))
	}
}

// Len returns the number of tasks waiting to be read.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}

// Close stops further submission. Queued tasks remain readable.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
	q.logger.Debug("task queue closed", "accepted", len(q.seen))
}

// GetChannel implements TaskQueueReader.
func (q *TaskQueue) GetChannel() <-chan Task {
	return q.tasks
}
