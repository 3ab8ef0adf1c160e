package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueEnqueue(t *testing.T) {
	t.Run("refuses when full", func(t *testing.T) {
		q := NewTaskQueue(2, setupTestLogger())
		require.NoError(t, q.Enqueue(newMockTask()))
		require.NoError(t, q.Enqueue(newMockTask()))

		extra := newMockTask()
		assert.ErrorIs(t, q.Enqueue(extra), ErrQueueFull)

		<-q.GetChannel()
		assert.NoError(t, q.Enqueue(extra), "space freed by a reader")
	})

	t.Run("refuses a duplicate of a queued task", func(t *testing.T) {
		q := NewTaskQueue(4, setupTestLogger())
		id := uuid.New()
		noop := func(context.Context) error { return nil }

		require.NoError(t, q.Enqueue(NewFuncTask(id, "process_pending_payment", noop)))
		err := q.Enqueue(NewFuncTask(id, "process_pending_payment", noop))
		assert.ErrorIs(t, err, ErrDuplicateTask)

		assert.NoError(t, q.Enqueue(NewFuncTask(id, "retry_failed_payment", noop)),
			"same record, different work")
		assert.Equal(t, 2, q.Len())
	})

	t.Run("a full queue does not mark the task as seen", func(t *testing.T) {
		q := NewTaskQueue(1, setupTestLogger())
		require.NoError(t, q.Enqueue(newMockTask()))
		late := newMockTask()
		require.ErrorIs(t, q.Enqueue(late), ErrQueueFull)

		<-q.GetChannel()
		assert.NoError(t, q.Enqueue(late))
	})
}

func TestTaskQueueClose(t *testing.T) {
	q := NewTaskQueue(4, setupTestLogger())
	queued := newMockTask()
	require.NoError(t, q.Enqueue(queued))

	q.Close()
	assert.NotPanics(t, q.Close, "close is idempotent")
	assert.ErrorIs(t, q.Enqueue(newMockTask()), ErrQueueClosed)

	got, ok := <-q.GetChannel()
	require.True(t, ok, "queued tasks survive close")
	assert.Equal(t, queued.ID(), got.ID())

	select {
	case _, ok := <-q.GetChannel():
		assert.False(t, ok, "channel is closed once drained")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out reading from a closed queue")
	}
}

func TestTaskQueueConcurrentEnqueue(t *testing.T) {
	const n = 50
	q := NewTaskQueue(n, setupTestLogger())

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(newMockTask()))
		}()
	}
	wg.Wait()
	q.Close()

	count := 0
	for range q.GetChannel() {
		count++
	}
	assert.Equal(t, n, count)
}
