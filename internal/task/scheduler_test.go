package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(setupTestLogger())

	assert.Error(t, s.Register(Job{Run: func(context.Context) error { return nil }}))
	assert.Error(t, s.Register(Job{Name: "no-run"}))

	require.NoError(t, s.Register(Job{Name: "b", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Register(Job{Name: "a", Run: func(context.Context) error { return nil }}))
	assert.Equal(t, []string{"a", "b"}, s.Jobs())
}

func TestSchedulerRunOnce(t *testing.T) {
	s := NewScheduler(setupTestLogger())
	jobErr := errors.New("sweep failed")
	require.NoError(t, s.Register(Job{Name: "failing", Run: func(context.Context) error { return jobErr }}))

	assert.ErrorIs(t, s.RunOnce(context.Background(), "failing"), jobErr)
	assert.ErrorIs(t, s.RunOnce(context.Background(), "missing"), ErrUnknownJob)
}

func TestSchedulerTicks(t *testing.T) {
	s := NewScheduler(setupTestLogger())

	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:     "fast",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))
	var disabledRuns atomic.Int32
	require.NoError(t, s.Register(Job{
		Name: "disabled",
		Run: func(context.Context) error {
			disabledRuns.Add(1)
			return nil
		},
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Zero(t, disabledRuns.Load())
}

func TestSchedulerStopCancelsRunningJob(t *testing.T) {
	s := NewScheduler(setupTestLogger())

	started := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, s.Register(Job{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			if once.CompareAndSwap(false, true) {
				close(started)
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	s.Start()
	<-started

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
