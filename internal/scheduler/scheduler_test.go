package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type immediateSchedule struct{}

func (immediateSchedule) Next(t time.Time) time.Time { return t }

type futureSchedule struct{}

func (futureSchedule) Next(t time.Time) time.Time { return t.Add(time.Hour) }

func noop(context.Context) error { return nil }

func TestScheduler_CRUD(t *testing.T) {
	s := New(nil, Options{})

	task := &Task{ID: "t1", Name: "Test Task", Schedule: futureSchedule{}, Func: noop}
	require.NoError(t, s.AddTask(task))
	assert.Error(t, s.AddTask(task), "duplicate IDs are rejected")

	status, ok := s.GetTaskStatus("t1")
	require.True(t, ok)
	assert.False(t, status.NextRun.IsZero())

	require.NoError(t, s.RemoveTask("t1"))
	assert.Error(t, s.RemoveTask("t1"))
	assert.Error(t, s.RunTask("t1"))
}

func TestScheduler_Validation(t *testing.T) {
	s := New(nil, Options{})
	assert.Error(t, s.AddTask(&Task{Schedule: Every(time.Second), Func: noop}))
	assert.Error(t, s.AddTask(&Task{ID: "x", Func: noop}))
	assert.Error(t, s.AddTask(&Task{ID: "x", Schedule: Every(time.Second)}))
}

func TestScheduler_RunsDueTasks(t *testing.T) {
	s := New(nil, Options{Tick: 5 * time.Millisecond})
	var runs atomic.Int32
	require.NoError(t, s.AddTask(&Task{
		ID:       "due",
		Name:     "due",
		Schedule: immediateSchedule{},
		Func: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	s.Start()
	assert.True(t, s.IsRunning())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.False(t, s.IsRunning())

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New(nil, Options{Tick: time.Millisecond})
	var concurrent, maxConcurrent atomic.Int32
	release := make(chan struct{})

	require.NoError(t, s.AddTask(&Task{
		ID:       "slow",
		Schedule: immediateSchedule{},
		Func: func(ctx context.Context) error {
			n := concurrent.Add(1)
			if n > maxConcurrent.Load() {
				maxConcurrent.Store(n)
			}
			defer concurrent.Add(-1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}))

	s.Start()
	time.Sleep(20 * time.Millisecond)
	close(release)
	s.Stop()

	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestScheduler_RunOnStartAndStatus(t *testing.T) {
	s := New(nil, Options{})
	done := make(chan struct{})
	require.NoError(t, s.AddTask(&Task{
		ID:         "boot",
		Name:       "boot",
		Schedule:   futureSchedule{},
		RunOnStart: true,
		Func: func(context.Context) error {
			defer close(done)
			return errors.New("boom")
		},
	}))

	s.Start()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunOnStart task did not run")
	}
	s.Stop()

	status, ok := s.GetTaskStatus("boot")
	require.True(t, ok)
	assert.Equal(t, int64(1), status.RunCount)
	assert.Equal(t, int64(1), status.ErrorCount)
	assert.Equal(t, "boom", status.LastError)
}

func TestScheduler_Restart(t *testing.T) {
	s := New(nil, Options{Tick: 5 * time.Millisecond})
	var runs atomic.Int32
	require.NoError(t, s.AddTask(&Task{
		ID:       "r",
		Schedule: immediateSchedule{},
		Func:     func(context.Context) error { runs.Add(1); return nil },
	}))

	s.Start()
	s.Stop()
	before := runs.Load()

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() > before }, time.Second, 5*time.Millisecond)
}

func TestSchedules(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, base.Add(time.Minute), Every(time.Minute).Next(base))
	assert.Equal(t, time.Date(2025, 3, 11, 3, 0, 0, 0, time.UTC), Daily(3, 0).Next(base))
	assert.Equal(t, time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC), Daily(18, 0).Next(base))
}

func TestSweepTask(t *testing.T) {
	called := 0
	task := NewSweepTask(time.Minute, func() int { called++; return 2 })
	require.NoError(t, task.Func(context.Background()))
	assert.Equal(t, 1, called)
	assert.Equal(t, "blocklist-sweep", task.ID)
}
