package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/turnstile/internal/clock"
	"grimm.is/turnstile/internal/logging"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func noop(context.Context) error { return nil }

func statusOf(t *testing.T, s *Scheduler, id string) TaskStatus {
	t.Helper()
	for _, st := range s.GetStatus() {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("task %s not registered", id)
	return TaskStatus{}
}

func TestScheduler_AddTaskAndStatus(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	s := New(logging.Discard(), WithClock(clk))

	task := &Task{ID: "t1", Name: "Zeta", Enabled: true, Schedule: Every(time.Minute), Func: noop}
	require.NoError(t, s.AddTask(task))
	assert.Error(t, s.AddTask(task), "duplicate ID")
	require.NoError(t, s.AddTask(&Task{ID: "t2", Name: "Alpha", Schedule: Every(time.Minute), Func: noop}))

	statuses := s.GetStatus()
	require.Len(t, statuses, 2)
	assert.Equal(t, "Alpha", statuses[0].Name, "sorted by name")
	assert.True(t, statuses[0].NextRun.IsZero(), "disabled tasks are never due")
	assert.Equal(t, epoch.Add(time.Minute), statusOf(t, s, "t1").NextRun)
}

func TestScheduler_AddTaskValidation(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.AddTask(&Task{Schedule: Every(time.Second), Func: noop}))
	assert.Error(t, s.AddTask(&Task{ID: "x", Func: noop}))
	assert.Error(t, s.AddTask(&Task{ID: "x", Schedule: Every(time.Second)}))
}

func TestScheduler_RunTask(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	s := New(logging.Discard(), WithClock(clk))

	boom := errors.New("sensor unplugged")
	var calls atomic.Int32
	require.NoError(t, s.AddTask(&Task{
		ID: "tick", Name: "Tick", Enabled: true, Schedule: Every(time.Minute),
		Func: func(context.Context) error {
			if calls.Add(1) == 2 {
				return boom
			}
			return nil
		},
	}))

	require.NoError(t, s.RunTask(context.Background(), "tick"))
	assert.ErrorIs(t, s.RunTask(context.Background(), "tick"), boom)

	st := statusOf(t, s, "tick")
	assert.EqualValues(t, 2, st.RunCount)
	assert.EqualValues(t, 1, st.ErrorCount)
	assert.Equal(t, boom.Error(), st.LastError)

	assert.Error(t, s.RunTask(context.Background(), "missing"))
}

func TestScheduler_DueTasksRun(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	s := New(logging.Discard(), WithClock(clk), WithResolution(5*time.Millisecond))

	ran := make(chan struct{}, 4)
	require.NoError(t, s.AddTask(&Task{
		ID: "due", Name: "Due", Enabled: true, Schedule: Every(time.Minute),
		Func: func(context.Context) error { ran <- struct{}{}; return nil },
	}))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
		t.Fatal("task ran before it was due")
	case <-time.After(30 * time.Millisecond):
	}

	clk.Advance(time.Minute)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("due task did not run")
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	s := New(logging.Discard())

	ran := make(chan struct{})
	require.NoError(t, s.AddTask(&Task{
		ID: "start", Name: "Start", Enabled: true, RunOnStart: true, Schedule: Every(time.Hour),
		Func: func(context.Context) error { close(ran); return nil },
	}))

	s.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("RunOnStart task did not run")
	}
	s.Stop()
	s.Stop()
}

func TestScheduler_StopCancelsTasks(t *testing.T) {
	s := New(logging.Discard())

	started := make(chan struct{})
	require.NoError(t, s.AddTask(&Task{
		ID: "long", Name: "Long", Enabled: true, RunOnStart: true, Schedule: Every(time.Hour),
		Func: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}))

	s.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() { s.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
