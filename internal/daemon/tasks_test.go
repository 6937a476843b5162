// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuGH/u7d/internal/clock/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func nextTimer(t *testing.T, clk *clocktest.Clock) *clocktest.Timer {
	t.Helper()
	select {
	case tm := <-clk.Timers():
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("no timer armed")
		return nil
	}
}

func waitRun(t *testing.T, runs <-chan struct{}) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
}

func stopTasks(t *testing.T, tasks *Tasks) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tasks.Stop(ctx))
}

func TestTasks_DelayThenInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	runs := make(chan struct{}, 4)

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name:     "guide",
		Delay:    5 * time.Minute,
		Interval: time.Hour,
		Run:      func(context.Context) error { runs <- struct{}{}; return nil },
	}))

	tm := nextTimer(t, clk)
	assert.Equal(t, 5*time.Minute, tm.Duration())
	select {
	case <-runs:
		t.Fatal("ran before the delay")
	case <-time.After(20 * time.Millisecond):
	}
	tm.Fire()
	waitRun(t, runs)

	tm = nextTimer(t, clk)
	assert.Equal(t, time.Hour, tm.Duration())
	tm.Fire()
	waitRun(t, runs)

	assert.Equal(t, []string{"guide"}, tasks.Names())
	stopTasks(t, tasks)
	assert.Empty(t, tasks.Names())
}

func TestTasks_IntervalKeepsBoundaryAfterSlowRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	start := time.Date(2026, 10, 14, 9, 55, 0, 0, time.UTC)
	clk := clocktest.New(start)
	tasks := NewTasks(clk)
	runs := make(chan time.Time, 4)

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name:     "guide",
		Delay:    5 * time.Minute,
		Interval: time.Hour,
		Run: func(context.Context) error {
			at := clk.Now()
			// The grabber takes ten minutes.
			clk.Set(at.Add(10 * time.Minute))
			runs <- at
			return nil
		},
	}))

	nextTimer(t, clk).Fire()
	select {
	case at := <-runs:
		assert.Equal(t, start.Add(5*time.Minute), at)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	tm := nextTimer(t, clk)
	assert.Equal(t, 50*time.Minute, tm.Duration())
	tm.Fire()
	select {
	case at := <-runs:
		assert.Equal(t, time.Date(2026, 10, 14, 11, 0, 0, 0, time.UTC), at)
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}

	stopTasks(t, tasks)
}

func TestTasks_OverrunningRunRearmsImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	runs := make(chan struct{}, 4)

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name:     "cloud",
		Interval: time.Minute,
		Run: func(context.Context) error {
			clk.Set(clk.Now().Add(2 * time.Minute))
			runs <- struct{}{}
			return nil
		},
	}))

	nextTimer(t, clk).Fire()
	waitRun(t, runs)

	tm := nextTimer(t, clk)
	assert.Equal(t, time.Duration(0), tm.Duration())

	stopTasks(t, tasks)
}

func TestTasks_Trigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	runs := make(chan struct{}, 4)
	trigger := make(chan struct{}, 1)

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name:     "timers",
		Delay:    time.Minute,
		Interval: 15 * time.Minute,
		Trigger:  trigger,
		Run:      func(context.Context) error { runs <- struct{}{}; return nil },
	}))
	nextTimer(t, clk)

	trigger <- struct{}{}
	waitRun(t, runs)
	trigger <- struct{}{}
	waitRun(t, runs)

	stopTasks(t, tasks)
}

func TestTasks_OneShotFinishes(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	runs := make(chan struct{}, 1)

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name: "once",
		Run:  func(context.Context) error { runs <- struct{}{}; return errors.New("boom") },
	}))
	nextTimer(t, clk).Fire()
	waitRun(t, runs)

	require.Eventually(t, func() bool { return len(tasks.Names()) == 0 }, 2*time.Second, 5*time.Millisecond)
	stopTasks(t, tasks)
}

func TestTasks_DuplicateAndCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	task := Task{Name: "cloud", Delay: time.Hour, Run: func(context.Context) error { return nil }}

	require.NoError(t, tasks.Go(context.Background(), task))
	assert.ErrorIs(t, tasks.Go(context.Background(), task), ErrDuplicateTask)
	assert.ErrorIs(t, tasks.Go(context.Background(), Task{Name: "empty"}), ErrInvalidTask)

	assert.True(t, tasks.Cancel("cloud"))
	assert.False(t, tasks.Cancel("missing"))
	require.Eventually(t, func() bool { return len(tasks.Names()) == 0 }, 2*time.Second, 5*time.Millisecond)

	// The name is free again once the task returned.
	require.NoError(t, tasks.Go(context.Background(), task))
	stopTasks(t, tasks)
	assert.ErrorIs(t, tasks.Go(context.Background(), task), ErrTasksStopped)
}

func TestTasks_PanicIsContained(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	runs := make(chan struct{}, 2)
	first := true

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name:     "playlist",
		Interval: time.Minute,
		Run: func(context.Context) error {
			runs <- struct{}{}
			if first {
				first = false
				panic("boom")
			}
			return nil
		},
	}))
	nextTimer(t, clk).Fire()
	waitRun(t, runs)
	nextTimer(t, clk).Fire()
	waitRun(t, runs)

	stopTasks(t, tasks)
}

func TestTasks_StopIsBounded(t *testing.T) {
	clk := clocktest.New(time.Unix(1700000000, 0))
	tasks := NewTasks(clk)
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, tasks.Go(context.Background(), Task{
		Name: "stuck",
		Run: func(context.Context) error {
			close(started)
			<-release
			return nil
		},
	}))
	nextTimer(t, clk).Fire()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := tasks.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "stuck")

	close(release)
	stopTasks(t, tasks)
}
