// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/clock"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/metrics"
	"github.com/rs/zerolog"
)

// Task is a named background job. It runs once after Delay, then every
// Interval (if non-zero) measured from the start of the previous run, and
// additionally whenever Trigger delivers.
type Task struct {
	Name     string
	Delay    time.Duration
	Interval time.Duration
	Trigger  <-chan struct{}
	Run      func(ctx context.Context) error
}

// Tasks supervises background tasks. Every task can be cancelled by name;
// Stop cancels them all and waits.
type Tasks struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

func NewTasks(c clock.Clock) *Tasks {
	if c == nil {
		c = clock.Real{}
	}
	return &Tasks{
		clock:   c,
		logger:  log.WithComponent("tasks"),
		running: make(map[string]context.CancelFunc),
	}
}

// Go starts task under ctx.
func (t *Tasks) Go(ctx context.Context, task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q: %w", task.Name, ErrInvalidTask)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return ErrTasksStopped
	}
	if _, dup := t.running[task.Name]; dup {
		return fmt.Errorf("task %q: %w", task.Name, ErrDuplicateTask)
	}

	ctx, cancel := context.WithCancel(ctx)
	t.running[task.Name] = cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.forget(task.Name)
		defer cancel()
		t.loop(ctx, task)
	}()
	return nil
}

// Cancel stops the named task. It reports whether the task was running.
func (t *Tasks) Cancel(name string) bool {
	t.mu.Lock()
	cancel, ok := t.running[name]
	t.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Names lists running tasks, sorted.
func (t *Tasks) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.running))
	for n := range t.running {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every task and waits until they return or ctx expires.
func (t *Tasks) Stop(ctx context.Context) error {
	t.mu.Lock()
	t.stopped = true
	for _, cancel := range t.running {
		cancel()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tasks still running %v: %w", t.Names(), ctx.Err())
	}
}

func (t *Tasks) forget(name string) {
	t.mu.Lock()
	delete(t.running, name)
	t.mu.Unlock()
}

func (t *Tasks) loop(ctx context.Context, task Task) {
	timer := t.clock.NewTimer(task.Delay)
	defer timer.Stop()
	timerLive := true

	for {
		var tick <-chan time.Time
		if timerLive {
			tick = timer.C()
		}
		select {
		case <-ctx.Done():
			return
		case <-tick:
			started := t.clock.Now()
			t.run(ctx, task)
			if task.Interval > 0 {
				// Re-arm from the scheduled start so runs keep their boundary.
				timer.Reset(max(task.Interval-t.clock.Now().Sub(started), 0))
			} else {
				timerLive = false
				if task.Trigger == nil {
					return
				}
			}
		case _, ok := <-task.Trigger:
			if !ok {
				task.Trigger = nil
				if !timerLive {
					return
				}
				continue
			}
			t.run(ctx, task)
		}
	}
}

func (t *Tasks) run(ctx context.Context, task Task) {
	if ctx.Err() != nil {
		return
	}
	logger := t.logger.With().Str(log.FieldTaskName, task.Name).Logger()
	start := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			logger.Error().
				Str(log.FieldEvent, "task.panic").
				Interface("panic", r).
				Msg("task panicked")
		}
		metrics.TaskRunsTotal.WithLabelValues(task.Name, result).Inc()
	}()

	err := task.Run(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		result = "canceled"
		logger.Debug().Err(err).Msg("task canceled")
	case err != nil:
		result = "error"
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "task.failed").
			Dur("duration", time.Since(start)).
			Msg("task failed")
	default:
		logger.Debug().Dur("duration", time.Since(start)).Msg("task done")
	}
}
