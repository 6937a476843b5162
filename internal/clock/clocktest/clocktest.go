// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package clocktest provides a manually driven clock.Clock.
package clocktest

import (
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/clock"
)

// Clock hands out timers that only fire when the test says so. Every
// NewTimer call is published on Timers, so a test can wait until the code
// under test is actually blocked on a timer before firing it.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers chan *Timer
}

// New returns a clock frozen at now.
func New(now time.Time) *Clock {
	return &Clock{now: now, timers: make(chan *Timer, 64)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock without firing anything.
func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Clock) NewTimer(d time.Duration) clock.Timer {
	t := &Timer{ch: make(chan time.Time, 1), d: d, clock: c}
	select {
	case c.timers <- t:
	default:
	}
	return t
}

// Timers yields every timer created, in creation order.
func (c *Clock) Timers() <-chan *Timer {
	return c.timers
}

// Timer is a fake clock.Timer.
type Timer struct {
	mu      sync.Mutex
	ch      chan time.Time
	d       time.Duration
	stopped bool
	clock   *Clock
}

func (t *Timer) C() <-chan time.Time { return t.ch }

func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *Timer) Reset(d time.Duration) bool {
	t.mu.Lock()
	was := !t.stopped
	t.stopped = false
	t.d = d
	t.mu.Unlock()
	select {
	case t.clock.timers <- t:
	default:
	}
	return was
}

// Duration returns the duration the timer was last armed with.
func (t *Timer) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d
}

// Fire delivers a tick, advancing the clock by the timer's duration.
func (t *Timer) Fire() {
	t.mu.Lock()
	d := t.d
	t.mu.Unlock()

	t.clock.mu.Lock()
	t.clock.now = t.clock.now.Add(d)
	now := t.clock.now
	t.clock.mu.Unlock()

	select {
	case t.ch <- now:
	default:
	}
}
