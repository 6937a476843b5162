// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit bounds how fast clients may start upstream sessions.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var sessionStartsLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "u7d",
		Name:      "session_starts_limited_total",
		Help:      "Session starts rejected by the start rate limiter",
	},
	[]string{"limit_type", "mode"},
)

// Config holds the session start limits.
type Config struct {
	GlobalRate  rate.Limit // starts per second
	GlobalBurst int

	PerClientRate  rate.Limit
	PerClientBurst int

	// Per-mode limits, keyed "live" or "record".
	ModeRates map[string]rate.Limit
	ModeBurst map[string]int

	// Per-client limiters are dropped after this long.
	CleanupInterval time.Duration
}

// DefaultConfig leaves room for player seek bursts.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  20,
		GlobalBurst: 40,

		PerClientRate:  4,
		PerClientBurst: 8,

		ModeRates: map[string]rate.Limit{
			"live":   20,
			"record": 2,
		},
		ModeBurst: map[string]int{
			"live":   40,
			"record": 10,
		},

		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter checks session starts against the global, per-mode and
// per-client budgets.
type Limiter struct {
	config Config

	global    *rate.Limiter
	perClient map[string]*rate.Limiter
	perMode   map[string]*rate.Limiter
	mu        sync.Mutex

	now         func() time.Time
	lastCleanup time.Time
}

// New creates a limiter for config.
func New(config Config) *Limiter {
	l := &Limiter{
		config:    config,
		global:    rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perClient: make(map[string]*rate.Limiter),
		perMode:   make(map[string]*rate.Limiter),
		now:       time.Now,
	}
	l.lastCleanup = l.now()
	for mode, modeRate := range config.ModeRates {
		l.perMode[mode] = rate.NewLimiter(modeRate, config.ModeBurst[mode])
	}
	return l
}

// Allow reports whether client may start a session in mode now.
func (l *Limiter) Allow(client, mode string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanup(now)

	if !l.global.AllowN(now, 1) {
		sessionStartsLimited.WithLabelValues("global", mode).Inc()
		return false
	}
	if ml, ok := l.perMode[mode]; ok && !ml.AllowN(now, 1) {
		sessionStartsLimited.WithLabelValues("per_mode", mode).Inc()
		return false
	}

	cl, ok := l.perClient[client]
	if !ok {
		cl = rate.NewLimiter(l.config.PerClientRate, l.config.PerClientBurst)
		l.perClient[client] = cl
	}
	if !cl.AllowN(now, 1) {
		sessionStartsLimited.WithLabelValues("per_client", mode).Inc()
		return false
	}
	return true
}

// maybeCleanup drops all per-client limiters once the interval passed.
func (l *Limiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.perClient = make(map[string]*rate.Limiter)
	l.lastCleanup = now
}
