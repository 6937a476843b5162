// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func testConfig() Config {
	return Config{
		GlobalRate:      100,
		GlobalBurst:     100,
		PerClientRate:   1,
		PerClientBurst:  2,
		ModeRates:       map[string]rate.Limit{"record": 1},
		ModeBurst:       map[string]int{"record": 1},
		CleanupInterval: time.Minute,
	}
}

func frozen(l *Limiter, t time.Time) *time.Time {
	now := t
	l.now = func() time.Time { return now }
	l.lastCleanup = now
	return &now
}

func TestLimiter_PerClientBurst(t *testing.T) {
	l := New(testConfig())
	frozen(l, time.Unix(1700000000, 0))

	assert.True(t, l.Allow("10.0.0.1", "live"))
	assert.True(t, l.Allow("10.0.0.1", "live"))
	assert.False(t, l.Allow("10.0.0.1", "live"), "third start within the burst window")
	assert.True(t, l.Allow("10.0.0.2", "live"), "other clients keep their own budget")
}

func TestLimiter_PerMode(t *testing.T) {
	l := New(testConfig())
	frozen(l, time.Unix(1700000000, 0))

	assert.True(t, l.Allow("10.0.0.1", "record"))
	assert.False(t, l.Allow("10.0.0.2", "record"))
	assert.True(t, l.Allow("10.0.0.2", "live"))
}

func TestLimiter_Refills(t *testing.T) {
	l := New(testConfig())
	now := frozen(l, time.Unix(1700000000, 0))

	assert.True(t, l.Allow("10.0.0.1", "live"))
	assert.True(t, l.Allow("10.0.0.1", "live"))
	assert.False(t, l.Allow("10.0.0.1", "live"))

	*now = now.Add(time.Second)
	assert.True(t, l.Allow("10.0.0.1", "live"))
}

func TestLimiter_CleanupResetsClients(t *testing.T) {
	l := New(testConfig())
	now := frozen(l, time.Unix(1700000000, 0))

	assert.True(t, l.Allow("10.0.0.1", "live"))
	assert.Len(t, l.perClient, 1)

	*now = now.Add(2 * time.Minute)
	assert.True(t, l.Allow("10.0.0.2", "live"))
	assert.Len(t, l.perClient, 1)
	assert.NotContains(t, l.perClient, "10.0.0.1")
}
