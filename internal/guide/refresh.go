// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package guide keeps the EPG store in sync with the grabber's snapshots.
package guide

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/clock"
	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/fsutil"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultAttempts = 5
	DefaultBackoff  = 15 * time.Second
)

// ErrRefreshFailed is returned when the grabber failed on every attempt.
var ErrRefreshFailed = errors.New("guide: refresh failed")

// Files are the grabber's outputs.
type Files struct {
	Events   string
	Metadata string
	Channels string
	Guide    string
}

func (f Files) missing() bool {
	for _, p := range []string{f.Events, f.Metadata, f.Channels, f.Guide} {
		if !fsutil.Exists(p) {
			return true
		}
	}
	return false
}

// Merger folds cloud recordings into the store after a reload.
type Merger interface {
	Merge(ctx context.Context, forced bool) (bool, error)
}

// Refresher regenerates and reloads the guide.
type Refresher struct {
	runner Runner
	files  Files
	store  *epg.Store
	merger Merger
	clock  clock.Clock

	attempts int
	backoff  time.Duration

	grabMu sync.Mutex
	group  singleflight.Group
	logger zerolog.Logger
}

// Option configures a Refresher.
type Option func(*Refresher)

func WithClock(c clock.Clock) Option     { return func(r *Refresher) { r.clock = c } }
func WithMerger(m Merger) Option         { return func(r *Refresher) { r.merger = m } }
func WithBackoff(d time.Duration) Option { return func(r *Refresher) { r.backoff = d } }
func WithAttempts(n int) Option          { return func(r *Refresher) { r.attempts = n } }

func NewRefresher(runner Runner, files Files, store *epg.Store, opts ...Option) *Refresher {
	r := &Refresher{
		runner:   runner,
		files:    files,
		store:    store,
		clock:    clock.Real{},
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
		logger:   log.WithComponent("guide"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Generate runs the grabber, retrying with a fixed backoff. It returns
// ErrRefreshFailed once every attempt has failed.
func (r *Refresher) Generate(ctx context.Context) error {
	var last error
	for i := 1; i <= r.attempts; i++ {
		r.grabMu.Lock()
		err := r.runner.Run(ctx, "--tvheadend", r.files.Channels, "--output", r.files.Guide)
		r.grabMu.Unlock()
		if err == nil {
			metrics.GuideRefreshTotal.WithLabelValues("ok").Inc()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.GuideRefreshTotal.WithLabelValues("failed").Inc()
		last = err
		if i == r.attempts {
			break
		}
		r.logger.Error().Err(err).Str(log.FieldEvent, "guide.retry").
			Msgf("waiting %s before trying to update EPG again [%d/%d]", r.backoff, i+1, r.attempts)
		if err := r.sleep(ctx, r.backoff); err != nil {
			return err
		}
	}
	r.logger.Error().Err(last).Str(log.FieldEvent, "guide.failed").Int("attempts", r.attempts).Msg("giving up on EPG update")
	return fmt.Errorf("%w after %d attempts: %v", ErrRefreshFailed, r.attempts, last)
}

// Run runs the grabber once with args under the grabber lock, so other
// grabber users never overlap a guide generation.
func (r *Refresher) Run(ctx context.Context, args ...string) error {
	r.grabMu.Lock()
	defer r.grabMu.Unlock()
	return r.runner.Run(ctx, args...)
}

// Update regenerates the guide and reloads it.
func (r *Refresher) Update(ctx context.Context) error {
	if err := r.Generate(ctx); err != nil {
		return err
	}
	return r.Reload(ctx)
}

// Reload loads the snapshots into the store, generating them first when any
// is missing. A corrupt snapshot is deleted and the reload retried once.
// Concurrent calls share one reload.
func (r *Refresher) Reload(ctx context.Context) error {
	_, err, _ := r.group.Do("reload", func() (any, error) {
		return nil, r.reload(ctx, true)
	})
	return err
}

func (r *Refresher) reload(ctx context.Context, retry bool) error {
	if r.files.missing() {
		r.logger.Warn().Str(log.FieldEvent, "guide.missing").Msg("missing channels data, generating it")
		if err := r.Generate(ctx); err != nil {
			return err
		}
	}

	table, err := epg.LoadEvents(r.files.Events)
	if err != nil {
		return r.recover(ctx, r.files.Events, err, retry)
	}
	channels, err := epg.LoadChannels(r.files.Metadata)
	if err != nil {
		return r.recover(ctx, r.files.Metadata, err, retry)
	}

	r.store.Replace(table, channels)
	nch, nev := r.store.Stats()
	metrics.SetEPGSize(nch, nev)
	if retry {
		metrics.EPGReloadsTotal.WithLabelValues("ok").Inc()
	} else {
		metrics.EPGReloadsTotal.WithLabelValues("regenerated").Inc()
	}

	if r.merger != nil {
		if _, err := r.merger.Merge(ctx, true); err != nil {
			r.logger.Warn().Err(err).Msg("cloud merge after reload failed")
		}
	}
	nch, nev = r.store.Stats()
	r.logger.Info().Str(log.FieldEvent, "epg.reload").Int("channels", nch).Int("events", nev).Msg("EPG updated")
	return nil
}

func (r *Refresher) recover(ctx context.Context, path string, cause error, retry bool) error {
	metrics.EPGReloadsTotal.WithLabelValues("failed").Inc()
	r.logger.Error().Err(cause).Str(log.FieldPath, path).Msg("failed to load EPG snapshot")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("cannot remove snapshot")
	}
	if !retry {
		return fmt.Errorf("load %s: %w", path, cause)
	}
	return r.reload(ctx, false)
}

func (r *Refresher) sleep(ctx context.Context, d time.Duration) error {
	t := r.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// UntilNextHour is the delay from now to the next top of the hour in now's
// location.
func UntilNextHour(now time.Time) time.Duration {
	past := time.Duration(now.Minute())*time.Minute + time.Duration(now.Second())*time.Second
	return time.Hour - past
}
