// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/u7d/internal/clock"
	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/fsutil"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultMinAge keeps programmes that may still be airing out of a scan.
	DefaultMinAge = 3 * time.Hour
	// DefaultLaunchPause throttles consecutive record launches.
	DefaultLaunchPause = 3 * time.Second
	// DefaultBootGrace holds the first check back while a freshly booted
	// host is still bringing up its network.
	DefaultBootGrace = 300 * time.Second
)

var (
	// ErrBusy is returned by Check while another check is running.
	ErrBusy = errors.New("dvr: timers check already running")
	// ErrCapacity is returned by a Recorder when the stream service is full.
	ErrCapacity = errors.New("dvr: stream service at capacity")
)

// RecordRequest asks the stream service to record one programme.
type RecordRequest struct {
	ChannelID string
	Start     int64
	Duration  int64
	VO        bool
}

// Recorder starts record-mode sessions.
type Recorder interface {
	Record(ctx context.Context, req RecordRequest) error
}

// Counter reports how many record sessions are running.
type Counter interface {
	ActiveRecordings(ctx context.Context) (int, error)
}

// Source is the read side of the EPG store used by a scan.
type Source interface {
	HasChannel(channelID string) bool
	Events(channelID string) []epg.Entry
}

// Config tunes a Scheduler.
type Config struct {
	TimersPath string
	// Threads caps concurrent recordings; 0 disables the cap.
	Threads int
	// BandwidthSignal is a file whose presence lifts the cap.
	BandwidthSignal string
	MinAge          time.Duration
	LaunchPause     time.Duration
	// BootGrace delays a check until the host has been up this long.
	BootGrace time.Duration
}

// Result summarises one scan cycle.
type Result struct {
	Active   int
	Launched int
	Capped   bool
}

// Scheduler matches EPG events against timer rules and launches recordings.
type Scheduler struct {
	cfg        Config
	source     Source
	recordings *Recordings
	layout     Layout
	recorder   Recorder
	counter    Counter
	clock      clock.Clock
	uptime     func() (time.Duration, error)

	mu      sync.Mutex
	running atomic.Bool
	queue   chan struct{}
	logger  zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for event ages and launch pauses.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithUptime overrides how host uptime is read for the boot grace.
func WithUptime(fn func() (time.Duration, error)) Option {
	return func(s *Scheduler) { s.uptime = fn }
}

func NewScheduler(cfg Config, source Source, recs *Recordings, layout Layout, rec Recorder, counter Counter, opts ...Option) *Scheduler {
	if cfg.MinAge == 0 {
		cfg.MinAge = DefaultMinAge
	}
	s := &Scheduler{
		cfg:        cfg,
		source:     source,
		recordings: recs,
		layout:     layout,
		recorder:   rec,
		counter:    counter,
		clock:      clock.Real{},
		uptime:     SystemUptime,
		queue:      make(chan struct{}, 1),
		logger:     log.WithComponent("dvr"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Busy reports whether a check is running.
func (s *Scheduler) Busy() bool {
	return s.running.Load()
}

// Queue requests a check. Requests made while one is pending coalesce.
func (s *Scheduler) Queue() {
	select {
	case s.queue <- struct{}{}:
	default:
	}
}

// Triggers delivers queued check requests.
func (s *Scheduler) Triggers() <-chan struct{} {
	return s.queue
}

// Threads returns the effective cap for this cycle.
func (s *Scheduler) Threads() int {
	if s.cfg.BandwidthSignal != "" && fsutil.Exists(s.cfg.BandwidthSignal) {
		return 0
	}
	return s.cfg.Threads
}

// Check runs one scan cycle.
func (s *Scheduler) Check(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		metrics.TimerChecksTotal.WithLabelValues("busy").Inc()
		return Result{}, ErrBusy
	}
	defer s.mu.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	if err := s.bootGrace(ctx); err != nil {
		metrics.TimerChecksTotal.WithLabelValues("failed").Inc()
		return Result{}, err
	}
	res, err := s.check(ctx)
	switch {
	case err != nil:
		metrics.TimerChecksTotal.WithLabelValues("failed").Inc()
	case res.Capped:
		metrics.TimerChecksTotal.WithLabelValues("capped").Inc()
	default:
		metrics.TimerChecksTotal.WithLabelValues("ok").Inc()
	}
	return res, err
}

func (s *Scheduler) check(ctx context.Context) (Result, error) {
	var res Result

	timers, err := LoadTimers(s.cfg.TimersPath)
	if err != nil {
		return res, fmt.Errorf("load timers: %w", err)
	}
	recorded := s.recordings.Load()

	active, err := s.counter.ActiveRecordings(ctx)
	if err != nil {
		return res, fmt.Errorf("count recordings: %w", err)
	}
	res.Active = active

	threads := s.Threads()
	if threads > 0 && active >= threads {
		s.logger.Info().Str(log.FieldEvent, "timers.capped").Int("active", active).Int("threads", threads).Msg("already recording at capacity")
		res.Capped = true
		return res, nil
	}

	channels := make([]string, 0, len(timers.Match))
	for ch := range timers.Match {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	cutoff := s.clock.Now().Add(-s.cfg.MinAge).Unix()
	for _, ch := range channels {
		if !s.source.HasChannel(ch) {
			continue
		}
		rules, errs := timers.Rules(ch)
		for _, e := range errs {
			s.logger.Warn().Err(e).Str(log.FieldChannelID, ch).Msg("skipping invalid timer rule")
		}
		if len(rules) == 0 {
			continue
		}

		added := map[string]struct{}{}
		events := s.source.Events(ch)
		for i := len(events) - 1; i >= 0; i-- {
			entry := events[i]
			if entry.Start > cutoff {
				continue
			}
			title := entry.Event.FullTitle
			for _, rule := range rules {
				if !rule.Match(title) {
					continue
				}
				if s.skip(ch, entry, added, recorded) {
					continue
				}

				err := s.launch(ctx, ch, entry, rule)
				switch {
				case errors.Is(err, ErrCapacity):
					res.Capped = true
					return res, nil
				case err != nil:
					if ctx.Err() != nil {
						return res, ctx.Err()
					}
					continue
				}
				added[title] = struct{}{}
				res.Launched++
				res.Active++
				if threads > 0 && res.Active >= threads {
					res.Capped = true
					return res, nil
				}
				if err := s.pause(ctx); err != nil {
					return res, err
				}
			}
		}
	}
	return res, nil
}

func (s *Scheduler) skip(ch string, entry epg.Entry, added map[string]struct{}, recorded RecordingSet) bool {
	title := entry.Event.FullTitle
	if _, ok := added[title]; ok {
		return true
	}
	if _, file := s.layout.Path(entry.Event); InProgress(file) {
		return true
	}
	return recorded.HasTitle(ch, title) ||
		recorded.Has(ch, strconv.Itoa(entry.Event.ProgramID)) ||
		recorded.Has(ch, strconv.FormatInt(entry.Start, 10))
}

func (s *Scheduler) launch(ctx context.Context, ch string, entry epg.Entry, rule Rule) error {
	req := RecordRequest{
		ChannelID: ch,
		Start:     entry.Start,
		Duration:  entry.Event.Duration(entry.Start),
		VO:        rule.VO(),
	}
	logger := s.logger.With().
		Str(log.FieldChannelID, ch).
		Int(log.FieldProgramID, entry.Event.ProgramID).
		Str(log.FieldTitle, entry.Event.FullTitle).
		Logger()

	err := s.recorder.Record(ctx, req)
	switch {
	case err == nil:
		metrics.TimerLaunchesTotal.WithLabelValues("ok").Inc()
		logger.Info().Str(log.FieldEvent, "timers.match").Str("rule", rule.Raw).Bool("vo", req.VO).Msg("recording started")
	case errors.Is(err, ErrCapacity):
		metrics.TimerLaunchesTotal.WithLabelValues("rejected").Inc()
		logger.Info().Str(log.FieldEvent, "timers.capped").Msg("stream service at capacity")
	default:
		metrics.TimerLaunchesTotal.WithLabelValues("error").Inc()
		logger.Warn().Err(err).Str(log.FieldEvent, "timers.launch_failed").Msg("recording not started")
	}
	return err
}

// bootGrace waits out the remainder of BootGrace when the host has just
// started. An unreadable uptime never blocks a check.
func (s *Scheduler) bootGrace(ctx context.Context) error {
	if s.cfg.BootGrace <= 0 || s.uptime == nil {
		return nil
	}
	up, err := s.uptime()
	if err != nil || up >= s.cfg.BootGrace {
		return nil
	}
	wait := s.cfg.BootGrace - up
	s.logger.Info().Str(log.FieldEvent, "timers.boot_grace").Dur("uptime", up).Dur("wait", wait).Msg("waiting for host to settle after boot")
	return s.sleep(ctx, wait)
}

func (s *Scheduler) pause(ctx context.Context) error {
	return s.sleep(ctx, s.cfg.LaunchPause)
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
