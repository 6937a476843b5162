// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/u7d/internal/api"
	"github.com/ManuGH/u7d/internal/clock"
	"github.com/ManuGH/u7d/internal/cloud"
	"github.com/ManuGH/u7d/internal/config"
	"github.com/ManuGH/u7d/internal/dvr"
	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/fsutil"
	"github.com/ManuGH/u7d/internal/guide"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/upstream"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Background task schedule of the EPG service.
const (
	PlaylistInterval = 300 * time.Second
	CloudDelay       = 300 * time.Second
	CloudInterval    = 300 * time.Second
	GuideInterval    = time.Hour
	TimersDelay      = 60 * time.Second
	TimersInterval   = 900 * time.Second
)

// EPGService is the EPG role: store, refresh, cloud merge and timers.
type EPGService struct {
	cfg   config.AppConfig
	clock clock.Clock

	Store      *epg.Store
	Refresher  *guide.Refresher
	Merger     *cloud.Merger
	Recordings *dvr.Recordings
	Layout     dvr.Layout
	Streams    *dvr.StreamClient
	// Scheduler is nil when recordings are disabled.
	Scheduler *dvr.Scheduler

	tasks  *Tasks
	logger zerolog.Logger
}

// EPGOption customises an EPGService.
type EPGOption func(*epgOptions)

type epgOptions struct {
	clock   clock.Clock
	runner  guide.Runner
	catalog cloud.Catalog
	http    *http.Client
}

// WithEPGClock drives timers and task schedules from c.
func WithEPGClock(c clock.Clock) EPGOption { return func(o *epgOptions) { o.clock = c } }

// WithGrabber replaces the external guide grabber.
func WithGrabber(r guide.Runner) EPGOption { return func(o *epgOptions) { o.runner = r } }

// WithCatalog replaces the head-end cloud catalog.
func WithCatalog(c cloud.Catalog) EPGOption { return func(o *epgOptions) { o.catalog = c } }

// WithStreamHTTPClient sets the client used to reach the stream service.
func WithStreamHTTPClient(h *http.Client) EPGOption { return func(o *epgOptions) { o.http = h } }

// NewEPGService wires the EPG role from cfg.
func NewEPGService(cfg config.AppConfig, opts ...EPGOption) *EPGService {
	o := epgOptions{clock: clock.Real{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = &guide.Grabber{Bin: cfg.EPG.Grabber}
	}
	if o.catalog == nil {
		o.catalog = upstream.New(cfg.Upstream.MVTVURL)
	}

	paths := cfg.Paths()
	s := &EPGService{
		cfg:        cfg,
		clock:      o.clock,
		Store:      epg.NewStore(),
		Recordings: dvr.NewRecordings(paths.Recordings),
		Layout:     dvr.Layout{Root: cfg.Record.Dir},
		Streams:    dvr.NewStreamClient(cfg.StreamURL(), o.http),
		tasks:      NewTasks(o.clock),
		logger:     log.WithComponent("epg"),
	}
	s.Store.SetClock(o.clock.Now)

	// The merger shares the refresher's grabber lock.
	var refresher *guide.Refresher
	s.Merger = cloud.NewMerger(o.catalog, s.Store, runnerFunc(func(ctx context.Context, args ...string) error {
		return refresher.Run(ctx, args...)
	}), cloud.Files{
		Data:     paths.CloudData,
		Channels: paths.ChannelsCloud,
		Guide:    paths.GuideCloud,
	})
	refresher = guide.NewRefresher(o.runner, guide.Files{
		Events:   paths.EPGData,
		Metadata: paths.EPGMetadata,
		Channels: paths.Channels,
		Guide:    paths.Guide,
	}, s.Store, guide.WithClock(o.clock), guide.WithMerger(s.Merger))
	s.Refresher = refresher

	if cfg.Record.Enabled() {
		s.Scheduler = dvr.NewScheduler(dvr.Config{
			TimersPath:      paths.Timers,
			Threads:         cfg.Record.Threads,
			BandwidthSignal: cfg.Record.BandwidthSignal,
			MinAge:          dvr.DefaultMinAge,
			LaunchPause:     dvr.DefaultLaunchPause,
			BootGrace:       dvr.DefaultBootGrace,
		}, s.Store, s.Recordings, s.Layout, s.Streams, s.Streams, dvr.WithClock(o.clock))
	}
	return s
}

type runnerFunc func(ctx context.Context, args ...string) error

func (f runnerFunc) Run(ctx context.Context, args ...string) error { return f(ctx, args...) }

// Handler returns the EPG HTTP surface.
func (s *EPGService) Handler() http.Handler {
	deps := api.EPGDeps{
		Store:    s.Store,
		Reloader: s.Refresher,
		Layout:   s.Layout,
	}
	if s.Scheduler != nil {
		deps.Timers = s.Scheduler
		deps.Recordings = s.Recordings
	}
	return api.NewEPGServer(deps).Routes()
}

// Tasks exposes the task registry.
func (s *EPGService) Tasks() *Tasks { return s.tasks }

// Start loads the guide and schedules every background task.
func (s *EPGService) Start(ctx context.Context) error {
	if err := s.Refresher.Reload(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error().Err(err).Str(log.FieldEvent, "epg.initial_reload_failed").Msg("starting without guide")
	}

	paths := s.cfg.Paths()
	tasks := []Task{
		{
			Name:     "guide",
			Delay:    guide.UntilNextHour(s.clock.Now()),
			Interval: GuideInterval,
			Run:      s.Refresher.Update,
		},
		{
			Name:     "cloud",
			Delay:    CloudDelay,
			Interval: CloudInterval,
			Run: func(ctx context.Context) error {
				_, err := s.Merger.Merge(ctx, false)
				return err
			},
		},
	}
	if s.cfg.Record.Enabled() {
		tasks = append(tasks, Task{
			Name:     "recordings_playlist",
			Interval: PlaylistInterval,
			Run: func(context.Context) error {
				_, err := dvr.WritePlaylist(paths.RecordingsM3U, s.cfg.Record.Dir, s.cfg.StreamURL())
				return err
			},
		})
	}
	s.logger.Info().
		Dur("delay", guide.UntilNextHour(s.clock.Now())).
		Msg("waiting to start updating EPG")

	if s.Scheduler != nil {
		if fsutil.Exists(paths.Timers) {
			s.cleanStale(ctx)
			tasks = append(tasks,
				Task{
					Name:     "timers",
					Delay:    TimersDelay,
					Interval: TimersInterval,
					Trigger:  s.Scheduler.Triggers(),
					Run:      s.checkTimers,
				},
				Task{
					Name: "timers_watch",
					Run:  s.Scheduler.WatchTimers,
				},
			)
		} else {
			s.logger.Info().Str(log.FieldPath, paths.Timers).Msg("No timers.json found, recordings disabled")
		}
	}

	for _, t := range tasks {
		if err := s.tasks.Go(ctx, t); err != nil {
			return fmt.Errorf("start task: %w", err)
		}
	}
	return nil
}

func (s *EPGService) cleanStale(ctx context.Context) {
	n, err := dvr.CleanStale(ctx, s.Layout, s.Streams, s.Store)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "dvr.cleanup_skipped").Msg("cannot list running recordings, keeping temp files")
		return
	}
	if n > 0 {
		s.logger.Info().Int("removed", n).Msg("removed stale recordings")
	}
}

func (s *EPGService) checkTimers(ctx context.Context) error {
	_, err := s.Scheduler.Check(ctx)
	if errors.Is(err, dvr.ErrBusy) {
		return nil
	}
	return err
}

// Stop cancels all tasks, waiting at most until ctx expires.
func (s *EPGService) Stop(ctx context.Context) error {
	return s.tasks.Stop(ctx)
}

// RunEPG serves the EPG role until ctx is done.
func RunEPG(ctx context.Context, cfg config.AppConfig) error {
	svc := NewEPGService(cfg)
	mgr, err := NewManager(DefaultServerConfig(), ServerSpec{
		Name:    "epg",
		Addr:    cfg.EPGAddr(),
		Handler: svc.Handler(),
	})
	if err != nil {
		return err
	}
	mgr.RegisterShutdownHook("tasks", svc.Stop)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Start(gctx) })
	g.Go(func() error {
		if err := svc.Start(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	return g.Wait()
}
