// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/u7d/internal/api"
	"github.com/ManuGH/u7d/internal/cache"
	"github.com/ManuGH/u7d/internal/config"
	"github.com/ManuGH/u7d/internal/epgclient"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/ratelimit"
	"github.com/ManuGH/u7d/internal/session"
)

// ConfigPathEnv passes the config file location down to session units.
const ConfigPathEnv = "U7D_CONFIG"

// sessionDrain bounds how long shutdown waits for units to exit.
const sessionDrain = 10 * time.Second

const imageJanitorInterval = 10 * time.Minute

// StreamService is the stream role: catch-up resolution, session
// orchestration and the published files.
type StreamService struct {
	Orchestrator *session.Orchestrator
	EPG          *epgclient.Client
	// Images is nil when image caching is off.
	Images cache.Cache
	server *api.StreamServer
}

// NewStreamService wires the stream role from cfg. configPath, when set,
// is handed to every unit.
func NewStreamService(ctx context.Context, cfg config.AppConfig, configPath string) *StreamService {
	launcher := &session.ExecLauncher{Bin: cfg.Stream.SessionBin}
	if configPath != "" {
		launcher.Env = append(os.Environ(), ConfigPathEnv+"="+configPath)
	}
	orch := session.NewOrchestrator(launcher, session.WithMaxSessions(cfg.Stream.MaxSessions))
	epgc := epgclient.New(cfg.EPGURL(), nil)

	paths := cfg.Paths()
	files := api.StreamFiles{
		Channels:      paths.Channels,
		Guide:         paths.Guide,
		ChannelsCloud: paths.ChannelsCloud,
		GuideCloud:    paths.GuideCloud,
	}
	if cfg.Record.Enabled() {
		files.RecordingsM3U = paths.RecordingsM3U
		files.RecordingsDir = cfg.Record.Dir
	}

	svc := &StreamService{
		Orchestrator: orch,
		EPG:          epgc,
		Images:       newImageCache(ctx, cfg.Images),
	}
	var imageOpts []api.ImageOption
	if svc.Images != nil {
		imageOpts = append(imageOpts, api.WithImageCache(svc.Images, time.Duration(cfg.Images.TTL)*time.Second))
	}
	svc.server = api.NewStreamServer(api.StreamDeps{
		Resolver: epgc,
		Sessions: orch,
		UDPXY:    cfg.UDPXY,
		Files:    files,
		Images:   api.NewImageProxy(cfg.Images.Base, nil, imageOpts...),
		Starts:   ratelimit.New(ratelimit.DefaultConfig()),
	})
	return svc
}

// newImageCache prefers Redis when configured and falls back to memory.
func newImageCache(ctx context.Context, cfg config.ImagesConfig) cache.Cache {
	if cfg.TTL <= 0 {
		return nil
	}
	if cfg.Redis != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{Addr: cfg.Redis})
		if err == nil {
			return rc
		}
		logger := log.WithComponent("stream")
		logger.Warn().Err(err).Str("addr", cfg.Redis).Msg("image cache falls back to memory")
	}
	return cache.NewMemory(cache.DefaultMaxEntries, imageJanitorInterval)
}

// Handler returns the stream HTTP surface.
func (s *StreamService) Handler() http.Handler {
	return s.server.Routes()
}

// Shutdown interrupts every unit and waits for them.
func (s *StreamService) Shutdown(ctx context.Context) error {
	return s.Orchestrator.Shutdown(ctx)
}

// Close releases the image cache.
func (s *StreamService) Close() error {
	if s.Images == nil {
		return nil
	}
	return s.Images.Close()
}

// RunStream serves the stream role until ctx is done.
func RunStream(ctx context.Context, cfg config.AppConfig, configPath string) error {
	svc := NewStreamService(ctx, cfg, configPath)
	logger := log.WithComponent("stream")

	mgr, err := NewManager(DefaultServerConfig(), ServerSpec{
		Name:     "stream",
		Addr:     cfg.StreamAddr(),
		Handler:  svc.Handler(),
		MaxConns: cfg.Stream.MaxConns,
		// Live responses only end once their sessions stop.
		OnShutdown: func() {
			drainCtx, cancel := context.WithTimeout(context.Background(), sessionDrain)
			defer cancel()
			if err := svc.Shutdown(drainCtx); err != nil {
				logger.Warn().Err(err).Msg("sessions left running")
			}
		},
	})
	if err != nil {
		_ = svc.Close()
		return err
	}
	mgr.RegisterShutdownHook("images", func(context.Context) error { return svc.Close() })
	return mgr.Start(ctx)
}
