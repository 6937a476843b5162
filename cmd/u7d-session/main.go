// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command u7d-session is the per-session unit launched by the stream
// service. It negotiates one upstream RTSP session and holds it until it
// is interrupted or, with -w, until the recording completes.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/u7d/internal/config"
	"github.com/ManuGH/u7d/internal/daemon"
	"github.com/ManuGH/u7d/internal/epgclient"
	xglog "github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/unit"
	"github.com/ManuGH/u7d/internal/upstream"
	"github.com/ManuGH/u7d/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts, err := unit.ParseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, unit.ErrUsage) {
			return 2
		}
		return 1
	}

	xglog.Configure(xglog.Config{Level: "info", Service: "u7d-session", Version: version.Version})
	logger := xglog.WithComponent("unit")

	cfg, err := config.NewLoader(config.ParseString(daemon.ConfigPathEnv, ""), version.Version).Load()
	if err != nil {
		logger.Error().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
		return 1
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "u7d-session", Version: version.Version})
	logger = xglog.WithComponent("unit")

	u := unit.Unit{
		CatchUp:  upstream.New(cfg.Upstream.MVTVURL),
		Programs: epgclient.New(cfg.EPGURL(), nil),
		Dial:     unit.DialRTSP(),
	}
	if opts.Write {
		conn, err := unit.InheritedSocket()
		if err != nil {
			logger.Error().Err(err).Msg("record mode needs the inherited socket")
			return 1
		}
		defer func() { _ = conn.Close() }()
		u.Conn = conn
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Debug().Str("args", opts.String()).Msg("unit starting")
	if err := u.Run(ctx, opts); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Str("args", opts.String()).Msg("unit failed")
		return 1
	}
	return 0
}
