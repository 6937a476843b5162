// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command u7d is the stream service: it resolves catch-up URLs, runs the
// session units and relays their media to HTTP clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/u7d/internal/config"
	"github.com/ManuGH/u7d/internal/daemon"
	xglog "github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/version"
	flag "github.com/spf13/pflag"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", config.ParseString(daemon.ConfigPathEnv, ""), "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{Level: "info", Service: "u7d", Version: version.Version})
	logger := xglog.WithComponent("daemon")

	path := strings.TrimSpace(*configPath)
	cfg, err := config.NewLoader(path, version.Version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "u7d", Version: version.Version})

	logger.Info().
		Str("event", "startup").
		Str("addr", cfg.StreamAddr()).
		Str("epg", cfg.EPGURL()).
		Str("udpxy", cfg.UDPXY).
		Int("max_sessions", cfg.Stream.MaxSessions).
		Msg("starting stream service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.RunStream(ctx, cfg, path); err != nil {
		logger.Error().Err(err).Msg("stream service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("stream service stopped")
}
