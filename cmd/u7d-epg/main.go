// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command u7d-epg is the EPG service: it keeps the guide in memory,
// answers program lookups and schedules timer recordings.
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

	xglog.Configure(xglog.Config{Level: "info", Service: "u7d-epg", Version: version.Version})
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
	xglog.Configure(xglog.Config{Level: cfg.LogLevel, Service: "u7d-epg", Version: version.Version})

	logger.Info().
		Str("event", "startup").
		Str("addr", cfg.EPGAddr()).
		Str("home", cfg.Home).
		Str("recordings", cfg.Record.Dir).
		Int("threads", cfg.Record.Threads).
		Msg("starting EPG service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.RunEPG(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("EPG service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("EPG service stopped")
}
