// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHome            = "/home"
	DefaultHost            = "127.0.0.1"
	DefaultStreamPort      = 8888
	DefaultEPGPort         = 8889
	DefaultUDPXY           = "http://192.168.137.1:4022/rtp/"
	DefaultMVTVURL         = "http://www-60.svc.imagenio.telefonica.net:2001/appserver/mvtv.do"
	DefaultRecordThreads   = 4
	DefaultBandwidthSignal = "/tmp/.u7d_bw"
	DefaultGrabber         = "tv_grab_es_movistartv"
	DefaultSessionBin      = "u7d-session"
	DefaultImageBase       = "http://html5-static.svc.imagenio.telefonica.net/appclientv/nux/incoming/epg"
	DefaultImageTTL        = 86400
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader. An empty path skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load loads configuration with precedence: ENV > File > Defaults.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.Home); err == nil {
		cfg.Home = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		Home:     DefaultHome,
		LogLevel: "info",
		UDPXY:    DefaultUDPXY,
		Stream: StreamConfig{
			Host:       DefaultHost,
			Port:       DefaultStreamPort,
			SessionBin: DefaultSessionBin,
		},
		EPG: EPGConfig{
			Host:    DefaultHost,
			Port:    DefaultEPGPort,
			Grabber: DefaultGrabber,
		},
		Upstream: UpstreamConfig{MVTVURL: DefaultMVTVURL},
		Record: RecordingConfig{
			Threads:         DefaultRecordThreads,
			BandwidthSignal: DefaultBandwidthSignal,
		},
		Images: ImagesConfig{
			Base: DefaultImageBase,
			TTL:  DefaultImageTTL,
		},
	}
}

// loadFile decodes the YAML file over cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- operator supplied path
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	if v, ok := lookupString("U7D_HOME", "HOME"); ok {
		cfg.Home = v
	}
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.UDPXY = ParseString("U7D_UDPXY", cfg.UDPXY)

	cfg.Stream.Host = ParseString("U7D_HOST", cfg.Stream.Host)
	cfg.Stream.Port = ParseInt("U7D_PORT", cfg.Stream.Port)
	cfg.Stream.SessionBin = ParseString("U7D_SESSION_BIN", cfg.Stream.SessionBin)
	cfg.Stream.MaxSessions = ParseInt("U7D_MAX_SESSIONS", cfg.Stream.MaxSessions)
	cfg.Stream.MaxConns = ParseInt("U7D_MAX_CONNS", cfg.Stream.MaxConns)

	cfg.EPG.Host = ParseString("U7D_EPG_HOST", cfg.EPG.Host)
	cfg.EPG.Port = ParseInt("U7D_EPG_PORT", cfg.EPG.Port)
	cfg.EPG.Grabber = ParseString("U7D_GRABBER", cfg.EPG.Grabber)

	cfg.Upstream.MVTVURL = ParseString("U7D_MVTV_URL", cfg.Upstream.MVTVURL)

	cfg.Record.Dir = ParseString("U7D_RECORDINGS", cfg.Record.Dir)
	cfg.Record.Threads = ParseInt("U7D_RECORDING_THREADS", cfg.Record.Threads)
	cfg.Record.BandwidthSignal = ParseString("U7D_BW_SIGNAL", cfg.Record.BandwidthSignal)

	cfg.Images.Base = ParseString("U7D_IMAGE_BASE", cfg.Images.Base)
	cfg.Images.Redis = ParseString("U7D_IMAGE_REDIS", cfg.Images.Redis)
	cfg.Images.TTL = ParseInt("U7D_IMAGE_TTL", cfg.Images.TTL)
}
