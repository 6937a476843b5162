// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the resolved configuration.
func Validate(cfg AppConfig) error {
	var errs []error

	if cfg.Home == "" {
		errs = append(errs, errors.New("home must not be empty"))
	}
	if err := validatePort("stream.port", cfg.Stream.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validatePort("epg.port", cfg.EPG.Port); err != nil {
		errs = append(errs, err)
	}
	if cfg.Record.Threads < 0 {
		errs = append(errs, fmt.Errorf("recording.threads must be >= 0, got %d", cfg.Record.Threads))
	}
	if cfg.Stream.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("stream.max_sessions must be >= 0, got %d", cfg.Stream.MaxSessions))
	}
	if cfg.Stream.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("stream.max_conns must be >= 0, got %d", cfg.Stream.MaxConns))
	}
	if cfg.Record.Dir != "" && !filepath.IsAbs(cfg.Record.Dir) {
		errs = append(errs, fmt.Errorf("recording.dir must be absolute, got %q", cfg.Record.Dir))
	}
	if cfg.Images.TTL < 0 {
		errs = append(errs, fmt.Errorf("images.ttl must be >= 0, got %d", cfg.Images.TTL))
	}
	for name, raw := range map[string]string{
		"udpxy":             cfg.UDPXY,
		"upstream.mvtv_url": cfg.Upstream.MVTVURL,
		"images.base":       cfg.Images.Base,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL, got %q", name, raw))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s out of range: %d", name, port)
	}
	return nil
}
