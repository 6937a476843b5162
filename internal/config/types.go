// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net"
	"path/filepath"
	"strconv"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Home     string          `yaml:"home"`
	LogLevel string          `yaml:"log_level"`
	UDPXY    string          `yaml:"udpxy"`
	Stream   StreamConfig    `yaml:"stream"`
	EPG      EPGConfig       `yaml:"epg"`
	Upstream UpstreamConfig  `yaml:"upstream"`
	Record   RecordingConfig `yaml:"recording"`
	Images   ImagesConfig    `yaml:"images"`
}

// StreamConfig configures the stream service.
type StreamConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	SessionBin  string `yaml:"session_bin"`
	MaxSessions int    `yaml:"max_sessions"`
	MaxConns    int    `yaml:"max_conns"`
}

// EPGConfig configures the EPG service.
type EPGConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Grabber string `yaml:"grabber"`
}

// UpstreamConfig points at the head-end application server.
type UpstreamConfig struct {
	MVTVURL string `yaml:"mvtv_url"`
}

// RecordingConfig configures the timer scheduler. An empty Dir disables recording.
type RecordingConfig struct {
	Dir             string `yaml:"dir"`
	Threads         int    `yaml:"threads"`
	BandwidthSignal string `yaml:"bandwidth_signal"`
}

// ImagesConfig configures the logo and cover proxy.
type ImagesConfig struct {
	Base string `yaml:"base"`
	// Redis is the address of a shared image cache; empty keeps images in memory.
	Redis string `yaml:"redis"`
	// TTL is in seconds; 0 disables caching.
	TTL int `yaml:"ttl"`
}

// Enabled reports whether timer recordings are configured.
func (r RecordingConfig) Enabled() bool {
	return r.Dir != ""
}

// StreamAddr is the listen address of the stream service.
func (c AppConfig) StreamAddr() string {
	return net.JoinHostPort(c.Stream.Host, strconv.Itoa(c.Stream.Port))
}

// StreamURL is the base URL other processes use to reach the stream service.
func (c AppConfig) StreamURL() string {
	return "http://" + c.StreamAddr()
}

// EPGAddr is the listen address of the EPG service.
func (c AppConfig) EPGAddr() string {
	return net.JoinHostPort(c.EPG.Host, strconv.Itoa(c.EPG.Port))
}

// EPGURL is the base URL other processes use to reach the EPG service.
func (c AppConfig) EPGURL() string {
	return "http://" + c.EPGAddr()
}

// Paths lists every file the services read or write under Home.
type Paths struct {
	Guide         string
	Channels      string
	GuideCloud    string
	ChannelsCloud string
	RecordingsM3U string
	Recordings    string
	Timers        string
	EPGData       string
	EPGMetadata   string
	CloudData     string
}

// Paths derives the file layout from Home.
func (c AppConfig) Paths() Paths {
	cache := filepath.Join(c.Home, ".xmltv", "cache")
	return Paths{
		Guide:         filepath.Join(c.Home, "guide.xml"),
		Channels:      filepath.Join(c.Home, "MovistarTV.m3u"),
		GuideCloud:    filepath.Join(c.Home, "cloud.xml"),
		ChannelsCloud: filepath.Join(c.Home, "cloud.m3u"),
		RecordingsM3U: filepath.Join(c.Home, "recordings.m3u"),
		Recordings:    filepath.Join(c.Home, "recordings.json"),
		Timers:        filepath.Join(c.Home, "timers.json"),
		EPGData:       filepath.Join(cache, "epg.json"),
		EPGMetadata:   filepath.Join(cache, "epg_metadata.json"),
		CloudData:     filepath.Join(cache, "cloud.json"),
	}
}
