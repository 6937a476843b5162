// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus collectors for the relay and the EPG service.
// Labels stay low-cardinality: no channel, program or session ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RTSPNegotiationsTotal counts negotiation outcomes (ok|fallback_ok|failed|rejected|canceled).
	RTSPNegotiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_rtsp_negotiations_total",
		Help: "Total number of RTSP negotiations, by result.",
	}, []string{"result"})

	// RTSPKeepAlivesTotal counts GET_PARAMETER round trips (ok|rejected|error).
	RTSPKeepAlivesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_rtsp_keepalives_total",
		Help: "Total number of RTSP keep-alive requests, by result.",
	}, []string{"result"})

	// SessionsActive tracks sessions currently held by the orchestrator.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "u7d_sessions_active",
		Help: "Current number of stream sessions, by mode.",
	}, []string{"mode"})

	// SessionsTotal counts finished session attempts by mode and outcome.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_sessions_total",
		Help: "Total number of stream sessions, by mode and outcome.",
	}, []string{"mode", "outcome"})

	relayBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "u7d_relay_bytes_total",
		Help: "Total number of media bytes forwarded to clients.",
	})

	relayDatagramsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "u7d_relay_datagrams_total",
		Help: "Total number of UDP datagrams forwarded to clients.",
	})

	// RelayEndsTotal counts relay terminations (eos|client_gone|stream_error|unit_exit|canceled).
	RelayEndsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_relay_ends_total",
		Help: "Total number of relay terminations, by reason.",
	}, []string{"reason"})
)

// AddRelayed records one forwarded datagram of n bytes.
func AddRelayed(n int) {
	relayDatagramsTotal.Inc()
	relayBytesTotal.Add(float64(n))
}

// SessionStarted bumps the active gauge for mode.
func SessionStarted(mode string) {
	SessionsActive.WithLabelValues(mode).Inc()
}

// SessionEnded drops the active gauge for mode and counts the outcome.
func SessionEnded(mode, outcome string) {
	SessionsActive.WithLabelValues(mode).Dec()
	SessionsTotal.WithLabelValues(mode, outcome).Inc()
}

var (
	// ProcSignalsTotal counts process-group signals by signal and result (sent|esrch|error).
	ProcSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_proc_signals_total",
		Help: "Total number of signals sent to child process groups.",
	}, []string{"signal", "result"})

	// ProcExitsTotal counts reaped children by exit category.
	ProcExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_proc_exits_total",
		Help: "Total number of child process exits observed during termination.",
	}, []string{"result"})
)

// ImageCacheTotal counts image proxy cache lookups by backend (memory|redis) and result (hit|miss).
var ImageCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "u7d_image_cache_total",
	Help: "Total number of image cache lookups, by backend and result.",
}, []string{"backend", "result"})
