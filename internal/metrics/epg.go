// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	epgChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "u7d_epg_channels",
		Help: "Number of channels with events in the EPG store (last reload)",
	})

	epgEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "u7d_epg_events",
		Help: "Number of events in the EPG store (last reload)",
	})

	// EPGReloadsTotal counts snapshot reloads (ok|regenerated|failed).
	EPGReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_epg_reloads_total",
		Help: "Total number of EPG snapshot reloads, by result",
	}, []string{"result"})

	// GuideRefreshTotal counts grabber invocations (ok|failed).
	GuideRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_guide_refresh_total",
		Help: "Total number of guide grabber runs, by result",
	}, []string{"result"})

	// CloudMergesTotal counts cloud merges by mode (forced|scheduled) and outcome (true|false|empty|error).
	CloudMergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_cloud_merges_total",
		Help: "Total number of cloud recording merges, by mode and change",
	}, []string{"mode", "changed"})

	cloudRecordings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "u7d_cloud_recordings",
		Help: "Number of cloud recordings in the last catalog",
	})

	// TimerChecksTotal counts scheduler cycles (ok|capped|busy|failed).
	TimerChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_timer_checks_total",
		Help: "Total number of timer checks, by result",
	}, []string{"result"})

	// TaskRunsTotal counts background task runs by task name and result (ok|error|canceled|panic).
	TaskRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_task_runs_total",
		Help: "Total number of background task runs, by task and result",
	}, []string{"task", "result"})

	// TimerLaunchesTotal counts record requests issued by the scheduler (ok|rejected|error).
	TimerLaunchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "u7d_timer_launches_total",
		Help: "Total number of recordings launched by the timer scheduler, by result",
	}, []string{"result"})
)

// SetEPGSize records the store size after a reload.
func SetEPGSize(channels, events int) {
	epgChannels.Set(float64(channels))
	epgEvents.Set(float64(events))
}

// SetCloudRecordings records the size of the last cloud catalog.
func SetCloudRecordings(n int) {
	cloudRecordings.Set(float64(n))
}
