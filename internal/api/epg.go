// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ManuGH/u7d/internal/api/middleware"
	"github.com/ManuGH/u7d/internal/dvr"
	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reloader reloads the in-memory guide from disk.
type Reloader interface {
	Reload(ctx context.Context) error
}

// TimerQueue is the part of the timer scheduler the HTTP surface drives.
type TimerQueue interface {
	Busy() bool
	Queue()
}

// EPGDeps wires the EPG service handlers.
type EPGDeps struct {
	Store    *epg.Store
	Reloader Reloader
	// Timers is nil when recordings are disabled.
	Timers     TimerQueue
	Recordings *dvr.Recordings
	Layout     dvr.Layout
}

// EPGServer serves program resolution, channel metadata and recording
// bookkeeping.
type EPGServer struct {
	deps EPGDeps
}

func NewEPGServer(deps EPGDeps) *EPGServer {
	return &EPGServer{deps: deps}
}

// Routes returns the EPG service router.
func (s *EPGServer) Routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		Service:       "epg",
		EnableMetrics: true,
		EnableLogging: true,
	})

	r.Get("/program_id/{channel_id}/", s.handleProgramID)
	r.Get("/program_id/{channel_id}/{url}", s.handleProgramID)
	r.Get("/channels/", s.handleChannels)
	r.Get("/program_name/{channel_id}/{program_id}", s.handleProgramName)
	r.Put("/program_name/{channel_id}/{program_id}", s.handleRecorded)
	r.With(middleware.RefreshRateLimit()).Get("/reload_epg", s.handleReload)
	r.With(middleware.RefreshRateLimit()).Get("/timers_check", s.handleTimersCheck)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *EPGServer) handleProgramID(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "channel_id")
	raw := chi.URLParam(r, "url")
	if u, err := url.PathUnescape(raw); err == nil {
		raw = u
	}
	res, err := s.deps.Store.Resolve(ch, raw)
	if err != nil {
		writeStatus(w, http.StatusNotFound, fmt.Sprintf("Requested URL %s/%s not found", ch, raw))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *EPGServer) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Store.Channels())
}

func (s *EPGServer) handleReload(w http.ResponseWriter, r *http.Request) {
	// A departing client must not abort a reload other callers share.
	if err := s.deps.Reloader.Reload(context.WithoutCancel(r.Context())); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "epg.reload_failed").
			Msg("guide reload failed")
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeStatus(w, http.StatusOK, "EPG Updated")
}

// lookup resolves the {channel_id}/{program_id} path pair to an event.
func (s *EPGServer) lookup(r *http.Request) (string, int, epg.Entry, error) {
	ch := chi.URLParam(r, "channel_id")
	pid, err := strconv.Atoi(chi.URLParam(r, "program_id"))
	if err != nil {
		return ch, 0, epg.Entry{}, fmt.Errorf("%w: program id %q", epg.ErrNotFound, chi.URLParam(r, "program_id"))
	}
	entry, err := s.deps.Store.EventByProgram(ch, pid)
	return ch, pid, entry, err
}

func (s *EPGServer) handleProgramName(w http.ResponseWriter, r *http.Request) {
	_, _, entry, err := s.lookup(r)
	if err != nil {
		writeStatus(w, http.StatusNotFound, "NotFound")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Layout.NewProgramName(entry.Event))
}

func (s *EPGServer) handleRecorded(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recordings == nil {
		writeStatus(w, http.StatusNotFound, "Recordings disabled")
		return
	}
	ch, pid, entry, err := s.lookup(r)
	if err != nil {
		writeStatus(w, http.StatusNotFound, "NotFound")
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	if err := s.deps.Recordings.Confirm(ch, pid, entry.Event.FullTitle); err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "dvr.confirm_failed").
			Str(log.FieldChannelID, ch).
			Int(log.FieldProgramID, pid).
			Msg("cannot store recording")
		writeStatus(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info().
		Str(log.FieldEvent, "dvr.recorded").
		Str(log.FieldChannelID, ch).
		Int(log.FieldProgramID, pid).
		Str(log.FieldTitle, entry.Event.FullTitle).
		Msg("recording confirmed")
	if s.deps.Timers != nil {
		s.deps.Timers.Queue()
	}
	writeJSON(w, http.StatusOK, struct {
		Status    string `json:"status"`
		FullTitle string `json:"full_title"`
	}{Status: "Recorded OK", FullTitle: entry.Event.FullTitle})
}

func (s *EPGServer) handleTimersCheck(w http.ResponseWriter, _ *http.Request) {
	switch {
	case s.deps.Timers == nil:
		writeStatus(w, http.StatusNotFound, "Recordings disabled")
	case s.deps.Timers.Busy():
		writeStatus(w, http.StatusCreated, "Busy")
	default:
		s.deps.Timers.Queue()
		writeStatus(w, http.StatusOK, "Timers check queued")
	}
}
