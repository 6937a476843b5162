// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/u7d/internal/api/middleware"
	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/relay"
	"github.com/ManuGH/u7d/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolver is the EPG service as seen by the stream service.
type Resolver interface {
	Resolve(ctx context.Context, channelID, rawURL string) (epg.Resolved, error)
	Reload(ctx context.Context) error
}

// Streamer runs stream sessions.
type Streamer interface {
	Live(ctx context.Context, req session.Request, w http.ResponseWriter) (relay.Stats, error)
	Record(ctx context.Context, req session.Request) (session.Ack, error)
	Registry() *session.Registry
}

// StartLimiter bounds session starts per client and mode.
type StartLimiter interface {
	Allow(client, mode string) bool
}

// StreamFiles are the generated files the stream service publishes.
type StreamFiles struct {
	Channels      string
	Guide         string
	ChannelsCloud string
	GuideCloud    string
	RecordingsM3U string
	// RecordingsDir is empty when recordings are disabled.
	RecordingsDir string
}

// StreamDeps wires the stream service handlers.
type StreamDeps struct {
	Resolver Resolver
	Sessions Streamer
	// UDPXY is the prefix multicast URLs are redirected to.
	UDPXY  string
	Files  StreamFiles
	Images *ImageProxy
	// Starts is optional; nil admits every session start.
	Starts StartLimiter
}

// StreamServer serves catch-up streams and the files around them.
type StreamServer struct {
	deps StreamDeps
}

func NewStreamServer(deps StreamDeps) *StreamServer {
	if deps.Images == nil {
		deps.Images = NewImageProxy("", nil)
	}
	return &StreamServer{deps: deps}
}

// Routes returns the stream service router.
func (s *StreamServer) Routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		Service:       "stream",
		EnableMetrics: true,
		EnableLogging: true,
	})

	r.Get("/rtp/{channel_id}/{url}", s.handleRTP)
	r.Get("/sessions", s.handleSessions)
	r.Delete("/sessions/{id}", s.handleTerminate)

	r.Get("/channels.m3u", s.file(s.deps.Files.Channels, "audio/x-mpegurl"))
	r.Get("/MovistarTV.m3u", s.file(s.deps.Files.Channels, "audio/x-mpegurl"))
	r.Get("/cloud.m3u", s.file(s.deps.Files.ChannelsCloud, "audio/x-mpegurl"))
	r.Get("/cloud.xml", s.file(s.deps.Files.GuideCloud, "application/xml"))
	r.Get("/recordings.m3u", s.file(s.deps.Files.RecordingsM3U, "audio/x-mpegurl"))
	r.Get("/guide.xml", s.handleGuide)
	r.Get("/recording/", s.handleRecording)

	r.Get("/Logos/{logo}", s.deps.Images.Logo)
	r.Get("/Covers/{path}/{cover}", s.deps.Images.Cover)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *StreamServer) handleRTP(w http.ResponseWriter, r *http.Request) {
	ch := chi.URLParam(r, "channel_id")
	u := chi.URLParam(r, "url")

	switch {
	case strings.HasPrefix(u, "239."):
		target := s.deps.UDPXY + u
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Info().
			Str(log.FieldEvent, "stream.redirect").
			Str(log.FieldURL, target).
			Msg("multicast redirect")
		http.Redirect(w, r, target, http.StatusFound)
	case strings.HasPrefix(u, "video-"):
		s.serveCatchUp(w, r, ch, u)
	default:
		writeStatus(w, http.StatusNotFound, "URL not understood")
	}
}

func (s *StreamServer) serveCatchUp(w http.ResponseWriter, r *http.Request, ch, u string) {
	ctx := r.Context()
	logger := log.WithComponentFromContext(ctx, "api")

	res, err := s.deps.Resolver.Resolve(ctx, ch, u)
	if err != nil {
		if errors.Is(err, epg.ErrNotFound) {
			writeStatus(w, http.StatusNotFound, fmt.Sprintf("%s not found", u))
			return
		}
		logger.Error().Err(err).
			Str(log.FieldEvent, "stream.resolve_failed").
			Str(log.FieldChannelID, ch).
			Str(log.FieldURL, u).
			Msg("epg service lookup failed")
		writeStatus(w, http.StatusBadGateway, fmt.Sprintf("%s/%s not resolved", ch, u))
		return
	}

	req := session.Request{
		ChannelID: res.ChannelID,
		ProgramID: res.ProgramID,
		Offset:    res.Offset,
		ClientIP:  session.ClientIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
	}

	q := r.URL.Query()
	mode := session.ModeLive
	if q.Has("record") {
		mode = session.ModeRecord
	}
	if s.deps.Starts != nil && !s.deps.Starts.Allow(req.ClientIP, string(mode)) {
		writeStatus(w, http.StatusTooManyRequests, "Too many session starts")
		return
	}

	if mode == session.ModeRecord {
		dur, _ := strconv.ParseInt(q.Get("record"), 10, 64)
		if dur < 0 {
			dur = 0
		}
		req.Record = &session.RecordSpec{Duration: dur, VO: q.Get("vo") == "1"}
		ack, err := s.deps.Sessions.Record(ctx, req)
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
		return
	}

	st, err := s.deps.Sessions.Live(ctx, req, w)
	switch {
	case err == nil, errors.Is(err, relay.ErrClientGone), errors.Is(err, session.ErrTerminated):
	case errors.Is(err, session.ErrUnavailable), errors.Is(err, session.ErrCapacity):
		s.writeSessionError(w, err)
	default:
		logger.Error().Err(err).
			Str(log.FieldEvent, "stream.loop_failed").
			Str(log.FieldChannelID, req.ChannelID).
			Int(log.FieldProgramID, req.ProgramID).
			Int64("bytes", st.Bytes).
			Msg("stream loop failed")
		if !st.Started() {
			writeStatus(w, http.StatusInternalServerError, fmt.Sprintf("Stream loop excepted: %v", err))
		}
	}
}

func (s *StreamServer) writeSessionError(w http.ResponseWriter, err error) {
	var ue *session.UnavailableError
	switch {
	case errors.As(err, &ue):
		writeStatus(w, http.StatusNotFound, "NOT AVAILABLE: "+ue.Unit)
	case errors.Is(err, session.ErrUnavailable):
		writeStatus(w, http.StatusNotFound, "NOT AVAILABLE")
	case errors.Is(err, session.ErrCapacity):
		writeStatus(w, http.StatusServiceUnavailable, "Too many sessions")
	default:
		writeStatus(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *StreamServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	list := s.deps.Sessions.Registry().List(session.Mode(r.URL.Query().Get("mode")))
	if list == nil {
		list = []*session.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *StreamServer) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Sessions.Registry().Terminate(chi.URLParam(r, "id")) {
		writeStatus(w, http.StatusNotFound, "NotFound")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *StreamServer) file(p, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p == "" {
			writeJSON(w, http.StatusNotFound, struct{}{})
			return
		}
		serveFile(w, r, p, contentType)
	}
}

func (s *StreamServer) handleGuide(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Resolver.Reload(r.Context()); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "epg.reload_failed").
			Msg("serving guide without reload")
	}
	serveFile(w, r, s.deps.Files.Guide, "application/xml")
}

// handleRecording serves /recording/?<path>, with path relative to the
// recordings root. The root is never left.
func (s *StreamServer) handleRecording(w http.ResponseWriter, r *http.Request) {
	root := s.deps.Files.RecordingsDir
	rel, err := url.PathUnescape(r.URL.RawQuery)
	if root == "" || err != nil || rel == "" {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	full := filepath.Join(root, filepath.FromSlash(path.Clean("/"+rel)))
	st, err := os.Stat(full)
	if err != nil || !st.Mode().IsRegular() {
		writeJSON(w, http.StatusNotFound, struct{}{})
		return
	}
	contentType := ""
	if strings.EqualFold(filepath.Ext(full), ".ts") {
		contentType = "video/MP2T"
	}
	serveFile(w, r, full, contentType)
}
