// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session runs stream sessions: it binds the UDP port a session will
// receive on, launches the isolated negotiation unit for it, and either
// relays the media to an HTTP client (live) or leaves a background unit
// writing to disk (record).
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/metrics"
	"github.com/ManuGH/u7d/internal/relay"
	"github.com/rs/zerolog"
)

// DefaultStartWindow is how long a freshly launched unit must survive
// before the stream is considered available.
const DefaultStartWindow = 300 * time.Millisecond

// Request is a resolved programme plus the caller's identity.
type Request struct {
	ChannelID string
	ProgramID int
	Offset    int64
	ClientIP  string
	UserAgent string

	// Record switches to record mode when set.
	Record *RecordSpec
}

// Ack is the JSON acknowledgement of a record request.
type Ack struct {
	Status    string `json:"status"`
	ChannelID string `json:"channel_id"`
	ProgramID int    `json:"program_id"`
	Offset    int64  `json:"offset"`
	Time      string `json:"time"`
}

// Orchestrator owns the session lifecycle.
type Orchestrator struct {
	launcher    Launcher
	registry    *Registry
	maxSessions int
	startWindow time.Duration
	bindIP      net.IP
	logger      zerolog.Logger

	admitMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxSessions caps concurrent sessions; 0 means unlimited.
func WithMaxSessions(n int) Option {
	return func(o *Orchestrator) { o.maxSessions = n }
}

// WithStartWindow overrides DefaultStartWindow.
func WithStartWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.startWindow = d }
}

// WithBindIP sets the address session sockets are bound to.
func WithBindIP(ip net.IP) Option {
	return func(o *Orchestrator) { o.bindIP = ip }
}

// WithRegistry shares an existing registry.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

func NewOrchestrator(l Launcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launcher:    l,
		startWindow: DefaultStartWindow,
		logger:      log.WithComponent("session"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	return o
}

// Registry exposes the session registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

func (o *Orchestrator) admit(req Request, mode Mode) (*Session, error) {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()
	if o.maxSessions > 0 && o.registry.Count("") >= o.maxSessions {
		return nil, ErrCapacity
	}
	return o.registry.Register(&Session{
		Mode:      mode,
		ChannelID: req.ChannelID,
		ProgramID: req.ProgramID,
		Offset:    req.Offset,
		ClientIP:  req.ClientIP,
		UserAgent: req.UserAgent,
	}), nil
}

// start admits, binds and launches, then waits out the start window. In
// record mode the returned conn is nil: the socket now belongs to the unit.
func (o *Orchestrator) start(ctx context.Context, req Request, mode Mode) (*Session, Unit, *net.UDPConn, error) {
	sess, err := o.admit(req, mode)
	if err != nil {
		return nil, nil, nil, err
	}
	fail := func(err error) (*Session, Unit, *net.UDPConn, error) {
		o.registry.Unregister(sess.ID)
		metrics.SessionsTotal.WithLabelValues(string(mode), "failed").Inc()
		return nil, nil, nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: o.bindIP})
	if err != nil {
		return fail(fmt.Errorf("bind session socket: %w", err))
	}
	spec := UnitSpec{
		ChannelID: req.ChannelID,
		ProgramID: req.ProgramID,
		Offset:    req.Offset,
		Port:      conn.LocalAddr().(*net.UDPAddr).Port,
		ClientIP:  req.ClientIP,
		Record:    req.Record,
	}

	var sock *os.File
	if mode == ModeRecord {
		if sock, err = conn.File(); err != nil {
			_ = conn.Close()
			return fail(fmt.Errorf("share session socket: %w", err))
		}
		spec.Socket = sock
	}

	logger := o.logger.With().
		Str(log.FieldSessionID, sess.ID).
		Str(log.FieldChannelID, req.ChannelID).
		Int(log.FieldProgramID, req.ProgramID).
		Logger()

	unit, err := o.launcher.Launch(ctx, spec)
	if sock != nil {
		_ = sock.Close()
	}
	if mode == ModeRecord || err != nil {
		_ = conn.Close()
		conn = nil
	}
	if err != nil {
		return fail(err)
	}

	timer := time.NewTimer(o.startWindow)
	defer timer.Stop()
	select {
	case <-unit.Done():
		if conn != nil {
			_ = conn.Close()
		}
		logger.Info().Str(log.FieldEvent, "session.unavailable").Msg("NOT AVAILABLE: " + spec.String())
		return fail(&UnavailableError{Unit: spec.String(), ExitErr: unit.Err()})
	case <-ctx.Done():
		unit.Interrupt()
		if conn != nil {
			_ = conn.Close()
		}
		return fail(ctx.Err())
	case <-timer.C:
	}

	sess.setState("active")
	metrics.SessionStarted(string(mode))
	if mode == ModeRecord {
		logger.Info().Str(log.FieldEvent, "session.record").Msg("Recording: " + spec.String())
	} else {
		logger.Info().Str(log.FieldEvent, "session.start").Msg("Starting: " + spec.String())
	}
	return sess, unit, conn, nil
}

// Record launches a record-mode unit and returns immediately. The unit is
// tracked until it exits on its own.
func (o *Orchestrator) Record(ctx context.Context, req Request) (Ack, error) {
	if req.Record == nil {
		req.Record = &RecordSpec{}
	}
	sess, unit, _, err := o.start(ctx, req, ModeRecord)
	if err != nil {
		return Ack{}, err
	}
	sess.setStop(func() { go unit.Interrupt() })

	go func() {
		<-unit.Done()
		o.registry.Unregister(sess.ID)
		outcome := "done"
		if unit.Err() != nil {
			outcome = "unit_error"
		}
		metrics.SessionEnded(string(ModeRecord), outcome)
		o.logger.Info().
			Str(log.FieldEvent, "session.record_end").
			Str(log.FieldSessionID, sess.ID).
			AnErr("exit", unit.Err()).
			Msg("recording unit exited")
	}()

	return Ack{
		Status:    "OK",
		ChannelID: req.ChannelID,
		ProgramID: req.ProgramID,
		Offset:    req.Offset,
		Time:      strconv.FormatInt(req.Record.Duration, 10),
	}, nil
}

// Live relays the session into w until end-of-stream, client disconnect
// (ctx), unit exit or an I/O error. The unit is interrupted on every path.
// The returned Stats tell whether any media reached w.
func (o *Orchestrator) Live(ctx context.Context, req Request, w http.ResponseWriter) (relay.Stats, error) {
	sess, unit, conn, err := o.start(ctx, req, ModeLive)
	if err != nil {
		return relay.Stats{}, err
	}

	relayCtx, cancel := context.WithCancelCause(ctx)
	sess.setStop(func() { cancel(ErrTerminated) })
	go func() {
		select {
		case <-unit.Done():
			cancel(errUnitExited)
		case <-relayCtx.Done():
		}
	}()

	w.Header().Set("Content-Type", "video/MP2T")
	st, err := relay.HTTP(relayCtx, conn, &sessionWriter{ResponseWriter: w, sess: sess})
	cancel(nil)
	_ = conn.Close()
	unit.Interrupt()
	o.registry.Unregister(sess.ID)

	outcome := "eos"
	switch {
	case err == nil:
	case errors.Is(err, errUnitExited):
		outcome = "unit_exit"
		err = fmt.Errorf("%w: %w", relay.ErrStream, err)
	case errors.Is(err, ErrTerminated):
		outcome = "terminated"
	case errors.Is(err, relay.ErrClientGone), ctx.Err() != nil:
		outcome = "client_gone"
		if !errors.Is(err, relay.ErrClientGone) {
			err = fmt.Errorf("%w: %w", relay.ErrClientGone, err)
		}
	default:
		outcome = "stream_error"
	}
	metrics.SessionEnded(string(ModeLive), outcome)
	o.logger.Info().
		Str(log.FieldEvent, "session.end").
		Str(log.FieldSessionID, sess.ID).
		Str("outcome", outcome).
		Int64("bytes", st.Bytes).
		Msg("stream loop ended")
	return st, err
}

// Shutdown stops every session and waits until all have unregistered.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, s := range o.registry.List("") {
		s.Stop()
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for o.registry.Count("") > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("session shutdown: %d sessions left: %w", o.registry.Count(""), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// sessionWriter counts delivered bytes on the session.
type sessionWriter struct {
	http.ResponseWriter
	sess *Session
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.sess.AddBytes(n)
	return n, err
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
