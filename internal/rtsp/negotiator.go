// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rtsp implements the head-end's catch-up handshake: a strict
// OPTIONS, DESCRIBE, SETUP (with one role-swapped SETUP retry), PLAY sequence
// over one TCP connection, a GET_PARAMETER keep-alive and a best-effort
// TEARDOWN.
package rtsp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/clock"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// UserAgent identifies us as a set-top box to the head-end.
	UserAgent = "MICA-IP-STB"

	DefaultKeepAlive = 30 * time.Second
	DefaultTimeout   = 60 * time.Second

	defaultPort = "554"

	// positionBody is the GET_PARAMETER payload used on the fallback path.
	positionBody = "position\r\n"
)

// Params describes the transport requested from the head-end.
type Params struct {
	ClientPort int
	Offset     int64
}

// Negotiator drives one upstream session. It is not safe for concurrent
// use except for Teardown, which may be called once negotiation has returned.
type Negotiator struct {
	conn *Conn

	url      string
	peer     string
	session  string
	fallback bool

	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	teardown    sync.Once
	teardownErr error
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithClock overrides the clock driving the keep-alive loop.
func WithClock(c clock.Clock) Option {
	return func(n *Negotiator) { n.clock = c }
}

// WithKeepAlive overrides the GET_PARAMETER interval.
func WithKeepAlive(d time.Duration) Option {
	return func(n *Negotiator) { n.interval = d }
}

// WithTimeout overrides the per-exchange socket timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Negotiator) { n.timeout = d }
}

// WithLogger sets the logger used for exchange traces.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Negotiator) { n.logger = l }
}

// Dial connects to the host named by rawURL and returns a Negotiator for it.
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Negotiator, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %w", ErrNegotiationFailed, err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: url %q has no host", ErrNegotiationFailed, rawURL)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %w", ErrNegotiationFailed, err)
	}
	return New(nc, rawURL, opts...), nil
}

// New returns a Negotiator speaking over an established connection.
func New(nc net.Conn, rawURL string, opts ...Option) *Negotiator {
	n := &Negotiator{
		url:      rawURL,
		clock:    clock.Real{},
		interval: DefaultKeepAlive,
		timeout:  DefaultTimeout,
		logger:   log.WithComponent("rtsp"),
	}
	for _, o := range opts {
		o(n)
	}
	n.conn = NewConn(nc, n.timeout)
	return n
}

// SessionID returns the upstream session id, empty until SETUP succeeds.
func (n *Negotiator) SessionID() string { return n.session }

// Fallback reports whether the role-swapped SETUP path was used.
func (n *Negotiator) Fallback() bool { return n.fallback }

// URL returns the URL currently used as request target.
func (n *Negotiator) URL() string { return n.url }

func (n *Negotiator) request(method, target string) *Request {
	return &Request{
		Method:  method,
		Target:  target,
		Headers: []Header{{Key: "User-Agent", Value: UserAgent}},
	}
}

func (n *Negotiator) sessionRequest(method string) *Request {
	req := n.request(method, n.url)
	req.Set("Session", n.session)
	return req
}

func (n *Negotiator) roundTrip(req *Request) (*Response, error) {
	res, err := n.conn.RoundTrip(req)
	if err != nil {
		n.logger.Debug().Err(err).Str("method", req.Method).Msg("rtsp exchange failed")
		return nil, err
	}
	n.logger.Debug().
		Str("method", req.Method).
		Str("target", req.Target).
		Str("status", res.Status()).
		Msg("rtsp exchange")
	return res, nil
}

// expect performs one handshake step; anything but 200 is a hard failure.
func (n *Negotiator) expect(req *Request) (*Response, error) {
	res, err := n.roundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if !res.OK() {
		return nil, &StatusError{Method: req.Method, Code: res.Code, Reason: res.Reason}
	}
	return res, nil
}

// Negotiate runs OPTIONS, DESCRIBE, SETUP (and at most one SETUP2) and PLAY.
func (n *Negotiator) Negotiate(ctx context.Context, p Params) (err error) {
	release := n.conn.interruptOn(ctx)
	defer release()
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrNegotiationFailed, ctx.Err())
		}
		n.observe(ctx, err)
	}()

	if _, err := n.expect(n.request("OPTIONS", "*")); err != nil {
		return err
	}

	describe := n.request("DESCRIBE", n.url)
	describe.Set("Accept", "application/sdp")
	res, err := n.expect(describe)
	if err != nil {
		return err
	}
	if peer := controlPeer(res.Body); peer != "" {
		n.peer = peer
	}

	transport := "MP2T/H2221/UDP;unicast;client_port=" + strconv.Itoa(p.ClientPort)
	setup := n.request("SETUP", n.url)
	setup.Set("Transport", transport)
	res, err = n.roundTrip(setup)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiationFailed, err)
	}
	if !res.OK() {
		if n.peer == "" {
			return &StatusError{Method: "SETUP", Code: res.Code, Reason: res.Reason}
		}
		n.logger.Info().
			Str(log.FieldEvent, "rtsp.setup2").
			Str("status", res.Status()).
			Msg("SETUP rejected, retrying with swapped peer")
		n.fallback = true
		n.url, n.peer = n.peer, n.url
		setup2 := n.request("SETUP", n.url)
		setup2.Set("Transport", transport)
		if res, err = n.expect(setup2); err != nil {
			return err
		}
	}

	id, _, _ := strings.Cut(res.Header.Get("Session"), ";")
	if id = strings.TrimSpace(id); id == "" {
		return fmt.Errorf("%w: SETUP response without Session", ErrNegotiationFailed)
	}
	n.session = id

	play := n.sessionRequest("PLAY")
	play.Set("Range", fmt.Sprintf("npt=%d-end", p.Offset))
	play.Set("Scale", "1.000")
	play.Set("x-playNow", "")
	play.Set("x-noFlush", "")
	if _, err := n.expect(play); err != nil {
		return err
	}

	n.logger.Info().
		Str(log.FieldEvent, "rtsp.playing").
		Bool("fallback", n.fallback).
		Int64(log.FieldOffset, p.Offset).
		Int(log.FieldClientPort, p.ClientPort).
		Msg("upstream session playing")
	return nil
}

func (n *Negotiator) observe(ctx context.Context, err error) {
	result := "ok"
	switch {
	case err == nil && n.fallback:
		result = "fallback_ok"
	case err == nil:
	case ctx.Err() != nil:
		result = "canceled"
	case errors.As(err, new(*StatusError)):
		result = "rejected"
	default:
		result = "failed"
	}
	metrics.RTSPNegotiationsTotal.WithLabelValues(result).Inc()
}

// KeepAlive sends GET_PARAMETER every interval until ctx is cancelled. It
// returns nil on cancellation and an error when the connection breaks.
// Non-200 keep-alive responses are logged and tolerated.
func (n *Negotiator) KeepAlive(ctx context.Context) error {
	release := n.conn.interruptOn(ctx)
	defer release()

	t := n.clock.NewTimer(n.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
		}

		req := n.sessionRequest("GET_PARAMETER")
		if n.fallback {
			req.Set("Content-Type", "text/parameters")
			req.Set("Content-Length", strconv.Itoa(len(positionBody)))
			req.Body = positionBody
		}
		res, err := n.roundTrip(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.RTSPKeepAlivesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("rtsp keep-alive: %w", err)
		}
		if !res.OK() {
			metrics.RTSPKeepAlivesTotal.WithLabelValues("rejected").Inc()
			n.logger.Warn().Str("status", res.Status()).Msg("keep-alive rejected")
		} else {
			metrics.RTSPKeepAlivesTotal.WithLabelValues("ok").Inc()
		}
		t.Reset(n.interval)
	}
}

// Teardown sends TEARDOWN once if a session was established. Failures are
// logged and returned, callers are free to ignore them.
func (n *Negotiator) Teardown() error {
	n.teardown.Do(func() {
		if n.session == "" {
			return
		}
		res, err := n.roundTrip(n.sessionRequest("TEARDOWN"))
		switch {
		case err != nil:
			n.teardownErr = err
		case !res.OK():
			n.teardownErr = &StatusError{Method: "TEARDOWN", Code: res.Code, Reason: res.Reason}
		}
		if n.teardownErr != nil {
			n.logger.Warn().Err(n.teardownErr).Msg("teardown failed")
			return
		}
		n.logger.Info().Str(log.FieldEvent, "rtsp.teardown").Msg("upstream session torn down")
	})
	return n.teardownErr
}

// Close releases the connection.
func (n *Negotiator) Close() error {
	return n.conn.Close()
}

// Run negotiates, keeps the session alive until ctx is done and tears it
// down exactly once whatever the outcome.
func (n *Negotiator) Run(ctx context.Context, p Params) error {
	defer func() { _ = n.Close() }()
	defer func() { _ = n.Teardown() }()

	if err := n.Negotiate(ctx, p); err != nil {
		return err
	}
	return n.KeepAlive(ctx)
}
