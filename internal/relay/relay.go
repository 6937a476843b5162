// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay forwards the MPEG-TS datagrams of an upstream session.
//
// Each datagram is one forwarding unit: it is written (and flushed) on its
// own, never merged with or split across others. A zero-length datagram is the
// end-of-stream marker.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/u7d/internal/metrics"
)

// MaxDatagram is the largest UDP payload accepted.
const MaxDatagram = 65536

var (
	// ErrStream is a receive failure on the session socket.
	ErrStream = errors.New("relay: stream error")
	// ErrClientGone is a write failure towards the consumer.
	ErrClientGone = errors.New("relay: client gone")
)

// Stats describes what was forwarded.
type Stats struct {
	Datagrams int64
	Bytes     int64
}

// Started reports whether anything reached the sink.
func (s Stats) Started() bool { return s.Datagrams > 0 }

// Sink receives each datagram payload.
type Sink func(p []byte) error

// Forward reads from conn and hands every datagram to sink until a
// zero-length datagram (nil error), ctx cancellation (context.Cause),
// a receive error (ErrStream) or a sink error (ErrClientGone).
func Forward(ctx context.Context, conn net.PacketConn, sink Sink) (Stats, error) {
	var st Stats

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, MaxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				observeEnd(ctx, nil)
				return st, context.Cause(ctx)
			}
			err = fmt.Errorf("%w: %w", ErrStream, err)
			observeEnd(ctx, err)
			return st, err
		}
		if n == 0 {
			observeEnd(ctx, nil)
			return st, nil
		}
		if err := sink(buf[:n]); err != nil {
			err = fmt.Errorf("%w: %w", ErrClientGone, err)
			observeEnd(ctx, err)
			return st, err
		}
		st.Datagrams++
		st.Bytes += int64(n)
		metrics.AddRelayed(n)
	}
}

func observeEnd(ctx context.Context, err error) {
	reason := "eos"
	switch {
	case errors.Is(err, ErrStream):
		reason = "stream_error"
	case errors.Is(err, ErrClientGone):
		reason = "client_gone"
	case ctx.Err() != nil:
		reason = "canceled"
	}
	metrics.RelayEndsTotal.WithLabelValues(reason).Inc()
}

// HTTP relays conn into an HTTP response. The status line is committed with
// the first datagram, so a failure before any media leaves w untouched and
// the caller can still answer with an error status.
func HTTP(ctx context.Context, conn net.PacketConn, w http.ResponseWriter) (Stats, error) {
	rc := http.NewResponseController(w)
	return Forward(ctx, conn, func(p []byte) error {
		if _, err := w.Write(p); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})
}

// Writer relays conn into dst, one Write per datagram.
func Writer(ctx context.Context, conn net.PacketConn, dst io.Writer) (Stats, error) {
	return Forward(ctx, conn, func(p []byte) error {
		_, err := dst.Write(p)
		return err
	})
}
