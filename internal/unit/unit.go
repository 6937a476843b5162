// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package unit is the isolated negotiation unit: it resolves the catch-up
// URL, negotiates the RTSP session, keeps it alive and, in record mode,
// writes the stream arriving on the inherited socket to disk.
package unit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ManuGH/u7d/internal/dvr"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/relay"
	"github.com/ManuGH/u7d/internal/rtsp"
	"github.com/rs/zerolog"
)

// SocketFD is the descriptor of the socket inherited in record mode.
const SocketFD = 3

const confirmTimeout = 10 * time.Second

// ErrNoData is returned when a recording received nothing.
var ErrNoData = errors.New("unit: no data recorded")

// CatchUp resolves the RTSP URL of a programme.
type CatchUp interface {
	CatchUpURL(ctx context.Context, channelID string, pid int) (string, error)
}

// Programs is the EPG service as seen by a recording.
type Programs interface {
	ProgramName(ctx context.Context, channelID string, programID int) (dvr.ProgramName, error)
	ConfirmRecording(ctx context.Context, channelID string, programID int) error
}

// Session is a negotiated upstream session.
type Session interface {
	Negotiate(ctx context.Context, p rtsp.Params) error
	KeepAlive(ctx context.Context) error
	Teardown() error
	Close() error
}

// Dialer opens the RTSP connection for url.
type Dialer func(ctx context.Context, url string) (Session, error)

// DialRTSP is the Dialer backed by rtsp.Dial.
func DialRTSP(opts ...rtsp.Option) Dialer {
	return func(ctx context.Context, url string) (Session, error) {
		n, err := rtsp.Dial(ctx, url, opts...)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
}

// Unit runs one session.
type Unit struct {
	CatchUp  CatchUp
	Programs Programs
	Dial     Dialer
	// Conn receives the media in record mode.
	Conn net.PacketConn
}

// InheritedSocket opens the record-mode socket passed as SocketFD.
func InheritedSocket() (net.PacketConn, error) {
	f := os.NewFile(SocketFD, "u7d-socket")
	if f == nil {
		return nil, fmt.Errorf("no inherited socket on fd %d", SocketFD)
	}
	defer func() { _ = f.Close() }()
	conn, err := net.FilePacketConn(f)
	if err != nil {
		return nil, fmt.Errorf("inherited socket: %w", err)
	}
	return conn, nil
}

// Run negotiates and holds the session until ctx is done or, in record
// mode, until the recording ends. TEARDOWN is always attempted once a
// session exists.
func (u *Unit) Run(ctx context.Context, o Options) error {
	logger := log.WithComponent("unit").With().
		Str(log.FieldChannelID, o.ChannelID).
		Int(log.FieldProgramID, o.ProgramID).
		Int64(log.FieldOffset, o.Offset).
		Int(log.FieldClientPort, o.Port).
		Logger()
	if o.ClientIP != "" {
		logger = logger.With().Str(log.FieldClientIP, o.ClientIP).Logger()
	}

	url, err := u.CatchUp.CatchUpURL(ctx, o.ChannelID, o.ProgramID)
	if err != nil {
		return fmt.Errorf("catch-up url: %w", err)
	}
	sess, err := u.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	defer func() { _ = sess.Teardown() }()

	if err := sess.Negotiate(ctx, rtsp.Params{ClientPort: o.Port, Offset: o.Offset}); err != nil {
		return err
	}
	logger.Info().Str(log.FieldEvent, "unit.playing").Bool("record", o.Write).Bool("vo", o.VO).Msg("session playing")

	if !o.Write {
		return sess.KeepAlive(ctx)
	}

	kaCtx, stop := context.WithCancel(ctx)
	kaDone := make(chan error, 1)
	go func() { kaDone <- sess.KeepAlive(kaCtx) }()

	err = u.record(ctx, o, logger)
	stop()
	if kaErr := <-kaDone; kaErr != nil {
		logger.Warn().Err(kaErr).Msg("keep-alive failed during recording")
	}
	return err
}

func (u *Unit) record(ctx context.Context, o Options, logger zerolog.Logger) error {
	if u.Conn == nil {
		return errors.New("record mode without a socket")
	}
	pn, err := u.Programs.ProgramName(ctx, o.ChannelID, o.ProgramID)
	if err != nil {
		return fmt.Errorf("program name: %w", err)
	}
	if err := os.MkdirAll(pn.Path, 0o755); err != nil {
		return err
	}
	tmp := pn.Filename + dvr.TmpExt
	f, err := os.Create(tmp) // #nosec G304 -- path built by the EPG service layout
	if err != nil {
		return err
	}
	logger = logger.With().Str(log.FieldTitle, pn.FullTitle).Str(log.FieldPath, tmp).Logger()
	logger.Info().Str(log.FieldEvent, "recording.start").Int64("duration", o.Time).Msg("recording")

	rctx := ctx
	if o.Time > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, time.Duration(o.Time)*time.Second)
		defer cancel()
	}
	st, relayErr := relay.Writer(rctx, u.Conn, f)
	if err := f.Close(); err != nil && relayErr == nil {
		relayErr = err
	}

	switch {
	case relayErr == nil, errors.Is(relayErr, context.DeadlineExceeded), errors.Is(relayErr, context.Canceled):
	default:
		_ = os.Remove(tmp)
		return fmt.Errorf("recording: %w", relayErr)
	}
	if st.Bytes == 0 {
		_ = os.Remove(tmp)
		return ErrNoData
	}

	final := pn.Filename + dvr.FinalExt
	if err := os.Rename(tmp, final); err != nil {
		return err
	}
	logger.Info().Str(log.FieldEvent, "recording.done").Int64("bytes", st.Bytes).Str("file", final).Msg("recording finished")

	// Interrupted recordings are confirmed too.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()
	if err := u.Programs.ConfirmRecording(cctx, o.ChannelID, o.ProgramID); err != nil {
		return fmt.Errorf("confirm recording: %w", err)
	}
	return nil
}
