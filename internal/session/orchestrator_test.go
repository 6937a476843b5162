// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/u7d/internal/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeUnit struct {
	done        chan struct{}
	once        sync.Once
	err         error
	interrupted atomic.Bool
}

func newFakeUnit() *fakeUnit {
	return &fakeUnit{done: make(chan struct{})}
}

func (u *fakeUnit) exit(err error) {
	u.once.Do(func() {
		u.err = err
		close(u.done)
	})
}

func (u *fakeUnit) Done() <-chan struct{} { return u.done }

func (u *fakeUnit) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}

func (u *fakeUnit) Interrupt() {
	u.interrupted.Store(true)
	u.exit(errors.New("signal: interrupt"))
}

type fakeLauncher struct {
	mu       sync.Mutex
	specs    []UnitSpec
	units    []*fakeUnit
	onLaunch func(spec UnitSpec, u *fakeUnit)
}

func (l *fakeLauncher) Launch(_ context.Context, spec UnitSpec) (Unit, error) {
	u := newFakeUnit()
	l.mu.Lock()
	l.specs = append(l.specs, spec)
	l.units = append(l.units, u)
	l.mu.Unlock()
	if l.onLaunch != nil {
		l.onLaunch(spec, u)
	}
	return u, nil
}

func (l *fakeLauncher) lastUnit() *fakeUnit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.units[len(l.units)-1]
}

func (l *fakeLauncher) lastSpec() UnitSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[len(l.specs)-1]
}

func newTestOrchestrator(l Launcher, opts ...Option) *Orchestrator {
	opts = append([]Option{
		WithStartWindow(20 * time.Millisecond),
		WithBindIP(net.IPv4(127, 0, 0, 1)),
	}, opts...)
	return NewOrchestrator(l, opts...)
}

// sendTo writes payloads to the session port, ending with a zero-length datagram.
func sendTo(t *testing.T, port int, payloads ...string) {
	t.Helper()
	c, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		t.Errorf("dial session port: %v", err)
		return
	}
	defer func() { _ = c.Close() }()
	for _, p := range payloads {
		if _, err := c.Write([]byte(p)); err != nil {
			t.Errorf("send: %v", err)
			return
		}
	}
}

func TestRecord_UnitExitsImmediately(t *testing.T) {
	l := &fakeLauncher{onLaunch: func(_ UnitSpec, u *fakeUnit) { u.exit(errors.New("exit status 1")) }}
	o := newTestOrchestrator(l)

	_, err := o.Record(context.Background(), Request{ChannelID: "1", ProgramID: 10, Record: &RecordSpec{Duration: 60}})
	require.ErrorIs(t, err, ErrUnavailable)

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Unit, "u7d-session 1 10 -s 0 -p ")
	assert.Equal(t, 0, o.Registry().Count(""))
}

func TestRecord_AcknowledgesWithoutStreaming(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	l := &fakeLauncher{}
	o := newTestOrchestrator(l)

	ack, err := o.Record(context.Background(), Request{
		ChannelID: "1",
		ProgramID: 10,
		Offset:    30,
		Record:    &RecordSpec{Duration: 120, VO: true},
	})
	require.NoError(t, err)
	assert.Equal(t, Ack{Status: "OK", ChannelID: "1", ProgramID: 10, Offset: 30, Time: "120"}, ack)

	spec := l.lastSpec()
	assert.NotNil(t, spec.Socket, "record units inherit the session socket")
	args := spec.Args()
	assert.Equal(t, []string{"-t", "120", "-w", "--vo"}, args[len(args)-4:])

	require.Equal(t, 1, o.Registry().Count(ModeRecord))
	assert.Equal(t, "active", o.Registry().List(ModeRecord)[0].State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
	assert.True(t, l.lastUnit().interrupted.Load())
	assert.Equal(t, 0, o.Registry().Count(""))
}

func TestRecord_UnregistersWhenUnitFinishes(t *testing.T) {
	l := &fakeLauncher{}
	o := newTestOrchestrator(l)

	_, err := o.Record(context.Background(), Request{ChannelID: "1", ProgramID: 10})
	require.NoError(t, err)
	require.Equal(t, 1, o.Registry().Count(ModeRecord))

	l.lastUnit().exit(nil)
	require.Eventually(t, func() bool { return o.Registry().Count("") == 0 }, time.Second, 5*time.Millisecond)
}

func TestCapacity(t *testing.T) {
	l := &fakeLauncher{}
	o := newTestOrchestrator(l, WithMaxSessions(1))

	_, err := o.Record(context.Background(), Request{ChannelID: "1", ProgramID: 10})
	require.NoError(t, err)

	_, err = o.Record(context.Background(), Request{ChannelID: "2", ProgramID: 20})
	assert.ErrorIs(t, err, ErrCapacity)

	l.lastUnit().exit(nil)
}

func TestLive_RelaysUntilEndOfStream(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var wg sync.WaitGroup
	l := &fakeLauncher{onLaunch: func(spec UnitSpec, _ *fakeUnit) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendTo(t, spec.Port, "chunk-1", "chunk-2", "")
		}()
	}}
	o := newTestOrchestrator(l)

	rec := httptest.NewRecorder()
	st, err := o.Live(context.Background(), Request{ChannelID: "1", ProgramID: 10, ClientIP: "10.0.0.9"}, rec)
	wg.Wait()

	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Datagrams)
	assert.Equal(t, "chunk-1chunk-2", rec.Body.String())
	assert.Equal(t, "video/MP2T", rec.Header().Get("Content-Type"))
	assert.True(t, l.lastUnit().interrupted.Load(), "unit must be interrupted after end-of-stream")
	assert.Equal(t, 0, o.Registry().Count(""))

	args := l.lastSpec().Args()
	assert.Equal(t, []string{"-i", "10.0.0.9"}, args[len(args)-2:])
}

func TestLive_ClientGoneInterruptsUnit(t *testing.T) {
	l := &fakeLauncher{}
	o := newTestOrchestrator(l)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := o.Live(ctx, Request{ChannelID: "1", ProgramID: 10}, httptest.NewRecorder())
		errc <- err
	}()

	require.Eventually(t, func() bool { return o.Registry().Count(ModeLive) == 1 && o.Registry().List(ModeLive)[0].State() == "active" }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, relay.ErrClientGone)
	case <-time.After(2 * time.Second):
		t.Fatal("live session did not end on client disconnect")
	}
	assert.True(t, l.lastUnit().interrupted.Load())
}

func TestLive_UnitExitIsStreamError(t *testing.T) {
	l := &fakeLauncher{}
	o := newTestOrchestrator(l)

	errc := make(chan error, 1)
	rec := httptest.NewRecorder()
	go func() {
		st, err := o.Live(context.Background(), Request{ChannelID: "1", ProgramID: 10}, rec)
		assert.False(t, st.Started())
		errc <- err
	}()

	require.Eventually(t, func() bool { return o.Registry().Count(ModeLive) == 1 && o.Registry().List(ModeLive)[0].State() == "active" }, time.Second, 5*time.Millisecond)
	l.lastUnit().exit(errors.New("exit status 1"))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, relay.ErrStream)
	case <-time.After(2 * time.Second):
		t.Fatal("live session did not end on unit exit")
	}
}

func TestUnitSpecArgs(t *testing.T) {
	spec := UnitSpec{ChannelID: "5", ProgramID: 77, Offset: 12, Port: 40000}
	assert.Equal(t, []string{"5", "77", "-s", "12", "-p", "40000"}, spec.Args())

	spec.Record = &RecordSpec{}
	assert.Equal(t, "-w", spec.Args()[len(spec.Args())-1])
	assert.Equal(t, "u7d-session 5 77 -s 12 -p "+strconv.Itoa(40000)+" -w", spec.String())
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", ClientIP("10.0.0.1:5555"))
	assert.Equal(t, "10.0.0.1", ClientIP("[::ffff:10.0.0.1]:5555"))
	assert.Equal(t, "bogus", ClientIP("bogus"))
}
