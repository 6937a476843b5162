// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/u7d/internal/clock/clocktest"
	"github.com/ManuGH/u7d/internal/epg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// now is far enough after the fixture events for all of them to be older than MinAge.
var now = time.Unix(1700100000, 0)

type fakeRecorder struct {
	mu    sync.Mutex
	reqs  []RecordRequest
	errFn func(n int, req RecordRequest) error
}

func (f *fakeRecorder) Record(_ context.Context, req RecordRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.errFn != nil {
		return f.errFn(len(f.reqs), req)
	}
	return nil
}

func (f *fakeRecorder) requests() []RecordRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordRequest(nil), f.reqs...)
}

type fakeCounter struct {
	n   int
	err error
}

func (f fakeCounter) ActiveRecordings(context.Context) (int, error) { return f.n, f.err }

type fixture struct {
	dir      string
	store    *epg.Store
	recs     *Recordings
	recorder *fakeRecorder
	cfg      Config
}

func newFixture(t *testing.T, match map[string][]string) *fixture {
	t.Helper()
	dir := t.TempDir()

	timers := Timers{Match: match}
	timers.Language.Default = "ES"
	b, err := json.Marshal(timers)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "timers.json"), b, 0o644))

	store := epg.NewStore()
	store.Replace(epg.Table{
		"1": {
			"1700000000": {ProgramID: 10, End: 1700003600, FullTitle: "Friends 1x01", Serie: "Friends", IsSerie: true},
			"1700003600": {ProgramID: 11, End: 1700007200, FullTitle: "Friends 1x02", Serie: "Friends", IsSerie: true},
			"1700007200": {ProgramID: 12, End: 1700010800, FullTitle: "Friends 1x02", Serie: "Friends", IsSerie: true},
			"1700090000": {ProgramID: 13, End: 1700093600, FullTitle: "Friends 1x03", Serie: "Friends", IsSerie: true},
			"1700010800": {ProgramID: 14, End: 1700014400, FullTitle: "News"},
		},
		"2": {
			"1700000000": {ProgramID: 20, End: 1700001000, FullTitle: "Doctor Who"},
		},
	}, map[string]epg.Channel{"1": epg.NewChannel("Uno"), "2": epg.NewChannel("Dos")})

	return &fixture{
		dir:      dir,
		store:    store,
		recs:     NewRecordings(filepath.Join(dir, "recordings.json")),
		recorder: &fakeRecorder{},
		cfg: Config{
			TimersPath:      filepath.Join(dir, "timers.json"),
			BandwidthSignal: filepath.Join(dir, ".bw"),
		},
	}
}

func (f *fixture) scheduler(counter Counter) *Scheduler {
	return NewScheduler(f.cfg, f.store, f.recs, Layout{Root: f.dir}, f.recorder, counter, WithClock(clocktest.New(now)))
}

func starts(reqs []RecordRequest) []int64 {
	out := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Start)
	}
	return out
}

func TestCheck_NewestFirstDedupedAndAged(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends"}, "2": {"Doctor ## VO"}, "9": {"x"}})
	s := f.scheduler(fakeCounter{})

	res, err := s.Check(context.Background())
	require.NoError(t, err)

	// 1x03 is too recent; the older 1x02 airing is a duplicate title.
	reqs := f.recorder.requests()
	assert.Equal(t, []int64{1700007200, 1700000000, 1700000000}, starts(reqs))
	assert.Equal(t, RecordRequest{ChannelID: "1", Start: 1700007200, Duration: 3600}, reqs[0])
	assert.Equal(t, RecordRequest{ChannelID: "2", Start: 1700000000, Duration: 1000, VO: true}, reqs[2])
	assert.Equal(t, Result{Active: 3, Launched: 3}, res)
}

func TestCheck_CapStopsCycle(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends", "News"}})
	f.cfg.Threads = 2
	s := f.scheduler(fakeCounter{n: 1})

	res, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.recorder.requests(), 1)
	assert.True(t, res.Capped)
	assert.Equal(t, 2, res.Active)
}

func TestCheck_AlreadyAtCap(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends"}})
	f.cfg.Threads = 2
	s := f.scheduler(fakeCounter{n: 2})

	res, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assert.Empty(t, f.recorder.requests())
}

func TestCheck_BandwidthSignalLiftsCap(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends"}})
	f.cfg.Threads = 1
	require.NoError(t, os.WriteFile(f.cfg.BandwidthSignal, nil, 0o644))
	s := f.scheduler(fakeCounter{n: 5})

	assert.Equal(t, 0, s.Threads())
	res, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Launched)
}

func TestCheck_CapacityRejectionStops(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends", "News"}})
	f.recorder.errFn = func(int, RecordRequest) error { return ErrCapacity }
	s := f.scheduler(fakeCounter{})

	res, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Capped)
	assert.Len(t, f.recorder.requests(), 1)
	assert.Zero(t, res.Launched)
}

func TestCheck_OtherErrorsContinue(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends"}})
	f.recorder.errFn = func(n int, _ RecordRequest) error {
		if n == 1 {
			return errors.New("boom")
		}
		return nil
	}
	s := f.scheduler(fakeCounter{})

	res, err := s.Check(context.Background())
	require.NoError(t, err)
	// The failed title is not marked as added, so its older airing is tried.
	assert.Equal(t, []int64{1700007200, 1700003600, 1700000000}, starts(f.recorder.requests()))
	assert.Equal(t, 2, res.Launched)
}

func TestCheck_SkipsRecordedAndInProgress(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends", "News"}})
	require.NoError(t, f.recs.Confirm("1", 12, "Friends 1x02"))
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "Friends"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "Friends", "Friends 1x01"+TmpExt), nil, 0o644))
	s := f.scheduler(fakeCounter{})

	_, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1700010800}, starts(f.recorder.requests()))
}

func TestCheck_SkipsRecordedTimestampKey(t *testing.T) {
	f := newFixture(t, map[string][]string{"2": {"Doctor"}})
	require.NoError(t, f.recs.Confirm("2", 1700000000, "something else"))
	s := f.scheduler(fakeCounter{})

	_, err := s.Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.recorder.requests())
}

func TestCheck_Errors(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends"}})

	s := f.scheduler(fakeCounter{err: errors.New("down")})
	_, err := s.Check(context.Background())
	assert.Error(t, err)

	f.cfg.TimersPath = filepath.Join(f.dir, "missing.json")
	s = f.scheduler(fakeCounter{})
	_, err = s.Check(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCheck_Busy(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"Friends"}})
	s := f.scheduler(fakeCounter{})

	s.mu.Lock()
	_, err := s.Check(context.Background())
	s.mu.Unlock()
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, f.recorder.requests())
}

func TestCheck_LaunchPauseUsesClock(t *testing.T) {
	f := newFixture(t, map[string][]string{"1": {"News"}, "2": {"Doctor"}})
	f.cfg.LaunchPause = DefaultLaunchPause
	clk := clocktest.New(now)
	s := NewScheduler(f.cfg, f.store, f.recs, Layout{Root: f.dir}, f.recorder, fakeCounter{}, WithClock(clk))

	done := make(chan Result, 1)
	go func() {
		res, err := s.Check(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	for i := 0; i < 2; i++ {
		select {
		case tm := <-clk.Timers():
			assert.Equal(t, DefaultLaunchPause, tm.Duration())
			assert.True(t, s.Busy())
			tm.Fire()
		case <-time.After(2 * time.Second):
			t.Fatal("expected a launch pause")
		}
	}
	select {
	case res := <-done:
		assert.Equal(t, 2, res.Launched)
	case <-time.After(2 * time.Second):
		t.Fatal("check did not finish")
	}
	assert.False(t, s.Busy())
}

func TestCheck_WaitsOutBootGrace(t *testing.T) {
	f := newFixture(t, map[string][]string{"2": {"Doctor"}})
	f.cfg.BootGrace = DefaultBootGrace
	clk := clocktest.New(now)
	uptime := func() (time.Duration, error) { return time.Minute, nil }
	s := NewScheduler(f.cfg, f.store, f.recs, Layout{Root: f.dir}, f.recorder, fakeCounter{}, WithClock(clk), WithUptime(uptime))

	done := make(chan Result, 1)
	go func() {
		res, err := s.Check(context.Background())
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case tm := <-clk.Timers():
		assert.Equal(t, DefaultBootGrace-time.Minute, tm.Duration())
		assert.Empty(t, f.recorder.requests(), "nothing launches during the grace")
		tm.Fire()
	case <-time.After(2 * time.Second):
		t.Fatal("expected a boot grace wait")
	}
	select {
	case res := <-done:
		assert.Equal(t, 1, res.Launched)
	case <-time.After(2 * time.Second):
		t.Fatal("check did not finish")
	}
}

func TestCheck_BootGraceSkipped(t *testing.T) {
	tests := []struct {
		name   string
		uptime func() (time.Duration, error)
	}{
		{"settled host", func() (time.Duration, error) { return time.Hour, nil }},
		{"unreadable uptime", func() (time.Duration, error) { return 0, errors.New("no procfs") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string][]string{"2": {"Doctor"}})
			f.cfg.BootGrace = DefaultBootGrace
			s := NewScheduler(f.cfg, f.store, f.recs, Layout{Root: f.dir}, f.recorder, fakeCounter{}, WithClock(clocktest.New(now)), WithUptime(tt.uptime))

			res, err := s.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, res.Launched)
		})
	}
}

func TestCheck_BootGraceHonoursCancel(t *testing.T) {
	f := newFixture(t, map[string][]string{"2": {"Doctor"}})
	f.cfg.BootGrace = DefaultBootGrace
	s := NewScheduler(f.cfg, f.store, f.recs, Layout{Root: f.dir}, f.recorder, fakeCounter{},
		WithClock(clocktest.New(now)), WithUptime(func() (time.Duration, error) { return 0, nil }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Check(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.recorder.requests())
}

func TestQueue_Coalesces(t *testing.T) {
	f := newFixture(t, nil)
	s := f.scheduler(fakeCounter{})

	s.Queue()
	s.Queue()
	<-s.Triggers()
	select {
	case <-s.Triggers():
		t.Fatal("queued requests should coalesce")
	default:
	}
}
