// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ManuGH/u7d/internal/epg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	recs []ActiveRecording
	err  error
}

func (f fakeLister) Recordings(context.Context) ([]ActiveRecording, error) { return f.recs, f.err }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestCleanStale(t *testing.T) {
	root := t.TempDir()
	store := epg.NewStore()
	store.Replace(epg.Table{
		"1": {"1700000000": {ProgramID: 10, End: 1700003600, FullTitle: "Friends 1x01", Serie: "Friends", IsSerie: true}},
	}, nil)

	active := filepath.Join(root, "Friends", "Friends 1x01.tmp")
	stale := filepath.Join(root, "Film.tmp")
	staleNested := filepath.Join(root, "Friends", "Friends 1x00.tmp")
	done := filepath.Join(root, "Film.ts")
	for _, p := range []string{active, stale, staleNested, done} {
		touch(t, p)
	}

	lister := fakeLister{recs: []ActiveRecording{
		{ID: "a", ChannelID: "1", ProgramID: 10},
		{ID: "b", ChannelID: "1", ProgramID: 99},
	}}
	n, err := CleanStale(context.Background(), Layout{Root: root}, lister, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.FileExists(t, active)
	assert.FileExists(t, done)
	assert.NoFileExists(t, stale)
	assert.NoFileExists(t, staleNested)
}

func TestCleanStale_ListerErrorRemovesNothing(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "Film.tmp")
	touch(t, stale)

	_, err := CleanStale(context.Background(), Layout{Root: root}, fakeLister{err: errors.New("down")}, epg.NewStore())
	assert.Error(t, err)
	assert.FileExists(t, stale)
}

func TestCleanStale_MissingRoot(t *testing.T) {
	n, err := CleanStale(context.Background(), Layout{Root: filepath.Join(t.TempDir(), "nope")}, fakeLister{}, epg.NewStore())
	require.NoError(t, err)
	assert.Zero(t, n)
}
