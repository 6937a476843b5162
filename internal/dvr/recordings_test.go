// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ManuGH/u7d/internal/epg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordings_ConfirmAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordings.json")
	recs := NewRecordings(path)

	assert.Empty(t, recs.Load())

	require.NoError(t, recs.Confirm("1", 10, "Friends 1x01"))
	require.NoError(t, recs.Confirm("1", 11, "Friends 1x02"))
	require.NoError(t, recs.Confirm("2", 20, "News"))

	set := recs.Load()
	assert.True(t, set.Has("1", "10"))
	assert.False(t, set.Has("1", "20"))
	assert.True(t, set.HasTitle("1", "Friends 1x02"))
	assert.False(t, set.HasTitle("2", "Friends 1x02"))
	assert.Equal(t, Recorded{FullTitle: "News"}, set["2"]["20"])
}

func TestRecordings_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recordings.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	recs := NewRecordings(path)
	assert.Empty(t, recs.Load())

	require.NoError(t, recs.Confirm("1", 10, "A"))
	assert.True(t, recs.Load().Has("1", "10"))
}

func TestRecordings_ConcurrentConfirm(t *testing.T) {
	recs := NewRecordings(filepath.Join(t.TempDir(), "recordings.json"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			assert.NoError(t, recs.Confirm("1", pid, "T"))
		}(i)
	}
	wg.Wait()
	assert.Len(t, recs.Load()["1"], 16)
}

func TestLayout_Path(t *testing.T) {
	l := Layout{Root: "/rec"}

	dir, file := l.Path(epg.Event{FullTitle: "Friends: 1x01", Serie: "Friends", IsSerie: true})
	assert.Equal(t, "/rec/Friends", dir)
	assert.Equal(t, "/rec/Friends/Friends, 1x01", file)

	dir, file = l.Path(epg.Event{FullTitle: "Rio Bravo", Serie: "Cine"})
	assert.Equal(t, "/rec", dir)
	assert.Equal(t, "/rec/Rio Bravo", file)

	pn := l.NewProgramName(epg.Event{FullTitle: "Rio Bravo"})
	assert.Equal(t, ProgramName{Status: "OK", FullTitle: "Rio Bravo", Path: "/rec", Filename: "/rec/Rio Bravo"}, pn)
}

func TestInProgress(t *testing.T) {
	base := filepath.Join(t.TempDir(), "Film")
	assert.False(t, InProgress(base))

	require.NoError(t, os.WriteFile(base+TmpExt, nil, 0o644))
	assert.True(t, InProgress(base))

	require.NoError(t, os.Remove(base+TmpExt))
	require.NoError(t, os.WriteFile(base+FinalExt, nil, 0o644))
	assert.True(t, InProgress(base))
}
