// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/u7d/internal/playlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaylistItems(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "Rio Bravo.ts"))
	touch(t, filepath.Join(root, "Rio Bravo.jpg"))
	touch(t, filepath.Join(root, "Friends", "Friends 1x01.mkv"))
	touch(t, filepath.Join(root, "Friends", "Friends 1x01-cover.jpg"))
	touch(t, filepath.Join(root, "Friends", "Friends 1x02.tmp"))
	touch(t, filepath.Join(root, "notes.txt"))

	items, err := PlaylistItems(root, "http://127.0.0.1:8888/")
	require.NoError(t, err)

	assert.Equal(t, []playlist.Item{
		{
			Name:    "Friends 1x01",
			Group:   "Friends",
			TvgLogo: "http://127.0.0.1:8888/recording/?Friends/Friends%201x01-cover.jpg",
			URL:     "http://127.0.0.1:8888/recording/?Friends/Friends%201x01.mkv",
		},
		{
			Name:    "Rio Bravo",
			Group:   "#",
			TvgLogo: "http://127.0.0.1:8888/recording/?Rio%20Bravo.jpg",
			URL:     "http://127.0.0.1:8888/recording/?Rio%20Bravo.ts",
		},
	}, items)
}

func TestWritePlaylist(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "Film.mp4"))
	dst := filepath.Join(t.TempDir(), "recordings.m3u")

	n, err := WritePlaylist(dst, root, "http://h")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U name=\"Recordings\" dlna_extras=mpeg_ps_pal\n"+
		"#EXTINF:-1 tvg-id=\"\" group-title=\"#\",Film\n"+
		"http://h/recording/?Film.mp4\n", string(b))
}
