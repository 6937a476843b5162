// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"errors"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ManuGH/u7d/internal/fsutil"
	"github.com/ManuGH/u7d/internal/playlist"
)

var mediaExts = map[string]bool{
	".avi": true, ".mkv": true, ".mp4": true, ".mpeg": true, ".mpg": true, ".ts": true,
}

var recordingsHeader = playlist.Header{
	{Key: "name", Value: "Recordings", Quoted: true},
	{Key: "dlna_extras", Value: "mpeg_ps_pal"},
}

// PlaylistItems lists the media files under root as playlist entries served
// from streamBase/recording/. Files in a sub-directory are grouped by it;
// top-level files go to group "#". A .jpg next to the file becomes its logo.
func PlaylistItems(root, streamBase string) ([]playlist.Item, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && mediaExts[strings.ToLower(filepath.Ext(p))] {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	base := strings.TrimRight(streamBase, "/") + "/recording/?"
	items := make([]playlist.Item, 0, len(files))
	for _, rel := range files {
		dir, file := path.Split(rel)
		group := strings.TrimSuffix(dir, "/")
		if group == "" {
			group = "#"
		}
		stem := strings.TrimSuffix(rel, path.Ext(rel))

		it := playlist.Item{
			Name:  strings.TrimSuffix(file, path.Ext(file)),
			Group: group,
			URL:   base + quotePath(rel),
		}
		if logo := findLogo(root, stem); logo != "" {
			it.TvgLogo = base + quotePath(logo)
		}
		items = append(items, it)
	}
	return items, nil
}

// findLogo returns stem.jpg or the first stem*.jpg, relative to root.
func findLogo(root, stem string) string {
	if fsutil.Exists(filepath.Join(root, filepath.FromSlash(stem)+".jpg")) {
		return stem + ".jpg"
	}
	matches, _ := filepath.Glob(filepath.Join(root, globEscape(filepath.FromSlash(stem))) + "*.jpg")
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			rel, err := filepath.Rel(root, m)
			if err == nil {
				return filepath.ToSlash(rel)
			}
		}
	}
	return ""
}

func quotePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func globEscape(s string) string {
	return strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`).Replace(s)
}

// WritePlaylist regenerates the recordings playlist at dst.
func WritePlaylist(dst, root, streamBase string) (int, error) {
	items, err := PlaylistItems(root, streamBase)
	if err != nil {
		return 0, err
	}
	err = fsutil.WriteAtomic(dst, func(w io.Writer) error {
		return playlist.WriteM3U(w, recordingsHeader, items)
	})
	return len(items), err
}
