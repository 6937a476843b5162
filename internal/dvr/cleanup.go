// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/log"
)

// ProgramLookup finds the event of a running recording.
type ProgramLookup interface {
	EventByProgram(channelID string, pid int) (epg.Entry, error)
}

// Lister lists running record sessions.
type Lister interface {
	Recordings(ctx context.Context) ([]ActiveRecording, error)
}

// CleanStale removes *.tmp files under the layout root that no running
// record session is writing. If the sessions cannot be listed nothing is
// removed.
func CleanStale(ctx context.Context, layout Layout, lister Lister, lookup ProgramLookup) (int, error) {
	logger := log.WithComponent("dvr.cleanup")

	active, err := lister.Recordings(ctx)
	if err != nil {
		return 0, err
	}
	keep := make(map[string]struct{}, len(active))
	for _, rec := range active {
		entry, err := lookup.EventByProgram(rec.ChannelID, rec.ProgramID)
		if err != nil {
			continue
		}
		_, file := layout.Path(entry.Event)
		keep[file+TmpExt] = struct{}{}
	}

	removed := 0
	err = filepath.WalkDir(layout.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), TmpExt) {
			return nil
		}
		if _, ok := keep[path]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Msg("cannot remove stale temporary recording")
			return nil
		}
		removed++
		logger.Info().Str(log.FieldEvent, "recordings.stale_removed").Str(log.FieldPath, path).Msg("removed stale temporary recording")
		return nil
	})
	return removed, err
}
