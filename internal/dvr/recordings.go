// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/fsutil"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/rs/zerolog"
)

// TmpExt marks a recording still being written.
const TmpExt = ".tmp"

// FinalExt is the extension of a finished recording.
const FinalExt = ".ts"

// Recorded is one entry of recordings.json.
type Recorded struct {
	FullTitle string `json:"full_title"`
}

// RecordingSet is recordings.json: channel -> program id -> entry.
type RecordingSet map[string]map[string]Recorded

// Has reports whether key (a program id or timestamp) is recorded on channelID.
func (s RecordingSet) Has(channelID, key string) bool {
	_, ok := s[channelID][key]
	return ok
}

// HasTitle reports whether title was already recorded on channelID.
func (s RecordingSet) HasTitle(channelID, title string) bool {
	for _, r := range s[channelID] {
		if r.FullTitle == title {
			return true
		}
	}
	return false
}

// Recordings guards recordings.json. Its lock is distinct from the EPG lock.
type Recordings struct {
	mu     sync.Mutex
	path   string
	logger zerolog.Logger
}

func NewRecordings(path string) *Recordings {
	return &Recordings{path: path, logger: log.WithComponent("dvr.recordings")}
}

// Load returns the recorded set. A missing or unreadable file is an empty set.
func (r *Recordings) Load() RecordingSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *Recordings) load() RecordingSet {
	set := RecordingSet{}
	b, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn().Err(err).Str(log.FieldPath, r.path).Msg("cannot read recordings")
		}
		return set
	}
	if err := json.Unmarshal(b, &set); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldPath, r.path).Msg("ignoring corrupt recordings")
		return RecordingSet{}
	}
	return set
}

// Confirm stores a finished recording of programID on channelID.
func (r *Recordings) Confirm(channelID string, programID int, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.load()
	if set[channelID] == nil {
		set[channelID] = map[string]Recorded{}
	}
	set[channelID][strconv.Itoa(programID)] = Recorded{FullTitle: title}
	if err := fsutil.WriteJSON(r.path, set); err != nil {
		return fmt.Errorf("write recordings: %w", err)
	}
	return nil
}

// Layout maps events to recording paths under Root.
type Layout struct {
	Root string
}

// Path returns the directory and the extension-less file path for ev:
// series go to Root/<serie>/<title>, everything else to Root/<title>.
func (l Layout) Path(ev epg.Event) (dir, file string) {
	dir = l.Root
	if ev.IsSerie && ev.Serie != "" {
		dir = filepath.Join(l.Root, fsutil.SafeFilename(ev.Serie))
	}
	return dir, filepath.Join(dir, fsutil.SafeFilename(ev.FullTitle))
}

// InProgress reports whether a recording for file is running or done.
func InProgress(file string) bool {
	return fsutil.Exists(file+TmpExt) || fsutil.Exists(file+FinalExt)
}

// ProgramName is the GET /program_name reply.
type ProgramName struct {
	Status    string `json:"status"`
	FullTitle string `json:"full_title"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
}

// NewProgramName describes where ev is recorded.
func (l Layout) NewProgramName(ev epg.Event) ProgramName {
	dir, file := l.Path(ev)
	return ProgramName{Status: "OK", FullTitle: ev.FullTitle, Path: dir, Filename: file}
}
