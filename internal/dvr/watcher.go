// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/u7d/internal/log"
	"github.com/fsnotify/fsnotify"
)

// WatchTimers queues a check whenever the timers file is created, written
// or renamed into place. It blocks until ctx is done.
func (s *Scheduler) WatchTimers(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Editors replace the file, so watch the directory instead.
	dir := filepath.Dir(s.cfg.TimersPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	target := filepath.Base(s.cfg.TimersPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher channel closed")
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug().Str(log.FieldEvent, "timers.changed").Str(log.FieldPath, event.Name).Msg("timers file changed")
			s.Queue()
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher error channel closed")
			}
			s.logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}
