// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cloud reconciles the EPG store with the cloud recordings catalog.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/ManuGH/u7d/internal/epg"
	"github.com/ManuGH/u7d/internal/fsutil"
	"github.com/ManuGH/u7d/internal/guide"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/metrics"
	"github.com/ManuGH/u7d/internal/upstream"
	"github.com/rs/zerolog"
)

// Catalog lists the cloud recordings.
type Catalog interface {
	CloudRecordings(ctx context.Context) ([]upstream.Recording, error)
}

// Files are the merger's persisted outputs.
type Files struct {
	Data     string
	Channels string
	Guide    string
}

// Merger folds the cloud catalog into the store. Forced merges only add;
// scheduled merges also remove recordings that left the catalog.
type Merger struct {
	catalog Catalog
	store   *epg.Store
	grabber guide.Runner
	files   Files

	mu      sync.Mutex
	current epg.Table
	logger  zerolog.Logger
}

func NewMerger(catalog Catalog, store *epg.Store, grabber guide.Runner, files Files) *Merger {
	return &Merger{
		catalog: catalog,
		store:   store,
		grabber: grabber,
		files:   files,
		logger:  log.WithComponent("cloud"),
	}
}

// Merge fetches the catalog and merges it. It reports whether the catalog
// differed from the last merged one.
func (m *Merger) Merge(ctx context.Context, forced bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode := "scheduled"
	if forced {
		mode = "forced"
	}

	m.loadPersisted()

	recs, err := m.catalog.CloudRecordings(ctx)
	if err != nil {
		metrics.CloudMergesTotal.WithLabelValues(mode, "error").Inc()
		return false, fmt.Errorf("fetch cloud recordings: %w", err)
	}
	if len(recs) == 0 {
		m.logger.Info().Msg("no cloud recordings found")
		metrics.CloudMergesTotal.WithLabelValues(mode, "empty").Inc()
		return false, nil
	}
	metrics.SetCloudRecordings(len(recs))

	next := m.build(recs)
	changed := !sameKeys(next, m.current)

	if changed || forced {
		m.apply(next, forced)
	}
	if changed {
		m.current = next
		if err := epg.SaveEvents(m.files.Data, next); err != nil {
			m.logger.Error().Err(err).Str(log.FieldPath, m.files.Data).Msg("cannot persist cloud recordings")
		} else {
			m.logger.Info().Str(log.FieldEvent, "cloud.merge").Int("recordings", len(recs)).Msg("updated cloud recordings data")
		}
	} else if forced {
		m.logger.Info().Msg("loaded cloud recordings data")
	}
	metrics.CloudMergesTotal.WithLabelValues(mode, strconv.FormatBool(changed)).Inc()

	if changed || !fsutil.Exists(m.files.Channels) || !fsutil.Exists(m.files.Guide) {
		m.regenerate(ctx)
	}
	return changed, nil
}

// Current returns the last merged cloud set.
func (m *Merger) Current() epg.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(epg.Table, len(m.current))
	for ch, byStart := range m.current {
		cp := make(map[string]epg.Event, len(byStart))
		for k, v := range byStart {
			cp[k] = v
		}
		out[ch] = cp
	}
	return out
}

func (m *Merger) loadPersisted() {
	table, err := epg.LoadEvents(m.files.Data)
	switch {
	case err == nil:
		m.current = table
	case errors.Is(err, os.ErrNotExist):
	default:
		m.logger.Warn().Err(err).Str(log.FieldPath, m.files.Data).Msg("removing corrupt cloud recordings data")
		_ = os.Remove(m.files.Data)
	}
}

// build keys the catalog by channel and start. Recordings already in the
// store keep the store's event.
func (m *Merger) build(recs []upstream.Recording) epg.Table {
	next := epg.Table{}
	for _, rec := range recs {
		ch := strconv.Itoa(rec.ServiceUID)
		start := rec.Start()
		key := strconv.FormatInt(start, 10)
		if next[ch] == nil {
			next[ch] = map[string]epg.Event{}
		}
		if _, ok := next[ch][key]; ok {
			continue
		}
		if ev, ok := m.store.Get(ch, start); ok {
			next[ch][key] = ev
			continue
		}
		m.logger.Warn().
			Str(log.FieldChannelID, ch).
			Int(log.FieldProgramID, rec.ProductID).
			Int64("start", start).
			Msg("cloud recording not found in EPG")
		next[ch][key] = epg.Event{
			ProgramID: rec.ProductID,
			End:       start + rec.Duration,
			FullTitle: rec.Name,
		}
	}
	return next
}

func (m *Merger) apply(next epg.Table, forced bool) {
	m.store.Update(func(tx *epg.Tx) {
		for ch, byStart := range next {
			for key, ev := range byStart {
				start, _ := strconv.ParseInt(key, 10, 64)
				if !tx.Has(ch, start) {
					tx.Put(ch, start, ev)
				}
			}
		}
		if forced {
			return
		}
		for ch, byStart := range m.current {
			for key := range byStart {
				if _, ok := next[ch][key]; ok {
					continue
				}
				start, _ := strconv.ParseInt(key, 10, 64)
				tx.Delete(ch, start)
			}
		}
	})
	nch, nev := m.store.Stats()
	metrics.SetEPGSize(nch, nev)
}

func (m *Merger) regenerate(ctx context.Context) {
	if m.grabber == nil {
		return
	}
	for _, args := range [][]string{
		{"--cloud_m3u", m.files.Channels},
		{"--cloud_recordings", m.files.Guide},
	} {
		if err := m.grabber.Run(ctx, args...); err != nil {
			m.logger.Error().Err(err).Strs("args", args).Msg("cloud guide generation failed")
		}
	}
}

func sameKeys(a, b epg.Table) bool {
	if len(a) != len(b) {
		return false
	}
	for ch, as := range a {
		bs, ok := b[ch]
		if !ok || len(as) != len(bs) {
			return false
		}
		for key := range as {
			if _, ok := bs[key]; !ok {
				return false
			}
		}
	}
	return true
}
