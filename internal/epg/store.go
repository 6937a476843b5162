// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package epg

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/log"
	"github.com/rs/zerolog"
)

// schedule is one channel's events with its start timestamps kept sorted.
type schedule struct {
	starts []int64
	events map[int64]Event
}

func newSchedule() *schedule {
	return &schedule{events: make(map[int64]Event)}
}

func (s *schedule) put(start int64, ev Event) {
	if _, ok := s.events[start]; !ok {
		i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= start })
		s.starts = append(s.starts, 0)
		copy(s.starts[i+1:], s.starts[i:])
		s.starts[i] = start
	}
	s.events[start] = ev
}

func (s *schedule) remove(start int64) bool {
	if _, ok := s.events[start]; !ok {
		return false
	}
	delete(s.events, start)
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] >= start })
	s.starts = append(s.starts[:i], s.starts[i+1:]...)
	return true
}

// atOrBefore returns the latest start <= ts.
func (s *schedule) atOrBefore(ts int64) (int64, bool) {
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > ts })
	if i == 0 {
		return 0, false
	}
	return s.starts[i-1], true
}

// Store is the single source of truth for EPG data.
type Store struct {
	mu       sync.RWMutex
	channels map[string]Channel
	events   map[string]*schedule

	now    func() time.Time
	logger zerolog.Logger
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		channels: make(map[string]Channel),
		events:   make(map[string]*schedule),
		now:      time.Now,
		logger:   log.WithComponent("epg.store"),
	}
}

// SetClock overrides the clock used when a request carries no timestamp.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Replace swaps the whole event table and channel metadata.
func (s *Store) Replace(table Table, channels map[string]Channel) {
	s.Update(func(tx *Tx) {
		tx.Replace(table, channels)
	})
}

// Update runs fn under the write lock. fn must not block on I/O.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Tx{s: s})
}

// Tx is the write view handed to Update callbacks.
type Tx struct {
	s *Store
}

// Replace swaps the table and channels inside the transaction.
func (tx *Tx) Replace(table Table, channels map[string]Channel) {
	events := make(map[string]*schedule, len(table))
	for channelID, byStart := range table {
		sch := newSchedule()
		for key, ev := range byStart {
			start, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				tx.s.logger.Warn().
					Str(log.FieldChannelID, channelID).
					Str("start", key).
					Msg("skipping event with non-numeric start")
				continue
			}
			sch.put(start, ev)
		}
		events[channelID] = sch
	}
	chans := make(map[string]Channel, len(channels))
	for id, ch := range channels {
		chans[id] = ch
	}
	tx.s.events = events
	tx.s.channels = chans
}

// Has reports whether an event starts exactly at start on channelID.
func (tx *Tx) Has(channelID string, start int64) bool {
	sch, ok := tx.s.events[channelID]
	if !ok {
		return false
	}
	_, ok = sch.events[start]
	return ok
}

// Get returns the event at start on channelID.
func (tx *Tx) Get(channelID string, start int64) (Event, bool) {
	sch, ok := tx.s.events[channelID]
	if !ok {
		return Event{}, false
	}
	ev, ok := sch.events[start]
	return ev, ok
}

// Put inserts or replaces an event, creating the channel schedule if needed.
func (tx *Tx) Put(channelID string, start int64, ev Event) {
	sch, ok := tx.s.events[channelID]
	if !ok {
		sch = newSchedule()
		tx.s.events[channelID] = sch
	}
	sch.put(start, ev)
}

// Delete removes an event. It reports whether something was removed.
func (tx *Tx) Delete(channelID string, start int64) bool {
	sch, ok := tx.s.events[channelID]
	if !ok {
		return false
	}
	return sch.remove(start)
}

// Get returns the event at start on channelID.
func (s *Store) Get(channelID string, start int64) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (&Tx{s: s}).Get(channelID, start)
}

// Channels returns a copy of the channel metadata.
func (s *Store) Channels() map[string]Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Channel, len(s.channels))
	for id, ch := range s.channels {
		out[id] = ch
	}
	return out
}

// Events returns channelID's events in ascending start order.
func (s *Store) Events(channelID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.events[channelID]
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(sch.starts))
	for _, start := range sch.starts {
		out = append(out, Entry{Start: start, Event: sch.events[start]})
	}
	return out
}

// HasChannel reports whether channelID has an event schedule.
func (s *Store) HasChannel(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[channelID]
	return ok
}

// Snapshot returns a serialisable copy of the event table.
func (s *Store) Snapshot() Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Table, len(s.events))
	for channelID, sch := range s.events {
		byStart := make(map[string]Event, len(sch.events))
		for start, ev := range sch.events {
			byStart[strconv.FormatInt(start, 10)] = ev
		}
		out[channelID] = byStart
	}
	return out
}

// Stats returns the number of channels with events and the total event count.
func (s *Store) Stats() (channels, events int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sch := range s.events {
		events += len(sch.starts)
	}
	return len(s.events), events
}
