// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package epg

import (
	"fmt"
	"regexp"
	"strconv"
)

// urlPattern extracts a 10-digit start timestamp and an optional duration
// from the last path component of a stream URL, e.g. "video-1700001800-7200.ts".
var urlPattern = regexp.MustCompile(`^\w*-?(\d{10})-?(\d+){0,1}\.?\w*`)

// ParseURL returns the timestamp and duration encoded in url. ok is false
// when no timestamp is present; duration is 0 when absent.
func ParseURL(url string) (ts int64, duration int64, ok bool) {
	m := urlPattern.FindStringSubmatch(url)
	if m == nil {
		return 0, 0, false
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	if m[2] != "" {
		duration, _ = strconv.ParseInt(m[2], 10, 64)
	}
	return ts, duration, true
}

// Resolve maps a channel and request URL onto the programme airing at the
// requested time. An empty URL means now.
func (s *Store) Resolve(channelID, url string) (Resolved, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return Resolved{}, fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
	}
	sch, ok := s.events[channelID]
	if !ok || len(sch.starts) == 0 {
		return Resolved{}, fmt.Errorf("%w: no events for channel %s", ErrNotFound, channelID)
	}

	var ts, requested int64
	if url == "" {
		ts = s.now().Unix()
	} else if ts, requested, ok = ParseURL(url); !ok {
		return Resolved{}, fmt.Errorf("%w: unparseable url %q", ErrNotFound, url)
	}

	start, ok := sch.atOrBefore(ts)
	if !ok {
		return Resolved{}, fmt.Errorf("%w: no programme at %d on channel %s", ErrNotFound, ts, channelID)
	}
	ev := sch.events[start]

	duration := requested
	if duration <= 0 {
		duration = ev.Duration(start)
	}
	return Resolved{
		ChannelID: channelID,
		ProgramID: ev.ProgramID,
		Offset:    ts - start,
		Duration:  duration,
		Name:      ch.Name,
	}, nil
}

// EventByProgram finds the event with program id pid on channelID.
func (s *Store) EventByProgram(channelID string, pid int) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sch, ok := s.events[channelID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: channel %s", ErrNotFound, channelID)
	}
	for _, start := range sch.starts {
		if ev := sch.events[start]; ev.ProgramID == pid {
			return Entry{Start: start, Event: ev}, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: program %d on channel %s", ErrNotFound, pid, channelID)
}
