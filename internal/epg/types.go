// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package epg

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when a channel, program or URL cannot be resolved.
var ErrNotFound = errors.New("epg: not found")

// Event is one programme airing on a channel. Its start timestamp is the key
// under which it is stored. JSON keys follow the guide grabber's cache format.
type Event struct {
	ProgramID int    `json:"pid"`
	End       int64  `json:"end"`
	FullTitle string `json:"full_title"`
	Serie     string `json:"serie,omitempty"`
	IsSerie   bool   `json:"is_serie"`
}

// Duration returns end minus start for an event stored under start.
func (e Event) Duration(start int64) int64 {
	return e.End - start
}

// Entry pairs an event with its start timestamp.
type Entry struct {
	Start int64
	Event Event
}

// Channel is the display metadata of one channel. Only Name is interpreted;
// the raw document is kept so /channels/ can return it unchanged.
type Channel struct {
	Name string
	raw  json.RawMessage
}

// NewChannel builds a channel that only carries a name.
func NewChannel(name string) Channel {
	return Channel{Name: name}
}

// UnmarshalJSON keeps the raw document and extracts the name.
func (c *Channel) UnmarshalJSON(b []byte) error {
	var probe struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	c.Name = probe.Name
	c.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON returns the document as loaded, or a minimal one.
func (c Channel) MarshalJSON() ([]byte, error) {
	if len(c.raw) > 0 {
		return c.raw, nil
	}
	return json.Marshal(struct {
		Name string `json:"name"`
	}{Name: c.Name})
}

// Resolved is a programme matched against a requested timestamp.
type Resolved struct {
	ChannelID string `json:"channel_id"`
	ProgramID int    `json:"program_id"`
	Offset    int64  `json:"offset"`
	Duration  int64  `json:"duration"`
	Name      string `json:"name"`
}

// Table is the serialisable event table: channel -> start (decimal string) -> event.
type Table map[string]map[string]Event
