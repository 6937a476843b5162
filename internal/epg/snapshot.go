// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package epg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/u7d/internal/fsutil"
)

// ErrCorruptSnapshot marks a snapshot file that exists but cannot be parsed.
var ErrCorruptSnapshot = errors.New("epg: corrupt snapshot")

type eventsFile struct {
	Data Table `json:"data"`
}

type metadataFile struct {
	Data struct {
		Channels map[string]Channel `json:"channels"`
	} `json:"data"`
}

// LoadEvents reads an event snapshot written by the guide grabber.
func LoadEvents(path string) (Table, error) {
	var f eventsFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	if f.Data == nil {
		return nil, fmt.Errorf("%w: %s has no data", ErrCorruptSnapshot, path)
	}
	return f.Data, nil
}

// LoadChannels reads the channel metadata snapshot.
func LoadChannels(path string) (map[string]Channel, error) {
	var f metadataFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	if f.Data.Channels == nil {
		return nil, fmt.Errorf("%w: %s has no channels", ErrCorruptSnapshot, path)
	}
	return f.Data.Channels, nil
}

// SaveEvents writes table in the same layout LoadEvents reads.
func SaveEvents(path string, table Table) error {
	return fsutil.WriteJSON(path, eventsFile{Data: table})
}

// SaveChannels writes channels in the same layout LoadChannels reads.
func SaveChannels(path string, channels map[string]Channel) error {
	var f metadataFile
	f.Data.Channels = channels
	return fsutil.WriteJSON(path, f)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCorruptSnapshot, path, err)
	}
	return nil
}
