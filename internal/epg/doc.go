// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package epg holds the in-memory Electronic Program Guide.
//
// The Store owns the event table (channel -> start timestamp -> event) and the
// channel metadata. Every read and write goes through a single RWMutex, so a
// reader never observes a half-replaced table. Writers that need several steps
// to be atomic (reload followed by the initial cloud merge) use Store.Update.
package epg
