// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon composes the two long-running services and owns their
// lifecycle: HTTP servers with graceful shutdown and the supervised
// background tasks of the EPG service.
package daemon
