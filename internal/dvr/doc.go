// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package dvr schedules recordings from timer rules matched against the EPG,
// keeps the record of finished recordings and maintains the local recordings
// playlist.
package dvr
