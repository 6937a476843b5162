// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldTaskName  = "task"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"

	// EPG fields
	FieldChannelID = "channel_id"
	FieldProgramID = "program_id"
	FieldOffset    = "offset"
	FieldTitle     = "title"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"

	// Network fields
	FieldClientIP   = "client_ip"
	FieldClientPort = "client_port"
)
