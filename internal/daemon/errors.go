// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrMissingHandler is returned when a server is configured without a handler
	ErrMissingHandler = errors.New("HTTP handler is required")

	// ErrManagerNotStarted is returned when trying to shutdown a manager that hasn't started
	ErrManagerNotStarted = errors.New("manager not started")

	// ErrInvalidTask is returned for a task without a Run function
	ErrInvalidTask = errors.New("task has no run function")

	// ErrDuplicateTask is returned when a task name is already running
	ErrDuplicateTask = errors.New("task already running")

	// ErrTasksStopped is returned when a task is started after Stop
	ErrTasksStopped = errors.New("tasks stopped")
)
