// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the unit exited before the start window elapsed.
	ErrUnavailable = errors.New("session: stream not available")
	// ErrCapacity means the configured session cap is reached.
	ErrCapacity = errors.New("session: capacity exhausted")
	// ErrTerminated is the cause used when a session is stopped from outside.
	ErrTerminated = errors.New("session: terminated")

	errUnitExited = errors.New("session: unit exited")
)

// UnavailableError names the unit invocation that died during startup.
type UnavailableError struct {
	Unit    string
	ExitErr error
}

func (e *UnavailableError) Error() string {
	if e.ExitErr != nil {
		return fmt.Sprintf("session: %s not available: %v", e.Unit, e.ExitErr)
	}
	return fmt.Sprintf("session: %s not available", e.Unit)
}

func (e *UnavailableError) Unwrap() error {
	return ErrUnavailable
}
