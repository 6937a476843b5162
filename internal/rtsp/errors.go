// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rtsp

import (
	"errors"
	"fmt"
)

// ErrNegotiationFailed is returned when a handshake step fails.
var ErrNegotiationFailed = errors.New("rtsp: negotiation failed")

// StatusError is a non-success status line for one handshake step.
type StatusError struct {
	Method string
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rtsp: %s returned %d %s", e.Method, e.Code, e.Reason)
}

func (e *StatusError) Unwrap() error {
	return ErrNegotiationFailed
}
