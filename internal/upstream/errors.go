// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is the sentinel behind every ResultError.
	ErrRejected    = errors.New("upstream: request rejected")
	ErrBadResponse = errors.New("upstream: invalid response format")
)

// ResultError is a non-zero resultCode or a non-200 HTTP status.
type ResultError struct {
	Operation string
	Status    int
	Code      int
	Text      string
}

func (e *ResultError) Error() string {
	msg := fmt.Sprintf("upstream: %s rejected", e.Operation)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (resultCode %d)", msg, e.Code)
	}
	if e.Text != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Text)
	}
	return msg
}

func (e *ResultError) Unwrap() error {
	return ErrRejected
}
