// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns child processes in their own process group and
// signals the whole group, so helpers forked by a child go down with it.
package procgroup

import (
	"errors"
	"os/exec"
)

var ErrKillFailed = errors.New("kill operation failed")

// Running reports whether cmd was started.
func Running(cmd *exec.Cmd) bool {
	return cmd != nil && cmd.Process != nil
}
