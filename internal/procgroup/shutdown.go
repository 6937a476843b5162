// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/u7d/internal/metrics"
)

// Interrupt sends SIGINT to the group and records the outcome.
func Interrupt(cmd *exec.Cmd) error {
	return signal(cmd, syscall.SIGINT, "SIGINT")
}

func signal(cmd *exec.Cmd, sig syscall.Signal, name string) error {
	err := Kill(cmd, sig)
	switch {
	case err == nil:
		metrics.ProcSignalsTotal.WithLabelValues(name, "sent").Inc()
	case errors.Is(err, syscall.ESRCH):
		metrics.ProcSignalsTotal.WithLabelValues(name, "esrch").Inc()
	default:
		metrics.ProcSignalsTotal.WithLabelValues(name, "error").Inc()
	}
	return err
}

// Terminate stops a process group: SIGINT, then SIGKILL if the process has
// not exited within grace. waitCh must deliver the result of cmd.Wait; it is
// always drained and its value returned. Safe on nil or unstarted commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if !Running(cmd) {
		return nil
	}

	_ = Interrupt(cmd)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		observeExit(false, err)
		return err
	case <-timer.C:
		_ = signal(cmd, syscall.SIGKILL, "SIGKILL")
		err := <-waitCh
		observeExit(true, err)
		return err
	}
}

func observeExit(forced bool, err error) {
	result := "exit0"
	if err != nil {
		result = "exit_nonzero"
	}
	if forced {
		result = "forced_" + result
	}
	metrics.ProcExitsTotal.WithLabelValues(result).Inc()
}
