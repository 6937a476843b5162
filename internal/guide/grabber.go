// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package guide

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ManuGH/u7d/internal/log"
	"github.com/ManuGH/u7d/internal/procgroup"
)

const defaultGrace = 10 * time.Second

// Runner runs the external guide grabber with args.
type Runner interface {
	Run(ctx context.Context, args ...string) error
}

// Grabber runs the grabber binary in its own process group. Cancelling
// the context interrupts the whole group.
type Grabber struct {
	Bin    string
	Grace  time.Duration
	Stdout io.Writer
	Stderr io.Writer
}

func (g *Grabber) Run(ctx context.Context, args ...string) error {
	cmd := exec.Command(g.Bin, args...)
	procgroup.Set(cmd)
	cmd.Stdout = g.Stdout
	cmd.Stderr = g.Stderr

	logger := log.WithComponent("guide.grabber")
	logger.Debug().Str("cmd", g.Bin+" "+strings.Join(args, " ")).Msg("starting grabber")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", g.Bin, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err != nil {
			return fmt.Errorf("%s: %w", g.Bin, err)
		}
		return nil
	case <-ctx.Done():
		grace := g.Grace
		if grace <= 0 {
			grace = defaultGrace
		}
		_ = procgroup.Terminate(cmd, waitCh, grace)
		logger.Info().Int(log.FieldPID, cmd.Process.Pid).Msg("grabber interrupted")
		return ctx.Err()
	}
}
