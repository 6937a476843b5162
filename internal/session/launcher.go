// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/procgroup"
)

// DefaultGrace is how long a unit gets to tear down after SIGINT.
const DefaultGrace = 5 * time.Second

// RecordSpec carries the record-mode arguments of a unit.
type RecordSpec struct {
	// Duration in seconds; 0 records until the stream ends.
	Duration int64
	VO       bool
}

// UnitSpec describes one isolated negotiation unit.
type UnitSpec struct {
	ChannelID string
	ProgramID int
	Offset    int64
	Port      int
	ClientIP  string
	Record    *RecordSpec

	// Socket is handed to the unit as fd 3 in record mode.
	Socket *os.File
}

// Args renders the u7d-session command line.
func (s UnitSpec) Args() []string {
	args := []string{
		s.ChannelID,
		strconv.Itoa(s.ProgramID),
		"-s", strconv.FormatInt(s.Offset, 10),
		"-p", strconv.Itoa(s.Port),
	}
	if s.ClientIP != "" {
		args = append(args, "-i", s.ClientIP)
	}
	if s.Record != nil {
		if s.Record.Duration > 0 {
			args = append(args, "-t", strconv.FormatInt(s.Record.Duration, 10))
		}
		args = append(args, "-w")
		if s.Record.VO {
			args = append(args, "--vo")
		}
	}
	return args
}

// String is the invocation as shown in logs and NOT AVAILABLE replies.
func (s UnitSpec) String() string {
	desc := "u7d-session " + strings.Join(s.Args(), " ")
	if s.ClientIP != "" {
		desc += fmt.Sprintf(" [%s]", s.ClientIP)
	}
	return desc
}

// Unit is a running negotiation unit.
type Unit interface {
	// Done is closed once the unit has exited.
	Done() <-chan struct{}
	// Err is the exit error; valid after Done.
	Err() error
	// Interrupt stops the unit and waits for it to exit. Calling it on a
	// unit that already exited is a no-op.
	Interrupt()
}

// Launcher starts units.
type Launcher interface {
	Launch(ctx context.Context, spec UnitSpec) (Unit, error)
}

// ExecLauncher runs units as separate processes in their own process group.
type ExecLauncher struct {
	Bin    string
	Grace  time.Duration
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (l *ExecLauncher) Launch(_ context.Context, spec UnitSpec) (Unit, error) {
	// Not CommandContext: the unit outlives the request in record mode and
	// is always stopped through Interrupt.
	cmd := exec.Command(l.Bin, spec.Args()...)
	procgroup.Set(cmd)
	cmd.Env = l.Env
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	if spec.Socket != nil {
		cmd.ExtraFiles = []*os.File{spec.Socket}
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", l.Bin, err)
	}

	grace := l.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	u := &procUnit{cmd: cmd, grace: grace, done: make(chan struct{})}
	go func() {
		u.err = cmd.Wait()
		close(u.done)
	}()
	return u, nil
}

type procUnit struct {
	cmd   *exec.Cmd
	grace time.Duration
	done  chan struct{}
	err   error

	once sync.Once
}

func (u *procUnit) Done() <-chan struct{} { return u.done }

func (u *procUnit) Err() error {
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}

func (u *procUnit) Interrupt() {
	u.once.Do(func() {
		select {
		case <-u.done:
			return
		default:
		}
		wait := make(chan error, 1)
		go func() {
			<-u.done
			wait <- u.err
		}()
		// A unit interrupted mid-session exits non-zero; the status is
		// already available through Err.
		_ = procgroup.Terminate(u.cmd, wait, u.grace)
	})
}
