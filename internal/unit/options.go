// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package unit

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	flag "github.com/spf13/pflag"
)

// ErrUsage marks a bad command line.
var ErrUsage = errors.New("usage")

// Options is the parsed u7d-session command line.
type Options struct {
	ChannelID string
	ProgramID int
	Offset    int64
	Port      int
	ClientIP  string
	// Time bounds a recording, in seconds. 0 records until the stream ends.
	Time  int64
	Write bool
	VO    bool
}

// ParseArgs parses "channel program [-s offset] -p port [-i ip] [-t secs] [-w] [--vo]".
func ParseArgs(args []string, stderr io.Writer) (Options, error) {
	var o Options
	fs := flag.NewFlagSet("u7d-session", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Int64VarP(&o.Offset, "start", "s", 0, "stream start offset in seconds")
	fs.IntVarP(&o.Port, "client_port", "p", 0, "client UDP port (required)")
	fs.StringVarP(&o.ClientIP, "client_ip", "i", "", "address of the requesting client, for logs")
	fs.Int64VarP(&o.Time, "time", "t", 0, "recording duration in seconds (0=until the stream ends)")
	fs.BoolVarP(&o.Write, "write_to_file", "w", false, "record to file from the inherited socket")
	fs.BoolVar(&o.VO, "vo", false, "original version audio")
	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "Usage: u7d-session <channel> <program> [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return o, fmt.Errorf("%w: expected channel and program, got %d arguments", ErrUsage, fs.NArg())
	}
	o.ChannelID = fs.Arg(0)
	pid, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return o, fmt.Errorf("%w: program id %q: %w", ErrUsage, fs.Arg(1), err)
	}
	o.ProgramID = pid

	switch {
	case o.Port <= 0 || o.Port > 65535:
		return o, fmt.Errorf("%w: client port %d out of range", ErrUsage, o.Port)
	case o.Offset < 0:
		return o, fmt.Errorf("%w: negative offset %d", ErrUsage, o.Offset)
	case o.Time < 0:
		return o, fmt.Errorf("%w: negative duration %d", ErrUsage, o.Time)
	}
	return o, nil
}

// String renders the options for logs.
func (o Options) String() string {
	s := fmt.Sprintf("u7d-session %s %d -s %d -p %d", o.ChannelID, o.ProgramID, o.Offset, o.Port)
	if o.Write {
		s += " -w"
	}
	if o.ClientIP != "" {
		s += " [" + o.ClientIP + "]"
	}
	return s
}
