// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package unit

import (
	"io"
	"strings"
	"testing"

	"github.com/ManuGH/u7d/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    Options
		wantErr bool
	}{
		{
			name: "live",
			args: "1 10 -s 1800 -p 40000",
			want: Options{ChannelID: "1", ProgramID: 10, Offset: 1800, Port: 40000},
		},
		{
			name: "record with everything",
			args: "1 10 -s 0 -p 40000 -i 10.0.0.2 -t 3600 -w --vo",
			want: Options{ChannelID: "1", ProgramID: 10, Port: 40000, ClientIP: "10.0.0.2", Time: 3600, Write: true, VO: true},
		},
		{
			name: "long flags",
			args: "--client_port 5000 --start 5 2 20",
			want: Options{ChannelID: "2", ProgramID: 20, Offset: 5, Port: 5000},
		},
		{name: "missing port", args: "1 10", wantErr: true},
		{name: "missing program", args: "1 -p 5000", wantErr: true},
		{name: "bad program", args: "1 x -p 5000", wantErr: true},
		{name: "negative offset", args: "1 10 -p 5000 -s -1", wantErr: true},
		{name: "unknown flag", args: "1 10 -p 5000 --nope", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseArgs(strings.Fields(tc.args), io.Discard)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// The orchestrator's command line must round-trip through the unit's parser.
func TestParseArgs_AcceptsLauncherArgs(t *testing.T) {
	spec := session.UnitSpec{
		ChannelID: "1",
		ProgramID: 10,
		Offset:    60,
		Port:      40000,
		ClientIP:  "10.0.0.2",
		Record:    &session.RecordSpec{Duration: 120, VO: true},
	}
	got, err := ParseArgs(spec.Args(), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, Options{ChannelID: "1", ProgramID: 10, Offset: 60, Port: 40000, ClientIP: "10.0.0.2", Time: 120, Write: true, VO: true}, got)
	assert.Equal(t, "u7d-session 1 10 -s 60 -p 40000 -w [10.0.0.2]", got.String())
}
