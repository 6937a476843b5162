// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// SystemUptime reports how long the host has been up, from the boot time
// in /proc/stat.
func SystemUptime() (time.Duration, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, fmt.Errorf("open procfs: %w", err)
	}
	stat, err := fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read boot time: %w", err)
	}
	return time.Since(time.Unix(int64(stat.BootTime), 0)), nil
}
