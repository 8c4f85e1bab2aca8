//go:build darwin

package hardware

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// detectRAM returns total physical memory via sysctl. Available memory
// is estimated at 50% of total: macOS uses spare RAM aggressively for
// file cache, and the estimate only feeds tier classification.
func detectRAM() (total, available int64, err error) {
	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, 0, fmt.Errorf("sysctl hw.memsize: %w", err)
	}

	total = int64(memsize)
	return total, total / 2, nil
}
