//go:build linux

package hardware

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// detectRAM returns total and available physical memory using sysinfo(2).
func detectRAM() (total, available int64, err error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, fmt.Errorf("sysinfo: %w", err)
	}

	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}

	total = int64(info.Totalram) * unit
	available = (int64(info.Freeram) + int64(info.Bufferram)) * unit
	return total, available, nil
}
