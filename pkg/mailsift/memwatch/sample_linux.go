//go:build linux

package memwatch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sampleUsedMemory returns the bytes of physical memory in use.
// On linux it uses sysinfo(2); buffer memory counts as reclaimable.
func sampleUsedMemory() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}

	unit := int64(info.Unit)
	if unit == 0 {
		unit = 1
	}

	total := int64(info.Totalram) * unit
	free := int64(info.Freeram) * unit
	buffers := int64(info.Bufferram) * unit

	used := total - free - buffers
	if used < 0 {
		used = 0
	}
	return used, nil
}
