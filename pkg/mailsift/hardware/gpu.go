package hardware

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
)

// errNoGPU is returned when no dedicated GPU can be queried.
var errNoGPU = errors.New("no dedicated GPU found")

// detectGPU queries nvidia-smi for the largest dedicated GPU memory in
// bytes. The exec call inherits the caller's bounded context so a hung
// driver cannot stall startup.
func detectGPU(ctx context.Context) (int64, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.total", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, errNoGPU
	}

	var best int64
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		mib, parseErr := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if parseErr != nil {
			continue
		}
		if bytes := mib * 1024 * 1024; bytes > best {
			best = bytes
		}
	}

	if best == 0 {
		return 0, errNoGPU
	}
	return best, nil
}
