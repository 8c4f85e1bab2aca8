// Package hardware provides the one-shot startup probe that classifies
// machine capability and derives default concurrency settings.
package hardware

import (
	"context"
	"runtime"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// Tier thresholds.
const (
	gib = int64(1024 * 1024 * 1024)

	optimalVRAM     = 8 * gib
	optimalRAM      = 24 * gib
	recommendedVRAM = 6 * gib
	recommendedRAM  = 16 * gib
	minimumRAM      = 16 * gib
)

// probeTimeout bounds the whole detection pass.
const probeTimeout = 3 * time.Second

// Detect probes CPU, RAM, and GPU and classifies a capability tier. It
// runs once at startup, is bounded by probeTimeout, and never fails:
// any probe error degrades to a conservative default profile.
func Detect(ctx context.Context) types.HardwareProfile {
	logger := logging.Get("hardware")

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	profile := conservativeProfile()
	profile.CPUCores = runtime.NumCPU()

	total, available, err := detectRAM()
	if err != nil {
		logger.Warn("RAM detection failed, using conservative defaults", "error", err)
	} else {
		profile.RAMTotal = total
		profile.RAMAvailable = available
	}

	vram, gpuErr := detectGPU(ctx)
	if gpuErr != nil {
		logger.Debug("no usable GPU detected", "error", gpuErr)
	} else if vram > 0 {
		profile.GPUPresent = true
		profile.VRAM = vram
	}

	profile.Tier = classify(profile)

	if profile.Tier == types.TierInsufficient {
		logger.Warn("hardware below minimum requirements; analysis will run single-threaded and may be slow",
			"cpu_cores", profile.CPUCores, "ram_total", profile.RAMTotal)
	} else {
		logger.Info("hardware profile detected",
			"tier", string(profile.Tier), "cpu_cores", profile.CPUCores,
			"ram_total", profile.RAMTotal, "gpu", profile.GPUPresent, "vram", profile.VRAM)
	}

	return profile
}

// classify applies the tier policy.
func classify(p types.HardwareProfile) types.HardwareTier {
	switch {
	case p.GPUPresent && p.VRAM >= optimalVRAM && p.RAMTotal >= optimalRAM:
		return types.TierOptimal
	case p.GPUPresent && p.VRAM >= recommendedVRAM && p.RAMTotal >= recommendedRAM:
		return types.TierRecommended
	case p.RAMTotal >= minimumRAM:
		return types.TierMinimum
	default:
		return types.TierInsufficient
	}
}

// conservativeProfile is the fallback used when probes fail: assume a
// small machine so derived concurrency stays safe.
func conservativeProfile() types.HardwareProfile {
	return types.HardwareProfile{
		CPUCores:     2,
		RAMTotal:     8 * gib,
		RAMAvailable: 4 * gib,
		Tier:         types.TierInsufficient,
	}
}
