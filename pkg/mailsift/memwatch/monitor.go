// Package memwatch provides the background memory-pressure monitor that
// signals backpressure to the batch dispatcher.
package memwatch

import (
	"context"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// DefaultInterval is how often memory usage is sampled.
const DefaultInterval = 5 * time.Second

// SampleFunc returns the bytes of memory currently in use system-wide.
// The default implementation is platform-specific; tests inject fakes.
type SampleFunc func() (used int64, err error)

// Options configures a Monitor.
type Options struct {
	// CapBytes is the memory budget thresholds are measured against.
	CapBytes int64

	// WarningFraction and CriticalFraction are fractions of CapBytes.
	WarningFraction  float64
	CriticalFraction float64

	// Interval between samples. Zero means DefaultInterval.
	Interval time.Duration

	// Sample overrides the platform sampler (tests only).
	Sample SampleFunc
}

// Monitor samples memory usage on an interval and exposes the current
// pressure state. Samples are transient; only threshold crossings are
// logged. The run loop exits promptly on context cancellation and never
// blocks process shutdown.
type Monitor struct {
	cap      int64
	warn     float64
	critical float64
	interval time.Duration
	sample   SampleFunc
	logger   *logging.Logger

	pressure atomic.Int32
}

// New creates a Monitor. Threshold fractions outside (0, 1] fall back
// to the 0.85/0.90 defaults.
func New(opts Options) *Monitor {
	if opts.WarningFraction <= 0 || opts.WarningFraction > 1 {
		opts.WarningFraction = 0.85
	}
	if opts.CriticalFraction <= opts.WarningFraction || opts.CriticalFraction > 1 {
		opts.CriticalFraction = 0.90
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Sample == nil {
		opts.Sample = sampleUsedMemory
	}

	return &Monitor{
		cap:      opts.CapBytes,
		warn:     opts.WarningFraction,
		critical: opts.CriticalFraction,
		interval: opts.Interval,
		sample:   opts.Sample,
		logger:   logging.Get("memwatch"),
	}
}

// Pressure returns the current pressure state.
func (m *Monitor) Pressure() types.MemoryPressure {
	return types.MemoryPressure(m.pressure.Load())
}

// Run samples until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluate()
		}
	}
}

// Evaluate takes one sample immediately and updates the pressure state.
// Exposed so the engine can prime the state before the first tick.
func (m *Monitor) Evaluate() {
	m.evaluate()
}

// evaluate samples usage and applies the threshold state machine.
// Once critical, the state stays critical until usage falls back under
// the warning threshold.
func (m *Monitor) evaluate() {
	if m.cap <= 0 {
		return
	}

	used, err := m.sample()
	if err != nil {
		m.logger.Warn("memory sample failed", "error", err)
		return
	}

	frac := float64(used) / float64(m.cap)
	current := types.MemoryPressure(m.pressure.Load())
	next := m.nextState(current, frac)

	if next == current {
		return
	}

	m.pressure.Store(int32(next))
	m.logger.Warn("memory pressure changed",
		"from", current.String(), "to", next.String(), "used_fraction", frac)

	if next == types.PressureWarning && current == types.PressureNormal {
		// Reclaim hint on first crossing of the warning threshold.
		debug.FreeOSMemory()
	}
}

// nextState applies the hysteresis rules.
func (m *Monitor) nextState(current types.MemoryPressure, frac float64) types.MemoryPressure {
	if current == types.PressureCritical {
		if frac < m.warn {
			return types.PressureNormal
		}
		return types.PressureCritical
	}

	switch {
	case frac >= m.critical:
		return types.PressureCritical
	case frac >= m.warn:
		return types.PressureWarning
	default:
		return types.PressureNormal
	}
}
