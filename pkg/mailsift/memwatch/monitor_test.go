package memwatch

import (
	"context"
	"testing"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// fakeSampler returns a controllable used-memory reading.
type fakeSampler struct {
	used int64
}

func (f *fakeSampler) sample() (int64, error) {
	return f.used, nil
}

func newTestMonitor(sampler *fakeSampler) *Monitor {
	return New(Options{
		CapBytes:         1000,
		WarningFraction:  0.85,
		CriticalFraction: 0.90,
		Sample:           sampler.sample,
	})
}

func TestPressureStartsNormal(t *testing.T) {
	m := newTestMonitor(&fakeSampler{used: 100})
	if got := m.Pressure(); got != types.PressureNormal {
		t.Errorf("initial pressure = %v, want normal", got)
	}
}

func TestThresholdTransitions(t *testing.T) {
	sampler := &fakeSampler{used: 100}
	m := newTestMonitor(sampler)

	tests := []struct {
		name string
		used int64
		want types.MemoryPressure
	}{
		{"well below warning", 500, types.PressureNormal},
		{"just below warning", 849, types.PressureNormal},
		{"at warning", 850, types.PressureWarning},
		{"between thresholds", 880, types.PressureWarning},
		{"at critical", 900, types.PressureCritical},
	}

	for _, tt := range tests {
		sampler.used = tt.used
		m.Evaluate()
		if got := m.Pressure(); got != tt.want {
			t.Errorf("%s: pressure = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCriticalHysteresis(t *testing.T) {
	sampler := &fakeSampler{used: 950}
	m := newTestMonitor(sampler)

	m.Evaluate()
	if got := m.Pressure(); got != types.PressureCritical {
		t.Fatalf("pressure = %v, want critical", got)
	}

	// Dropping below critical but not below warning keeps the state
	// critical.
	sampler.used = 870
	m.Evaluate()
	if got := m.Pressure(); got != types.PressureCritical {
		t.Errorf("pressure = %v, want critical to persist above warning", got)
	}

	// Only falling under the warning threshold clears it.
	sampler.used = 800
	m.Evaluate()
	if got := m.Pressure(); got != types.PressureNormal {
		t.Errorf("pressure = %v, want normal after dropping below warning", got)
	}
}

func TestZeroCapNeverChangesState(t *testing.T) {
	m := New(Options{CapBytes: 0, Sample: (&fakeSampler{used: 1 << 40}).sample})

	m.Evaluate()
	if got := m.Pressure(); got != types.PressureNormal {
		t.Errorf("pressure = %v, want normal with no cap", got)
	}
}

func TestInvalidFractionsFallBack(t *testing.T) {
	sampler := &fakeSampler{used: 870}
	m := New(Options{
		CapBytes:         1000,
		WarningFraction:  -1,
		CriticalFraction: 2,
		Sample:           sampler.sample,
	})

	// 0.87 sits between the 0.85/0.90 defaults.
	m.Evaluate()
	if got := m.Pressure(); got != types.PressureWarning {
		t.Errorf("pressure = %v, want warning under default thresholds", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	sampler := &fakeSampler{used: 100}
	m := New(Options{
		CapBytes: 1000,
		Interval: 5 * time.Millisecond,
		Sample:   sampler.sample,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRunSamplesOnInterval(t *testing.T) {
	sampler := &fakeSampler{used: 950}
	m := New(Options{
		CapBytes: 1000,
		Interval: 5 * time.Millisecond,
		Sample:   sampler.sample,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	deadline := time.After(time.Second)
	for m.Pressure() != types.PressureCritical {
		select {
		case <-deadline:
			t.Fatal("monitor never observed critical pressure")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
