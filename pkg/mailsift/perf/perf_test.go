package perf

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()

	r, err := Open(filepath.Join(t.TempDir(), "perf"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestLogAndSummary(t *testing.T) {
	r := openTestRecorder(t)

	r.Log(Record{Operation: OpInference, Latency: 100 * time.Millisecond})
	r.Log(Record{Operation: OpInference, Latency: 300 * time.Millisecond})
	r.Log(Record{Operation: OpBatch, Latency: 2 * time.Second, Throughput: 40})
	r.Log(Record{Operation: OpCacheHit, Latency: time.Millisecond})
	r.Log(Record{Operation: OpCacheMiss, Latency: time.Millisecond})
	r.Log(Record{Operation: OpCacheMiss, Latency: time.Millisecond})

	summary, err := r.Summary(7)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	inf := summary.Operations[OpInference]
	if inf.Count != 2 {
		t.Errorf("inference count = %d, want 2", inf.Count)
	}
	if inf.AvgLatency != 200*time.Millisecond {
		t.Errorf("inference avg latency = %v, want 200ms", inf.AvgLatency)
	}
	if inf.MaxLatency != 300*time.Millisecond {
		t.Errorf("inference max latency = %v, want 300ms", inf.MaxLatency)
	}

	if summary.AvgThroughput != 40 {
		t.Errorf("AvgThroughput = %f, want 40", summary.AvgThroughput)
	}

	wantRate := 1.0 / 3.0
	if diff := summary.CacheHitRate - wantRate; diff > 0.001 || diff < -0.001 {
		t.Errorf("CacheHitRate = %f, want %f", summary.CacheHitRate, wantRate)
	}
}

func TestSummaryWindowExcludesOldRecords(t *testing.T) {
	r := openTestRecorder(t)

	r.Log(Record{
		Operation: OpInference,
		Timestamp: time.Now().UTC().AddDate(0, 0, -30),
		Latency:   time.Second,
	})
	r.Log(Record{Operation: OpInference, Latency: 50 * time.Millisecond})

	summary, err := r.Summary(7)
	if err != nil {
		t.Fatal(err)
	}

	if got := summary.Operations[OpInference].Count; got != 1 {
		t.Errorf("count in window = %d, want 1 (old record excluded)", got)
	}
}

func TestRecordKeysSortInTimeOrder(t *testing.T) {
	// Whole-second timestamps must not sort after fractional ones.
	whole := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		earlier, later time.Time
	}{
		{"whole second before fraction", whole, whole.Add(500 * time.Millisecond)},
		{"fraction before next second", whole.Add(999 * time.Millisecond), whole.Add(time.Second)},
		{"nanosecond apart", whole, whole.Add(time.Nanosecond)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := recordKey(tt.earlier), recordKey(tt.later)
			if bytes.Compare(a, b) >= 0 {
				t.Errorf("key %q does not sort before %q", a, b)
			}
		})
	}
}

func TestSummaryEmptyJournal(t *testing.T) {
	r := openTestRecorder(t)

	summary, err := r.Summary(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Operations) != 0 {
		t.Errorf("Operations = %v, want empty", summary.Operations)
	}
	if summary.CacheHitRate != 0 {
		t.Errorf("CacheHitRate = %f, want 0", summary.CacheHitRate)
	}
}

func TestSummaryDefaultsWindow(t *testing.T) {
	r := openTestRecorder(t)

	summary, err := r.Summary(0)
	if err != nil {
		t.Fatal(err)
	}
	if summary.WindowDays != 7 {
		t.Errorf("WindowDays = %d, want 7", summary.WindowDays)
	}
}

func TestDisabledRecorder(t *testing.T) {
	r := Disabled()

	// Writes are discarded without error.
	r.Log(Record{Operation: OpInference, Latency: time.Second})

	summary, err := r.Summary(7)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Operations) != 0 {
		t.Error("disabled recorder retained records")
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close on disabled recorder: %v", err)
	}
}
