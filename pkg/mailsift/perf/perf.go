// Package perf provides the append-only performance journal for
// latency, throughput, and cache-effectiveness metrics.
package perf

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
)

// Well-known operation names recorded by the engine.
const (
	OpInference = "inference"
	OpBatch     = "batch"
	OpCacheHit  = "cache_hit"
	OpCacheMiss = "cache_miss"
)

// Record is one journal entry.
type Record struct {
	Operation   string
	Timestamp   time.Time
	Latency     time.Duration
	Throughput  float64 // optional, units per minute
	MemoryBytes int64   // optional, sampled process memory
}

// OpStats aggregates records for one operation within a summary window.
type OpStats struct {
	Count      int64         `json:"count"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// Summary is a windowed aggregation of the journal.
type Summary struct {
	WindowDays    int                `json:"window_days"`
	Operations    map[string]OpStats `json:"operations"`
	AvgThroughput float64            `json:"avg_throughput"`
	CacheHitRate  float64            `json:"cache_hit_rate"`
}

// Recorder is the append-only metrics journal. Writes are cheap and
// failures are swallowed as local warnings: the recorder must never
// slow down or break the analysis hot path. A disabled recorder (store
// unavailable at startup) accepts and discards all writes.
type Recorder struct {
	db     *badger.DB
	logger *logging.Logger
}

// Open opens or creates the journal at the given path.
func Open(path string) (*Recorder, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Recorder{db: db, logger: logging.Get("perf")}, nil
}

// Disabled returns a recorder that discards all writes. Used when the
// journal store is unavailable at startup.
func Disabled() *Recorder {
	return &Recorder{logger: logging.Get("perf")}
}

// Close closes the journal.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Log appends one record. Errors are logged and swallowed.
func (r *Recorder) Log(rec Record) {
	if r.db == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		r.logger.Warn("failed to encode perf record", "op", rec.Operation, "error", err)
		return
	}

	// Keys are timestamp-ordered so summaries can range-scan a window.
	key := recordKey(rec.Timestamp)
	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf.Bytes())
	})
	if err != nil {
		r.logger.Warn("failed to append perf record", "op", rec.Operation, "error", err)
	}
}

// Summary aggregates records from the last windowDays days.
func (r *Recorder) Summary(windowDays int) (*Summary, error) {
	if windowDays <= 0 {
		windowDays = 7
	}

	summary := &Summary{
		WindowDays: windowDays,
		Operations: make(map[string]OpStats),
	}
	if r.db == nil {
		return summary, nil
	}

	cutoff := []byte(time.Now().UTC().AddDate(0, 0, -windowDays).Format(keyTimeLayout))

	var (
		totalLatency    = make(map[string]time.Duration)
		throughputSum   float64
		throughputCount int64
		hits, misses    int64
	)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(cutoff); it.Valid(); it.Next() {
			var rec Record
			decodeErr := it.Item().Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
			})
			if decodeErr != nil {
				continue // skip undecodable records
			}

			stats := summary.Operations[rec.Operation]
			stats.Count++
			totalLatency[rec.Operation] += rec.Latency
			if rec.Latency > stats.MaxLatency {
				stats.MaxLatency = rec.Latency
			}
			summary.Operations[rec.Operation] = stats

			if rec.Throughput > 0 {
				throughputSum += rec.Throughput
				throughputCount++
			}

			switch rec.Operation {
			case OpCacheHit:
				hits++
			case OpCacheMiss:
				misses++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning perf journal: %w", err)
	}

	for op, stats := range summary.Operations {
		if stats.Count > 0 {
			stats.AvgLatency = totalLatency[op] / time.Duration(stats.Count)
			summary.Operations[op] = stats
		}
	}
	if throughputCount > 0 {
		summary.AvgThroughput = throughputSum / float64(throughputCount)
	}
	if total := hits + misses; total > 0 {
		summary.CacheHitRate = float64(hits) / float64(total)
	}

	return summary, nil
}

// keyTimeLayout is fixed-width so keys sort lexicographically in time
// order; RFC3339Nano drops trailing zeros and would break the ordering
// around the summary window's seek boundary.
const keyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// recordKey builds a unique, time-ordered journal key.
func recordKey(ts time.Time) []byte {
	return []byte(ts.UTC().Format(keyTimeLayout) + "-" + uuid.NewString()[:8])
}
