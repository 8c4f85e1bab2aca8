package gate

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// EventType classifies an audit event.
type EventType string

// Audit event types.
const (
	EventBlock    EventType = "block"
	EventOverride EventType = "override"
)

// Event is one append-only audit record. Events carry a pattern name
// and a truncated excerpt only, never full message content.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	IdentityKey string         `json:"identity_key"`
	PatternName string         `json:"pattern_name,omitempty"`
	Severity    types.Severity `json:"severity,omitempty"`
	Excerpt     string         `json:"excerpt,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// Audit manages append-only security audit records on the filesystem.
type Audit struct {
	dir string
	mu  sync.Mutex
}

// NewAudit creates an Audit writing to the given directory.
// The directory is not created until EnsureDir is called.
func NewAudit(dir string) (*Audit, error) {
	if dir == "" {
		return nil, errors.New("audit directory cannot be empty")
	}
	return &Audit{dir: dir}, nil
}

// EnsureDir creates the audit directory if it does not exist.
func (a *Audit) EnsureDir() error {
	return os.MkdirAll(a.dir, 0o755)
}

// RecordBlock logs a block event for one unit.
func (a *Audit) RecordBlock(identityKey string, verdict types.SecurityVerdict) error {
	return a.record(&Event{
		Type:        EventBlock,
		IdentityKey: identityKey,
		PatternName: verdict.PatternName,
		Severity:    verdict.Severity,
		Excerpt:     verdict.MatchedExcerpt,
	})
}

// RecordOverride logs an override event for one unit.
func (a *Audit) RecordOverride(identityKey, reason string) error {
	return a.record(&Event{
		Type:        EventOverride,
		IdentityKey: identityKey,
		Reason:      reason,
	})
}

// record fills in identity fields and persists the event.
func (a *Audit) record(event *Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	event.ID = generateID(event.Type)
	event.Timestamp = time.Now().UTC()

	if err := a.writeEvent(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// writeEvent writes an event to a JSON file in the audit directory.
func (a *Audit) writeEvent(event *Event) error {
	filePath := filepath.Join(a.dir, event.ID+".json")

	data, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Write atomically using a temp file and rename
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// List returns audit events sorted by timestamp descending (newest first).
// If limit is 0 or negative, all events are returned.
func (a *Audit) List(limit int) ([]Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	files, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, nil
		}
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var events []Event
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		data, readErr := os.ReadFile(filepath.Join(a.dir, f.Name()))
		if readErr != nil {
			continue
		}

		var event Event
		if unmarshalErr := json.Unmarshal(data, &event); unmarshalErr != nil {
			// Skip files that can't be parsed
			continue
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	if events == nil {
		events = []Event{}
	}

	return events, nil
}

// Cleanup removes events older than retentionDays.
func (a *Audit) Cleanup(retentionDays int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read audit directory: %w", err)
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		info, infoErr := f.Info()
		if infoErr != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(a.dir, f.Name()))
		}
	}

	return nil
}

// generateID creates a unique ID like "block-2024-06-15T10-30-00-abc123".
func generateID(t EventType) string {
	ts := time.Now().UTC().Format("2006-01-02T15-04-05")

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		// Fallback to nanoseconds if crypto/rand fails
		suffix = []byte(fmt.Sprintf("%06d", time.Now().Nanosecond()%1000000))
	}

	return fmt.Sprintf("%s-%s-%s", t, ts, hex.EncodeToString(suffix))
}
