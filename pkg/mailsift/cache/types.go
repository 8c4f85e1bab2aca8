package cache

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Entry is one cached analysis result, keyed by identity key. At most
// one entry exists per identity key; an entry whose ModelVersion differs
// from the active model is treated as a miss and purged lazily.
type Entry struct {
	IdentityKey    string
	ModelVersion   string
	Payload        string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64
}

// Encode serializes the entry to bytes using gob.
func (e *Entry) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes bytes into the entry using gob.
func (e *Entry) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int64   `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}
