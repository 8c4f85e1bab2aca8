// Package cache provides the persistent result cache for the mailsift
// analysis engine, keyed by (identity key, model version).
package cache

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
)

// ResultCache is the interface the dispatcher and engine consume. The
// badger-backed Cache and the degraded null cache both satisfy it.
type ResultCache interface {
	// Get returns the cached payload for the key under the given model
	// version, or ErrNotFound on a miss. A stored entry with a different
	// model version is a miss and is purged lazily.
	Get(identityKey, modelVersion string) (string, error)

	// Put stores a result. Writes are idempotent, last-write-wins per
	// identity key.
	Put(identityKey, modelVersion, payload string) error

	// Invalidate drops every entry recorded under the given model version.
	Invalidate(modelVersion string) error

	// Clear wipes all entries.
	Clear() error

	// Stats returns hit/miss counters and the entry count.
	Stats() Stats

	// Close releases the underlying store.
	Close() error
}

// Cache provides versioned result caching over a badger store.
type Cache struct {
	store  *Store
	logger *logging.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ ResultCache = (*Cache)(nil)

// Open opens or creates a cache at the given path.
func Open(path string) (*Cache, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}

	return &Cache{
		store:  store,
		logger: logging.Get("cache"),
	}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.store.Close()
}

// Get implements ResultCache. Hits bump the entry's access metadata;
// version mismatches delete the stale entry and report a miss.
func (c *Cache) Get(identityKey, modelVersion string) (string, error) {
	entry, err := c.store.Get(identityKey)
	if errors.Is(err, ErrNotFound) {
		c.misses.Add(1)
		return "", ErrNotFound
	}
	if err != nil {
		c.misses.Add(1)
		return "", err
	}

	if entry.ModelVersion != modelVersion {
		// Stale entry from another model version: purge lazily.
		if delErr := c.store.Delete(identityKey); delErr != nil {
			c.logger.Warn("failed to purge stale entry", "identity", identityKey, "error", delErr)
		}
		c.misses.Add(1)
		return "", ErrNotFound
	}

	c.hits.Add(1)

	entry.LastAccessedAt = time.Now().UTC()
	entry.AccessCount++
	if putErr := c.store.Put(entry); putErr != nil {
		// Access bookkeeping is best-effort; the hit still counts.
		c.logger.Warn("failed to update access metadata", "identity", identityKey, "error", putErr)
	}

	return entry.Payload, nil
}

// Put implements ResultCache.
func (c *Cache) Put(identityKey, modelVersion, payload string) error {
	now := time.Now().UTC()
	return c.store.Put(&Entry{
		IdentityKey:    identityKey,
		ModelVersion:   modelVersion,
		Payload:        payload,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
	})
}

// Invalidate implements ResultCache.
func (c *Cache) Invalidate(modelVersion string) error {
	return c.store.DeleteWhere(func(e *Entry) bool {
		return e.ModelVersion == modelVersion
	})
}

// Clear implements ResultCache.
func (c *Cache) Clear() error {
	return c.store.DropAll()
}

// Stats implements ResultCache.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	entries, err := c.store.Count()
	if err != nil {
		c.logger.Warn("failed to count cache entries", "error", err)
	}

	stats := Stats{
		Hits:    hits,
		Misses:  misses,
		Entries: entries,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// NullCache is the degraded always-miss cache used when the persistent
// store is unavailable. The engine warns once and continues via
// inference only.
type NullCache struct {
	misses atomic.Int64
}

var _ ResultCache = (*NullCache)(nil)

// NewNullCache returns an always-miss cache.
func NewNullCache() *NullCache {
	return &NullCache{}
}

// Get always misses.
func (n *NullCache) Get(identityKey, modelVersion string) (string, error) {
	n.misses.Add(1)
	return "", ErrNotFound
}

// Put discards the result.
func (n *NullCache) Put(identityKey, modelVersion, payload string) error { return nil }

// Invalidate is a no-op.
func (n *NullCache) Invalidate(modelVersion string) error { return nil }

// Clear is a no-op.
func (n *NullCache) Clear() error { return nil }

// Stats reports misses only.
func (n *NullCache) Stats() Stats {
	return Stats{Misses: n.misses.Load()}
}

// Close is a no-op.
func (n *NullCache) Close() error { return nil }
