// Package cache provides the in-process caching layer for the memory engine:
// TTL-scoped caches for embeddings, assembled prompt context and retrieved
// result sets, plus a per-owner debounced invalidator.
//
// Caches hold no information that is not re-fetchable from the persistent
// store or the embedding provider, so losing them is safe, only costly.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is the default time-to-live for cache entries.
const DefaultTTL = 5 * time.Minute

// DefaultSweepInterval is the default interval between background sweeps
// of expired entries.
const DefaultSweepInterval = 30 * time.Minute

// entry is a cached value with its insertion timestamp.
type entry struct {
	value    interface{}
	storedAt time.Time
}

// TTLCache is a key-value cache with a uniform time-to-live.
//
// Expiry is checked lazily on read; entries older than the TTL are treated
// as absent. A background sweep removes expired entries periodically so the
// map does not grow without bound between reads.
//
// All methods are safe for concurrent use.
type TTLCache struct {
	// name identifies the cache in logs and metrics.
	name string

	ttl     time.Duration
	entries map[string]entry
	mu      sync.RWMutex

	sweepStop chan struct{}
	sweepOnce sync.Once
	logger    zerolog.Logger

	// now is the clock function; replaceable in tests.
	now func() time.Time
}

// NewTTLCache creates a new TTL cache.
//
// Parameters:
//   - name: Cache name for logs and metrics (e.g. "embedding", "retrieval")
//   - ttl: Entry time-to-live. If 0, defaults to DefaultTTL.
//   - logger: Structured logger. Use zerolog.Nop() to disable logging.
//
// The background sweep is not started automatically; call StartSweeper.
func NewTTLCache(name string, ttl time.Duration, logger zerolog.Logger) *TTLCache {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &TTLCache{
		name:      name,
		ttl:       ttl,
		entries:   make(map[string]entry),
		sweepStop: make(chan struct{}),
		logger:    logger.With().Str("cache", name).Logger(),
		now:       time.Now,
	}
}

// Get returns the cached value for key, or (nil, false) if the key is
// absent or its entry has expired.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		// Expired entries are treated as absent; the sweep reclaims them.
		return nil, false
	}
	return e.value, true
}

// Set stores a value under key, resetting its TTL.
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

// Delete removes a single key.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// DeleteByPrefix removes all keys with the given prefix and returns the
// number of entries removed. Keys are derived from (owner, normalized text),
// so an owner's entries share the "<ownerID>:" prefix.
func (c *TTLCache) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held, including entries that
// have expired but not yet been swept.
func (c *TTLCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries and returns the number removed.
func (c *TTLCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper starts the background sweep loop.
//
// Parameters:
//   - interval: Time between sweeps. If 0, defaults to DefaultSweepInterval.
//
// The loop runs until Close is called.
func (c *TTLCache) StartSweeper(interval time.Duration) {
	if interval == 0 {
		interval = DefaultSweepInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					c.logger.Debug().Int("removed", removed).Msg("swept expired cache entries")
				}
			case <-c.sweepStop:
				return
			}
		}
	}()
}

// Close stops the background sweep loop. Safe to call more than once.
func (c *TTLCache) Close() {
	c.sweepOnce.Do(func() { close(c.sweepStop) })
}

// Key builds a cache key from an owner ID and normalized text.
func Key(ownerID, normalized string) string {
	return ownerID + ":" + normalized
}

// OwnerPrefix returns the key prefix covering all of an owner's entries.
func OwnerPrefix(ownerID string) string {
	return ownerID + ":"
}
