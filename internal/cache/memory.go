package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryResultCache is the dev/test backend: a TTL map guarded by a RWMutex
// with a background sweep for expired entries. Expired keys are also dropped
// lazily on read, so the sweep interval only bounds memory, not correctness.
type MemoryResultCache struct {
	mu          sync.RWMutex
	items       map[string]memoryEntry
	stopSweep   chan struct{}
	stopOnce    sync.Once
	sweepPeriod time.Duration
}

// NewMemoryResultCache starts the sweep goroutine. A non-positive period
// defaults to five minutes.
func NewMemoryResultCache(sweepPeriod time.Duration) *MemoryResultCache {
	if sweepPeriod <= 0 {
		sweepPeriod = 5 * time.Minute
	}

	c := &MemoryResultCache{
		items:       make(map[string]memoryEntry),
		stopSweep:   make(chan struct{}),
		sweepPeriod: sweepPeriod,
	}
	go c.sweep()
	return c
}

func (c *MemoryResultCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.mu.Lock()
		if e, exists := c.items[key]; exists && now.After(e.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}

	return entry.value, true, nil
}

// Set stores value under key for ttl. A non-positive ttl removes the key.
func (c *MemoryResultCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil
	}

	// Copy to decouple from the caller's buffer.
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	c.mu.Lock()
	c.items[key] = memoryEntry{
		value:     valueCopy,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()

	return nil
}

func (c *MemoryResultCache) sweep() {
	ticker := time.NewTicker(c.sweepPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, v := range c.items {
				if now.After(v.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopSweep:
			return
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *MemoryResultCache) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopSweep)
	})
	return nil
}
