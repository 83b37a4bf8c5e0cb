package cache

import (
	"sync"
)

// BlockCache caches raw blocks read from an image.
// Blocks are never written back, so entries never go stale during a run.
//
// Thread-safe: Uses RWMutex for concurrent access.
type BlockCache struct {
	mu      sync.RWMutex
	entries map[uint32][]byte
	maxSize int
	hits    uint64
	misses  uint64
}

// NewBlockCache creates a new block cache.
// maxSize: Maximum number of blocks (use 0 for unlimited)
func NewBlockCache(maxSize int) *BlockCache {
	return &BlockCache{
		entries: make(map[uint32][]byte, 64),
		maxSize: maxSize,
	}
}

// Get retrieves a cached block.
// Returns nil if not found or caching is disabled (LFSFORENSICS_CACHE=0).
func (c *BlockCache) Get(block uint32) []byte {
	if Disabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.entries[block]
	if !ok {
		c.misses++
		return nil
	}
	c.hits++
	return data
}

// Set stores a block.
// No-op if caching is disabled (LFSFORENSICS_CACHE=0).
func (c *BlockCache) Set(block uint32, data []byte) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		// Don't add new entries when at capacity
		if _, exists := c.entries[block]; !exists {
			return
		}
	}

	c.entries[block] = data
}

// Invalidate clears all entries from the cache.
func (c *BlockCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[uint32][]byte, 64)
	}
}

// Size returns the current number of entries in the cache.
func (c *BlockCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// BlockCacheStats holds cache counters.
type BlockCacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
}

// Stats returns current cache statistics.
func (c *BlockCache) Stats() BlockCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return BlockCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
