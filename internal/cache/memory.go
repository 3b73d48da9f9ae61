package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is the in-process cache tier. Entries are kept in insertion
// order; eviction removes the oldest-inserted entries first, since synthesis
// audio is rarely re-requested once delivered and insertion age approximates
// staleness better than access recency.
type MemoryCache struct {
	capacity    int64
	ttl         time.Duration
	evictTarget float64

	mu      sync.Mutex
	size    int64
	items   map[string]*list.Element
	order   *list.List // oldest insertion at the front
	hits    int64
	misses  int64
	closed  bool
	stopCh  chan struct{}
	sweepWg sync.WaitGroup

	// now is replaceable in tests to control TTL expiry.
	now func() time.Time
}

type memoryEntry struct {
	key        string
	payload    []byte
	size       int64
	insertedAt time.Time
}

// NewMemoryCache creates a memory cache and starts its expiry sweep.
func NewMemoryCache(cfg Config) *MemoryCache {
	c := &MemoryCache{
		capacity:    cfg.MaxSizeBytes,
		ttl:         cfg.TTL,
		evictTarget: cfg.evictTarget(),
		items:       make(map[string]*list.Element),
		order:       list.New(),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	if cfg.SweepInterval > 0 {
		c.sweepWg.Add(1)
		go c.sweepLoop(cfg.SweepInterval)
	}

	return c
}

// Get retrieves a payload. Expired entries are treated as misses and removed.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if c.expired(entry) {
		c.removeElement(elem)
		c.misses++
		return nil, false, nil
	}

	c.hits++
	return entry.payload, true, nil
}

// Set stores a payload, evicting oldest-inserted entries down to the target
// occupancy when the size budget would be exceeded.
func (c *MemoryCache) Set(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	payloadSize := int64(len(payload))
	if payloadSize > c.capacity {
		return ErrItemTooLarge
	}

	// Re-inserting a key counts as a fresh insertion: the old element is
	// dropped so the new one lands at the back of the insertion order.
	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	if c.size+payloadSize > c.capacity {
		c.evictTo(int64(float64(c.capacity) * c.evictTarget))
	}

	entry := &memoryEntry{
		key:        key,
		payload:    payload,
		size:       payloadSize,
		insertedAt: c.now(),
	}
	c.items[key] = c.order.PushBack(entry)
	c.size += payloadSize

	return nil
}

// Delete removes an entry.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Clear drops all entries and resets the hit/miss counters.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.size = 0
	c.hits = 0
	c.misses = 0

	return nil
}

// Stats returns a snapshot of cache metrics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Type:     "memory",
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.size,
		Entries:  int64(len(c.items)),
		Capacity: c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close stops the expiry sweep. Idempotent.
func (c *MemoryCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.sweepWg.Wait()
	return nil
}

// sweepLoop reclaims expired entries independent of read/write traffic, so
// memory is returned even for keys nobody polls again.
func (c *MemoryCache) sweepLoop(interval time.Duration) {
	defer c.sweepWg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	elem := c.order.Front()
	for elem != nil {
		next := elem.Next()
		if c.expired(elem.Value.(*memoryEntry)) {
			c.removeElement(elem)
			removed++
		}
		elem = next
	}
	return removed
}

func (c *MemoryCache) expired(entry *memoryEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.insertedAt) >= c.ttl
}

// evictTo removes oldest-inserted entries until size is at or below target.
// Must be called with the lock held.
func (c *MemoryCache) evictTo(target int64) {
	for c.size > target {
		elem := c.order.Front()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

// removeElement must be called with the lock held.
func (c *MemoryCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.size -= entry.size
}
