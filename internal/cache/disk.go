package cache

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DiskCache is the file-per-key cache tier. Payloads survive restarts: an
// index with insertion timestamps is persisted alongside the audio files so
// TTL and eviction decisions carry across sessions. Payloads over 1KB are
// zstd-compressed when that actually shrinks them.
type DiskCache struct {
	basePath    string
	capacity    int64
	ttl         time.Duration
	evictTarget float64

	compression int
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder

	mu      sync.Mutex
	size    int64
	index   map[string]*diskEntry
	hits    int64
	misses  int64
	closed  bool
	stopCh  chan struct{}
	sweepWg sync.WaitGroup

	now func() time.Time
}

type diskEntry struct {
	Key        string
	FilePath   string
	Size       int64 // Size on disk (possibly compressed)
	InsertedAt time.Time
	Compressed bool
}

const diskIndexName = "cache.index"

// NewDiskCache creates a disk cache rooted at cfg.Dir, loading any index
// left by a previous run, and starts the expiry sweep.
func NewDiskCache(cfg Config) (*DiskCache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("disk cache requires a directory")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	c := &DiskCache{
		basePath:    cfg.Dir,
		capacity:    cfg.MaxSizeBytes,
		ttl:         cfg.TTL,
		evictTarget: cfg.evictTarget(),
		compression: cfg.Compression,
		index:       make(map[string]*diskEntry),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}

	if c.compression > 0 {
		var err error
		c.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.compression)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
	}

	if err := c.loadIndex(); err != nil {
		// A corrupt index is not fatal; start over with an empty cache.
		c.index = make(map[string]*diskEntry)
	}
	for _, entry := range c.index {
		c.size += entry.Size
	}

	if cfg.SweepInterval > 0 {
		c.sweepWg.Add(1)
		go c.sweepLoop(cfg.SweepInterval)
	}

	return c, nil
}

// Get retrieves a payload from disk. Expired or unreadable entries are
// treated as misses and removed.
func (c *DiskCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}

	if c.expired(entry) {
		c.removeEntry(entry)
		c.misses++
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		// File missing or unreadable; drop it from the index.
		c.removeEntry(entry)
		c.misses++
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}

	if entry.Compressed && c.decoder != nil {
		decompressed, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			c.removeEntry(entry)
			c.misses++
			return nil, false, fmt.Errorf("decompress cache file: %w", err)
		}
		data = decompressed
	}

	c.hits++
	return data, true, nil
}

// Set writes the payload to disk via an atomic temp-file rename and records
// it in the index.
func (c *DiskCache) Set(_ context.Context, key string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	toWrite := payload
	compressed := false
	if c.encoder != nil && len(payload) > 1024 {
		encoded := c.encoder.EncodeAll(payload, nil)
		if len(encoded) < len(payload) {
			toWrite = encoded
			compressed = true
		}
	}

	diskSize := int64(len(toWrite))
	if diskSize > c.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := c.index[key]; ok {
		c.removeEntry(existing)
	}

	if c.size+diskSize > c.capacity {
		c.evictTo(int64(float64(c.capacity) * c.evictTarget))
	}

	filePath := filepath.Join(c.basePath, key+".audio")
	if err := atomicWrite(filePath, toWrite); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	c.index[key] = &diskEntry{
		Key:        key,
		FilePath:   filePath,
		Size:       diskSize,
		InsertedAt: c.now(),
		Compressed: compressed,
	}
	c.size += diskSize

	return nil
}

// Delete removes an entry and its backing file.
func (c *DiskCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.index[key]; ok {
		c.removeEntry(entry)
	}
	return nil
}

// Clear removes every cache file and resets the counters.
func (c *DiskCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.index {
		os.Remove(entry.FilePath)
	}
	c.index = make(map[string]*diskEntry)
	c.size = 0
	c.hits = 0
	c.misses = 0

	return c.saveIndex()
}

// Stats returns a snapshot of cache metrics.
func (c *DiskCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Type:     "disk",
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.size,
		Entries:  int64(len(c.index)),
		Capacity: c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close stops the sweep and persists the index. Idempotent.
func (c *DiskCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stopCh)
	c.sweepWg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveIndex()
}

func (c *DiskCache) sweepLoop(interval time.Duration) {
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

func (c *DiskCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, entry := range c.index {
		if c.expired(entry) {
			c.removeEntry(entry)
			removed++
		}
	}
	return removed
}

func (c *DiskCache) expired(entry *diskEntry) bool {
	return c.ttl > 0 && c.now().Sub(entry.InsertedAt) >= c.ttl
}

// evictTo removes oldest-inserted entries until size is at or below target.
// Must be called with the lock held.
func (c *DiskCache) evictTo(target int64) {
	for c.size > target && len(c.index) > 0 {
		var oldest *diskEntry
		for _, entry := range c.index {
			if oldest == nil || entry.InsertedAt.Before(oldest.InsertedAt) {
				oldest = entry
			}
		}
		c.removeEntry(oldest)
	}
}

// removeEntry must be called with the lock held.
func (c *DiskCache) removeEntry(entry *diskEntry) {
	os.Remove(entry.FilePath)
	delete(c.index, entry.Key)
	c.size -= entry.Size
}

func (c *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(c.basePath, diskIndexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(&c.index)
}

// saveIndex must be called with the lock held.
func (c *DiskCache) saveIndex() error {
	indexPath := filepath.Join(c.basePath, diskIndexName)
	tempPath := indexPath + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	err = gob.NewEncoder(file).Encode(c.index)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, indexPath)
}

// atomicWrite writes to a temp file and renames it into place so readers
// never observe a half-written payload.
func atomicWrite(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()
	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	return os.Rename(tempPath, path)
}
