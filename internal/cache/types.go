package cache

import (
	"context"
	"errors"
	"time"
)

// Common errors for cache operations.
var (
	// ErrItemTooLarge is returned when a payload exceeds the cache size budget.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrUnknownType is returned when the configured cache type is not recognized.
	ErrUnknownType = errors.New("unknown cache type")

	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("cache store is closed")
)

// Store is the contract every cache tier satisfies. The tier is chosen at
// runtime from configuration; callers never depend on a concrete tier.
type Store interface {
	// Get returns the payload for key. A TTL-expired entry is a miss and is
	// removed. The error reports tier I/O failure, not a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the payload under key, evicting oldest-inserted entries
	// first when the size budget would be exceeded.
	Set(ctx context.Context, key string, payload []byte) error

	// Delete removes a single entry. Removing a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear drops all entries and resets hit/miss counters.
	Clear(ctx context.Context) error

	// Stats returns a snapshot of cache performance metrics.
	Stats() Stats

	// Close releases tier resources and stops background work. Idempotent.
	Close() error
}

// Stats holds cache performance metrics.
type Stats struct {
	Type     string  `json:"type"`     // Tier name: memory, disk, redis
	Hits     int64   `json:"hits"`     // Number of cache hits
	Misses   int64   `json:"misses"`   // Number of cache misses
	HitRate  float64 `json:"hit_rate"` // hits / (hits + misses)
	Size     int64   `json:"size"`     // Current size in bytes (0 when the tier cannot track it)
	Entries  int64   `json:"entries"`  // Number of entries
	Capacity int64   `json:"capacity"` // Size budget in bytes
}

// Config holds configuration shared by all cache tiers.
type Config struct {
	Type          string        // memory, disk, or redis
	MaxSizeBytes  int64         // Size budget
	TTL           time.Duration // Entry time-to-live
	SweepInterval time.Duration // Background expiry sweep period
	EvictTarget   float64       // Occupancy fraction after eviction (0,1]

	// Disk tier
	Dir         string // Cache directory
	Compression int    // Zstd level, 0 disables compression

	// Redis tier
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Type:          "memory",
		MaxSizeBytes:  500 * 1024 * 1024,
		TTL:           time.Hour,
		SweepInterval: 5 * time.Minute,
		EvictTarget:   0.8,
		Compression:   3,
	}
}

func (c Config) evictTarget() float64 {
	if c.EvictTarget <= 0 || c.EvictTarget > 1 {
		return 0.8
	}
	return c.EvictTarget
}
