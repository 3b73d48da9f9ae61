package cache

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// New builds the cache tier named by cfg.Type. An unreachable Redis falls
// back to the memory tier with a warning rather than failing startup, since
// the cache is an optimization and never a correctness dependency.
func New(ctx context.Context, cfg Config, logger *log.Logger) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		logger.Info("cache initialized",
			"type", "memory",
			"budget", humanize.IBytes(uint64(cfg.MaxSizeBytes)),
			"ttl", cfg.TTL)
		return NewMemoryCache(cfg), nil

	case "disk":
		store, err := NewDiskCache(cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("cache initialized",
			"type", "disk",
			"dir", cfg.Dir,
			"budget", humanize.IBytes(uint64(cfg.MaxSizeBytes)),
			"ttl", cfg.TTL)
		return store, nil

	case "redis":
		store, err := NewRedisCache(ctx, cfg)
		if err != nil {
			logger.Warn("redis unreachable, falling back to memory cache",
				"addr", cfg.RedisAddr, "err", err)
			return NewMemoryCache(cfg), nil
		}
		logger.Info("cache initialized",
			"type", "redis",
			"addr", cfg.RedisAddr,
			"ttl", cfg.TTL)
		return store, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
}
