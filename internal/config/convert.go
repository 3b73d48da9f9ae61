package config

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/yomikawa/danmu-tts/internal/cache"
)

// ToCacheConfig maps the cache section onto the store's own config type,
// parsing the human-readable size limit.
func (c *CacheConfig) ToCacheConfig() (cache.Config, error) {
	cfg := cache.DefaultConfig()
	cfg.Type = c.Type
	cfg.TTL = c.TTL
	cfg.SweepInterval = c.SweepInterval
	cfg.Dir = c.Dir
	cfg.Compression = c.Compression
	cfg.RedisAddr = c.RedisAddr
	cfg.RedisPassword = c.RedisPassword
	cfg.RedisDB = c.RedisDB

	if c.MaxSize != "" {
		size, err := humanize.ParseBytes(c.MaxSize)
		if err != nil {
			return cfg, fmt.Errorf("parse cache max_size %q: %w", c.MaxSize, err)
		}
		cfg.MaxSizeBytes = int64(size)
	}
	return cfg, nil
}
