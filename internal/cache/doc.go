// Package cache provides content-addressed storage for synthesized audio
// with TTL expiry and size-bounded eviction, pluggable across in-memory,
// on-disk, and Redis tiers.
package cache
