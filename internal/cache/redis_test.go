package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.RedisAddr = srv.Addr()
	cfg.TTL = ttl

	cache, err := NewRedisCache(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache, srv
}

func TestRedisCache_BasicOperations(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestRedisCache(t, time.Hour)

	key := "test-key"
	payload := []byte("test-audio")

	if err := cache.Set(ctx, key, payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := cache.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("Get missed for existing key")
	}
	if string(got) != string(payload) {
		t.Errorf("payload mismatch: got %q, want %q", got, payload)
	}

	// Keys land under the cache namespace, never bare.
	if !srv.Exists(redisKeyPrefix + key) {
		t.Error("stored key not namespaced under the cache prefix")
	}
	if srv.Exists(key) {
		t.Error("bare key written alongside the namespaced one")
	}

	if err := cache.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, key); ok {
		t.Error("key still present after delete")
	}

	// Deleting an absent key is a no-op, not an error.
	if err := cache.Delete(ctx, key); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestRedisCache_MissingKeyIsMissNotError(t *testing.T) {
	cache, _ := newTestRedisCache(t, time.Hour)

	got, ok, err := cache.Get(context.Background(), "never-set")
	if err != nil {
		t.Fatalf("Get returned error for missing key: %v", err)
	}
	if ok {
		t.Error("missing key reported as a hit")
	}
	if got != nil {
		t.Errorf("missing key returned payload %q", got)
	}
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	ttl := time.Hour
	cache, srv := newTestRedisCache(t, ttl)

	if err := cache.Set(ctx, "key", []byte("payload")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := srv.TTL(redisKeyPrefix + "key"); got != ttl {
		t.Errorf("stored TTL = %v, want %v", got, ttl)
	}

	srv.FastForward(ttl + time.Second)
	if _, ok, _ := cache.Get(ctx, "key"); ok {
		t.Error("entry still a hit past TTL")
	}
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	cache, srv := newTestRedisCache(t, time.Hour)

	cache.Set(ctx, "a", []byte("one"))
	cache.Set(ctx, "b", []byte("two"))
	cache.Get(ctx, "a")
	cache.Get(ctx, "missing")

	// Another application sharing the database.
	srv.Set("session:user42", "opaque")

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	for _, key := range []string{"a", "b"} {
		if _, ok, _ := cache.Get(ctx, key); ok {
			t.Errorf("%s survived Clear", key)
		}
	}
	if !srv.Exists("session:user42") {
		t.Error("Clear removed a key outside the cache namespace")
	}

	// Counters reset with the data. The two verification Gets above ran
	// after the Clear and count as fresh misses.
	stats := cache.Stats()
	if stats.Hits != 0 || stats.Misses != 2 {
		t.Errorf("hits/misses = %d/%d after clear, want 0/2", stats.Hits, stats.Misses)
	}
}

func TestRedisCache_HitRate(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestRedisCache(t, time.Hour)

	cache.Set(ctx, "key", []byte("payload"))
	cache.Get(ctx, "key")    // hit
	cache.Get(ctx, "other")  // miss
	cache.Get(ctx, "key")    // hit
	cache.Get(ctx, "absent") // miss

	stats := cache.Stats()
	if stats.Type != "redis" {
		t.Errorf("Type = %q, want redis", stats.Type)
	}
	if stats.Hits != 2 || stats.Misses != 2 {
		t.Fatalf("hits/misses = %d/%d, want 2/2", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %f, want 0.5", stats.HitRate)
	}
}

func TestRedisCache_UnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"

	if _, err := NewRedisCache(context.Background(), cfg); err == nil {
		t.Fatal("NewRedisCache succeeded against unreachable server")
	}
}
