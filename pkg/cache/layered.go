package cache

import (
	"context"
	"time"
)

// LayeredCache is a two-level cache: a small in-process L1 in front of a
// shared L2. Locks always go to L2 since they must be visible across
// processes.
type LayeredCache struct {
	l1 *MemoryCache
	l2 Service
}

func NewLayeredCache(l2 Service, cfg MemoryConfig) *LayeredCache {
	return &LayeredCache{
		l1: NewMemoryCache(cfg),
		l2: l2,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, value, expiration)
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.l1.Get(ctx, key, dest); err == nil {
		return nil
	}

	var raw []byte
	if err := lc.l2.Get(ctx, key, &raw); err != nil {
		return err
	}
	// L2 does not expose the remaining TTL; L1 falls back to its own cap.
	_ = lc.l1.Set(ctx, key, raw, 0)
	return decode(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.l1.DeleteByPattern(ctx, pattern)
	return lc.l2.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.l1.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.l2.Exists(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key, token string) error {
	return lc.l2.Unlock(ctx, key, token)
}

func (lc *LayeredCache) Close() error {
	return lc.l1.Close()
}

// NullCache never stores anything. Every Get is a miss and every lock is
// granted, which makes it suitable for tests that must exercise the slow path.
type NullCache struct{}

func (NullCache) Set(context.Context, string, interface{}, time.Duration) error {
	return nil
}

func (NullCache) Get(context.Context, string, interface{}) error {
	return ErrCacheMiss
}

func (NullCache) Delete(context.Context, ...string) error {
	return nil
}

func (NullCache) DeleteByPattern(context.Context, string) error {
	return nil
}

func (NullCache) Exists(context.Context, ...string) (bool, error) {
	return false, nil
}

func (NullCache) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "null", true, nil
}

func (NullCache) Unlock(context.Context, string, string) error {
	return nil
}
