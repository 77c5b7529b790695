package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vouch-cache/"

// RedisCacheStore keeps entries in redis with a small in-process TinyLFU in
// front, so repeated lookups of one member stay local.
type RedisCacheStore struct {
	c   *cache.Cache
	ttl time.Duration
}

var _ CacheStore = (*RedisCacheStore)(nil)

// NewRedisCacheStore shares an existing client, so the ledger and the cache
// can sit on one connection pool.
func NewRedisCacheStore(rdb *redis.Client, ttl time.Duration) *RedisCacheStore {
	return &RedisCacheStore{
		c: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(1_000, ttl),
		}),
		ttl: ttl,
	}
}

func (s *RedisCacheStore) Get(ctx context.Context, name, key string) ([]byte, bool, error) {
	var val []byte
	err := s.c.Get(ctx, redisKeyPrefix+entryKey(name, key), &val)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisCacheStore) Set(ctx context.Context, name, key string, val []byte) error {
	return s.c.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisKeyPrefix + entryKey(name, key),
		Value: val,
		TTL:   s.ttl,
	})
}

func (s *RedisCacheStore) Purge(ctx context.Context, name, key string) error {
	err := s.c.Delete(ctx, redisKeyPrefix+entryKey(name, key))
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
