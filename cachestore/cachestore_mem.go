package cachestore

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemCacheStore is a size-bounded LRU; entries also expire after the TTL.
type MemCacheStore struct {
	lru *expirable.LRU[string, []byte]
}

var _ CacheStore = (*MemCacheStore)(nil)

func NewMemCacheStore(capacity int, ttl time.Duration) *MemCacheStore {
	return &MemCacheStore{lru: expirable.NewLRU[string, []byte](capacity, nil, ttl)}
}

func (s *MemCacheStore) Get(_ context.Context, name, key string) ([]byte, bool, error) {
	v, ok := s.lru.Get(entryKey(name, key))
	return v, ok, nil
}

func (s *MemCacheStore) Set(_ context.Context, name, key string, val []byte) error {
	s.lru.Add(entryKey(name, key), val)
	return nil
}

func (s *MemCacheStore) Purge(_ context.Context, name, key string) error {
	s.lru.Remove(entryKey(name, key))
	return nil
}

// Len is the number of live entries.
func (s *MemCacheStore) Len() int {
	return s.lru.Len()
}
