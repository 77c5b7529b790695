// Package cachestore caches small JSON-encoded values (member display data,
// mostly) with a fixed TTL, backed by process memory or redis.
package cachestore

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMiss is returned by Load when no entry exists (or it expired).
var ErrMiss = errors.New("cache miss")

// CacheStore holds opaque values in named namespaces. Get reports whether an
// entry was found; a miss is not an error.
type CacheStore interface {
	Get(ctx context.Context, name, key string) ([]byte, bool, error)
	Set(ctx context.Context, name, key string, val []byte) error
	Purge(ctx context.Context, name, key string) error
}

// Load decodes the cached value for name/key into out.
func Load(ctx context.Context, s CacheStore, name, key string, out any) error {
	raw, ok, err := s.Get(ctx, name, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMiss
	}
	return json.Unmarshal(raw, out)
}

// Store encodes val and caches it under name/key.
func Store(ctx context.Context, s CacheStore, name, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return s.Set(ctx, name, key, b)
}

func entryKey(name, key string) string {
	return name + "/" + key
}
