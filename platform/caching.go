package platform

import (
	"context"
	"errors"
	"log/slog"

	"github.com/fuelcart/vouch/cachestore"
)

const memberCacheName = "member"

// CachingSink wraps a Sink, serving FetchMember from a cache.
type CachingSink struct {
	Sink
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

func NewCachingSink(inner Sink, cache cachestore.CacheStore, logger *slog.Logger) *CachingSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingSink{Sink: inner, Cache: cache, Logger: logger}
}

func (s *CachingSink) FetchMember(ctx context.Context, communityID, memberID string) (*Member, error) {
	key := communityID + "/" + memberID
	var m Member
	err := cachestore.Load(ctx, s.Cache, memberCacheName, key, &m)
	if err == nil {
		return &m, nil
	}
	if !errors.Is(err, cachestore.ErrMiss) {
		// cache trouble is not fatal; fall through to the platform
		s.Logger.Warn("member cache read failed", "key", key, "err", err)
	}

	fresh, err := s.Sink.FetchMember(ctx, communityID, memberID)
	if err != nil {
		return nil, err
	}
	if err := cachestore.Store(ctx, s.Cache, memberCacheName, key, fresh); err != nil {
		s.Logger.Warn("member cache write failed", "key", key, "err", err)
	}
	return fresh, nil
}
