package service

import (
	"context"
	"errors"
	"time"

	"counter-service/internal/redisclient"
	"counter-service/internal/util"

	"go.uber.org/zap"
)

// cachedLookup serves key from cache, falling back to load and filling the
// cache on success. Cache failures never fail the lookup.
func cachedLookup[T any](ctx context.Context, cache ReferenceCache, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if cache != nil {
		var cached T
		err := cache.GetJSON(ctx, key, &cached)
		if err == nil {
			util.ReferenceCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		util.ReferenceCacheTotal.WithLabelValues("miss").Inc()
		if !errors.Is(err, redisclient.ErrCacheMiss) {
			util.GetLogger().Warn("Reference cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	value, err := load()
	if err != nil {
		return value, err
	}

	if cache != nil {
		if err := cache.SetJSON(ctx, key, value, ttl); err != nil {
			util.GetLogger().Warn("Reference cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return value, nil
}
