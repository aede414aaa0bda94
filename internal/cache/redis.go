// Package cache holds small Redis-backed read caches.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"famlocator.app/internal/obs"
)

// JSON caches one JSON-encoded value under a fixed key. Every Invalidate bumps
// a generation counter stored next to the value; SetIfGeneration refuses to
// store a value computed before the latest Invalidate. Redis errors degrade
// to cache misses.
type JSON[T any] struct {
	client redis.UniversalClient
	key    string
	genKey string
	ttl    time.Duration
}

// NewJSON returns a cache for key with the given expiry.
func NewJSON[T any](client redis.UniversalClient, key string, ttl time.Duration) *JSON[T] {
	return &JSON[T]{client: client, key: key, genKey: key + ":gen", ttl: ttl}
}

func (c *JSON[T]) Get(ctx context.Context) (T, bool) {
	var zero T
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			obs.Logger().Debug("cache get failed", zap.String("key", c.key), zap.Error(err))
		}
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// Generation reads the current generation. Read it before loading the value
// to cache. ok is false when Redis is unavailable.
func (c *JSON[T]) Generation(ctx context.Context) (int64, bool) {
	gen, err := c.client.Get(ctx, c.genKey).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		obs.Logger().Debug("cache generation failed", zap.String("key", c.genKey), zap.Error(err))
		return 0, false
	}
	return gen, true
}

// SetIfGeneration stores v unless the generation moved past gen.
func (c *JSON[T]) SetIfGeneration(ctx context.Context, gen int64, v T) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, c.genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key, raw, c.ttl)
			return nil
		})
		return err
	}, c.genKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		obs.Logger().Debug("cache set failed", zap.String("key", c.key), zap.Error(err))
	}
}

func (c *JSON[T]) Invalidate(ctx context.Context) {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey)
		pipe.Del(ctx, c.key)
		return nil
	})
	if err != nil {
		obs.Logger().Debug("cache invalidate failed", zap.String("key", c.key), zap.Error(err))
	}
}
