package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "translate:"

// ErrCacheMiss is returned by a Cache that has no entry for a key.
var ErrCacheMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// CachedTranslator answers repeated requests from the cache. Cache failures
// are logged and fall through to the engine.
type CachedTranslator struct {
	next   Translator
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedTranslator(next Translator, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedTranslator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTranslator{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "translate.cache")),
	}
}

func (c *CachedTranslator) Translate(ctx context.Context, req Request) (string, error) {
	key := cacheKey(req)

	text, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		return text, nil
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("translation cache read failed", zap.String("to", req.To), zap.Error(err))
	}

	text, err = c.next.Translate(ctx, req)
	if err != nil {
		return "", err
	}

	if err := c.cache.Set(ctx, key, text, c.ttl); err != nil {
		c.logger.Warn("translation cache write failed", zap.String("to", req.To), zap.Error(err))
	}
	return text, nil
}

func cacheKey(req Request) string {
	sum := sha256.Sum256([]byte(req.Text))
	return cacheKeyPrefix + req.Format + ":" + req.From + ":" + req.To + ":" + hex.EncodeToString(sum[:])
}
