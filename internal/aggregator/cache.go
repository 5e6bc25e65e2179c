// EnvelopeCache caches the one five-scale trend Envelope the API
// serves, keyed and TTL'd for that specific purpose rather than
// exposed as a generic string KV store. Adapted from
// wisefido-card-aggregator/internal/aggregator/kv.go's Redis
// get/set-with-ttl wrapper: that type passed opaque strings through
// to the caller to marshal; here the marshal/unmarshal and the
// envelope's cache key and TTL live on the cache type itself, since
// an Envelope is the only thing this cache ever holds.
package aggregator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	envelopeCacheKey = "vitalguard:trends:envelope"
	envelopeCacheTTL = 5 * time.Second
)

// EnvelopeCache loads and stores the cached trend Envelope.
type EnvelopeCache interface {
	Load(ctx context.Context) (Envelope, bool)
	Store(ctx context.Context, env Envelope)
}

// RedisEnvelopeCache implements EnvelopeCache over go-redis.
type RedisEnvelopeCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisClient constructs the go-redis client used by RedisEnvelopeCache.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisEnvelopeCache wraps an existing client.
func NewRedisEnvelopeCache(client *redis.Client, logger *zap.Logger) *RedisEnvelopeCache {
	return &RedisEnvelopeCache{client: client, logger: logger}
}

// Load returns the cached envelope and true if a fresh entry exists.
func (c *RedisEnvelopeCache) Load(ctx context.Context) (Envelope, bool) {
	raw, err := c.client.Get(ctx, envelopeCacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("trend cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		c.logger.Warn("trend cache entry corrupt, ignoring", zap.Error(err))
		return nil, false
	}
	return env, true
}

// Store writes env under the fixed envelope key with the fixed TTL.
func (c *RedisEnvelopeCache) Store(ctx context.Context, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn("trend cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, envelopeCacheKey, payload, envelopeCacheTTL).Err(); err != nil {
		c.logger.Warn("trend cache write failed", zap.Error(err))
	}
}
