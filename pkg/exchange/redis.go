package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/redhat-et/obo-delegation-demo/pkg/config"
	"github.com/redhat-et/obo-delegation-demo/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces exchange cache keys
const DefaultKeyPrefix = "obo:exchange:"

// RedisCache shares exchanged tokens between replicas. Entries expire
// through Redis PX; capacity is bounded by the server's maxmemory policy.
// Redis errors degrade to cache misses so an outage only costs extra exchanges.
type RedisCache struct {
	client    redis.UniversalClient
	keyPrefix string
	log       *logger.Logger
}

// storedToken is the JSON value kept under each key
type storedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in,omitempty"`
	Expiry      time.Time `json:"expiry"`
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewRedisCacheWithClient(client, cfg.KeyPrefix, log), nil
}

// NewRedisCacheWithClient wraps a pre-configured client. Used with miniredis in tests.
func NewRedisCacheWithClient(client redis.UniversalClient, keyPrefix string, log *logger.Logger) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log,
	}
}

// redisKey hashes the key so raw bearer tokens never appear in Redis
func (c *RedisCache) redisKey(key Key) string {
	return c.keyPrefix + hashKey(key)
}

// Get implements Cache
func (c *RedisCache) Get(ctx context.Context, key Key) (*oauth2.Token, bool) {
	data, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("Redis get failed, treating as miss", "error", err)
		}
		return nil, false
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		c.log.Warn("Discarding unreadable cache entry", "error", err)
		c.Evict(ctx, key)
		return nil, false
	}

	return &oauth2.Token{
		AccessToken: stored.AccessToken,
		TokenType:   stored.TokenType,
		ExpiresIn:   stored.ExpiresIn,
		Expiry:      stored.Expiry,
	}, true
}

// Put implements Cache
func (c *RedisCache) Put(ctx context.Context, key Key, token *oauth2.Token, ttl time.Duration) {
	if token == nil || ttl <= 0 {
		return
	}

	data, err := json.Marshal(storedToken{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
		Expiry:      token.Expiry,
	})
	if err != nil {
		c.log.Warn("Failed to encode cache entry", "error", err)
		return
	}

	if err := c.client.Set(ctx, c.redisKey(key), data, ttl).Err(); err != nil {
		c.log.Warn("Redis set failed, token not cached", "error", err)
	}
}

// Evict implements Cache
func (c *RedisCache) Evict(ctx context.Context, key Key) {
	if err := c.client.Del(ctx, c.redisKey(key)).Err(); err != nil {
		c.log.Warn("Redis delete failed", "error", err)
	}
}

// Len implements Cache by scanning the key prefix
func (c *RedisCache) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultReadTimeout)
	defer cancel()

	n := 0
	iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		c.log.Warn("Redis scan failed", "error", err)
	}
	return n
}

// Close releases the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}
