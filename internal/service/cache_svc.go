package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache key TTLs.
const (
	ClaimCacheTTL   = 30 * time.Second
	MarketCacheTTL  = 10 * time.Second
	AccountCacheTTL = 30 * time.Second

	localCleanupInterval = time.Minute
)

// CacheService provides a cache-aside layer for claim, market and account
// reads. It uses Redis when configured and reachable, otherwise an
// in-process cache.
type CacheService struct {
	rdb   *redis.Client
	local *gocache.Cache
}

// NewCacheService connects to redisURL. If it is empty or the connection
// fails, the returned CacheService keeps entries in process memory.
func NewCacheService(redisURL string, log zerolog.Logger) *CacheService {
	log = log.With().Str("component", "cache").Logger()
	local := &CacheService{local: gocache.New(ClaimCacheTTL, localCleanupInterval)}
	if redisURL == "" {
		log.Info().Msg("redis: no URL configured, using in-process cache")
		return local
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis: invalid URL, using in-process cache")
		return local
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis: connection failed, using in-process cache")
		_ = rdb.Close()
		return local
	}

	log.Info().Msg("redis: connected, caching enabled")
	return &CacheService{rdb: rdb}
}

// Client returns the underlying Redis client (for health checks). May be nil.
func (c *CacheService) Client() *redis.Client {
	return c.rdb
}

// Backend names the active cache backend.
func (c *CacheService) Backend() string {
	if c.rdb != nil {
		return "redis"
	}
	return "memory"
}

// get returns nil, nil on a miss.
func (c *CacheService) get(ctx context.Context, key string) ([]byte, error) {
	if c.rdb == nil {
		if v, ok := c.local.Get(key); ok {
			return v.([]byte), nil
		}
		return nil, nil
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (c *CacheService) set(ctx context.Context, key string, data any, ttl time.Duration) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if c.rdb == nil {
		c.local.Set(key, b, ttl)
		return nil
	}
	return c.rdb.Set(ctx, key, b, ttl).Err()
}

func (c *CacheService) del(ctx context.Context, key string) error {
	if c.rdb == nil {
		c.local.Delete(key)
		return nil
	}
	return c.rdb.Del(ctx, key).Err()
}

// GetClaim retrieves a cached claim view. Returns nil if not cached.
func (c *CacheService) GetClaim(ctx context.Context, id uint64) ([]byte, error) {
	return c.get(ctx, claimKey(id))
}

func (c *CacheService) SetClaim(ctx context.Context, id uint64, data any) error {
	return c.set(ctx, claimKey(id), data, ClaimCacheTTL)
}

// InvalidateClaim removes a claim from cache (called after votes and resolution).
func (c *CacheService) InvalidateClaim(ctx context.Context, id uint64) error {
	return c.del(ctx, claimKey(id))
}

func (c *CacheService) GetMarket(ctx context.Context, id uint64) ([]byte, error) {
	return c.get(ctx, marketKey(id))
}

func (c *CacheService) SetMarket(ctx context.Context, id uint64, data any) error {
	return c.set(ctx, marketKey(id), data, MarketCacheTTL)
}

func (c *CacheService) InvalidateMarket(ctx context.Context, id uint64) error {
	return c.del(ctx, marketKey(id))
}

func (c *CacheService) GetAccount(ctx context.Context, address string) ([]byte, error) {
	return c.get(ctx, accountKey(address))
}

func (c *CacheService) SetAccount(ctx context.Context, address string, data any) error {
	return c.set(ctx, accountKey(address), data, AccountCacheTTL)
}

func (c *CacheService) InvalidateAccount(ctx context.Context, address string) error {
	return c.del(ctx, accountKey(address))
}

// Close shuts down the Redis connection.
func (c *CacheService) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func claimKey(id uint64) string {
	return fmt.Sprintf("claim:%d", id)
}

func marketKey(id uint64) string {
	return fmt.Sprintf("market:%d", id)
}

func accountKey(address string) string {
	return fmt.Sprintf("account:%s", address)
}
