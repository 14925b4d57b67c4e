package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	amanerrors "github.com/Aman-CERP/amansearch/internal/errors"
)

// Cache configuration constants.
const (
	// DefaultResultCacheSize is the number of result sets kept in memory.
	DefaultResultCacheSize = 500

	// DefaultResultCacheTTL bounds the lifetime of Redis entries.
	DefaultResultCacheTTL = 10 * time.Minute

	redisKeyPrefix = "amansearch:"
)

// ResultCache stores backend results per index. Every write to an index
// invalidates all of its entries.
type ResultCache interface {
	Get(ctx context.Context, indexID, key string) (*Snapshot, bool)
	Put(ctx context.Context, indexID, key string, s *Snapshot)
	Invalidate(ctx context.Context, indexID string)
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// LRUCache keeps results in memory. Invalidation bumps the index's
// generation so stale entries are never hit and age out.
type LRUCache struct {
	mu          sync.Mutex
	generations map[string]uint64
	cache       *lru.Cache[string, *Snapshot]
}

// NewLRUCache returns an in-memory cache holding up to size entries.
func NewLRUCache(size int) *LRUCache {
	if size <= 0 {
		size = DefaultResultCacheSize
	}
	cache, _ := lru.New[string, *Snapshot](size)
	return &LRUCache{generations: make(map[string]uint64), cache: cache}
}

func (c *LRUCache) key(indexID, key string) string {
	c.mu.Lock()
	gen := c.generations[indexID]
	c.mu.Unlock()
	return fmt.Sprintf("%s|%d|%s", indexID, gen, hashKey(key))
}

func (c *LRUCache) Get(_ context.Context, indexID, key string) (*Snapshot, bool) {
	return c.cache.Get(c.key(indexID, key))
}

func (c *LRUCache) Put(_ context.Context, indexID, key string, s *Snapshot) {
	c.cache.Add(c.key(indexID, key), s)
}

func (c *LRUCache) Invalidate(_ context.Context, indexID string) {
	c.mu.Lock()
	c.generations[indexID]++
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *LRUCache) Len() int { return c.cache.Len() }

// RedisCache shares results between processes. The generation of an
// index is a Redis counter, so invalidation is seen by every process.
// Failures count against a circuit breaker and are treated as misses.
type RedisCache struct {
	client  redis.UniversalClient
	ttl     time.Duration
	breaker *amanerrors.Breaker
	logger  *slog.Logger
}

// NewRedisCache wraps client. A zero ttl uses DefaultResultCacheTTL.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultResultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{
		client:  client,
		ttl:     ttl,
		breaker: amanerrors.NewBreaker("redis-result-cache"),
		logger:  logger,
	}
}

// DialRedis connects to addr and verifies the connection, retrying with
// amanerrors.DefaultBackoff.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ping := func(ctx context.Context) error { return client.Ping(ctx).Err() }
	if err := amanerrors.DefaultBackoff().Do(ctx, ping); err != nil {
		_ = client.Close()
		return nil, amanerrors.New(amanerrors.ErrCodeNetworkUnavailable, fmt.Sprintf("failed to connect to Redis at %s", addr), err)
	}
	return client, nil
}

func (c *RedisCache) generation(ctx context.Context, indexID string) (string, error) {
	gen, err := c.client.Get(ctx, redisKeyPrefix+"gen:"+indexID).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

func (c *RedisCache) entryKey(ctx context.Context, indexID, key string) (string, error) {
	gen, err := c.generation(ctx, indexID)
	if err != nil {
		return "", err
	}
	return redisKeyPrefix + "result:" + indexID + ":" + gen + ":" + hashKey(key), nil
}

func (c *RedisCache) Get(ctx context.Context, indexID, key string) (*Snapshot, bool) {
	var snap *Snapshot
	err := c.breaker.Call(func() error {
		k, err := c.entryKey(ctx, indexID, key)
		if err != nil {
			return err
		}
		data, err := c.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		snap = &s
		return nil
	})
	if err != nil {
		c.logger.Warn("result_cache_get_failed", slog.String("index", indexID), slog.String("error", err.Error()))
		return nil, false
	}
	return snap, snap != nil
}

func (c *RedisCache) Put(ctx context.Context, indexID, key string, s *Snapshot) {
	err := c.breaker.Call(func() error {
		k, err := c.entryKey(ctx, indexID, key)
		if err != nil {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return c.client.Set(ctx, k, data, c.ttl).Err()
	})
	if err != nil {
		c.logger.Warn("result_cache_put_failed", slog.String("index", indexID), slog.String("error", err.Error()))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, indexID string) {
	err := c.breaker.Call(func() error {
		return c.client.Incr(ctx, redisKeyPrefix+"gen:"+indexID).Err()
	})
	if err != nil {
		c.logger.Warn("result_cache_invalidate_failed", slog.String("index", indexID), slog.String("error", err.Error()))
	}
}

// Generation returns the current generation of an index, for status
// output.
func (c *RedisCache) Generation(ctx context.Context, indexID string) (int64, error) {
	gen, err := c.generation(ctx, indexID)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(gen, 10, 64)
}
