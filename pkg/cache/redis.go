package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "sensorpull"

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	countScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)
)

type RedisOption func(*redisConfig)

type redisConfig struct {
	opts   redis.Options
	prefix string
}

func WithRedisAddr(addr string) RedisOption {
	return func(c *redisConfig) { c.opts.Addr = addr }
}

func WithRedisAuth(password string, db int) RedisOption {
	return func(c *redisConfig) {
		c.opts.Password = password
		c.opts.DB = db
	}
}

func WithRedisPool(size, minIdle int) RedisOption {
	return func(c *redisConfig) {
		c.opts.PoolSize = size
		c.opts.MinIdleConns = minIdle
	}
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// RedisCache shares state between every process using the same Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects and pings Redis.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	cfg := &redisConfig{
		opts: redis.Options{
			Addr:        "localhost:6379",
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&cfg.opts)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.opts.Addr, err)
	}
	return NewRedisCacheFromClient(client, cfg.prefix), nil
}

// NewRedisCacheFromClient wraps client; the queue shares the same pool.
func NewRedisCacheFromClient(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error) {
	lease := newLease(key)
	ok, err := c.client.SetNX(ctx, c.key(key), lease.Token, ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

func (c *RedisCache) Release(ctx context.Context, lease Lease) error {
	n, err := releaseScript.Run(ctx, c.client, []string{c.key(lease.Key)}, lease.Token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", lease.Key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (c *RedisCache) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := countScript.Run(ctx, c.client, []string{c.key(key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }
