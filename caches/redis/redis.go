// Package redis provides the distributed key/value backend shared by every process:
// the tier-2 search cache and the generation lock both sit on top of it.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// ErrNotReady is returned when the backend is known to be unreachable.
var ErrNotReady = errors.New("redis backend not ready")

// Client wraps a go-redis client with namespacing, statistics and a readiness flag.
type Client struct {
	client    goredis.UniversalClient
	namespace string
	logger    *slog.Logger

	ready atomic.Bool

	// Statistics
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	errors atomic.Int64
}

// Stats holds backend statistics for monitoring.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Sets    int64   `json:"sets"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
	Ready   bool    `json:"ready"`
}

// Config holds configuration for the Redis backend.
type Config struct {
	// Single node configuration
	Addr     string `yaml:"addr"`     // Redis address (e.g., "localhost:6379")
	Password string `yaml:"password"` // Redis password
	DB       int    `yaml:"db"`       // Redis database number

	// Cluster configuration
	ClusterAddrs []string `yaml:"cluster_addrs"`

	// Sentinel configuration
	SentinelAddrs  []string `yaml:"sentinel_addrs"`
	SentinelMaster string   `yaml:"sentinel_master"`

	// Common configuration
	Namespace    string        `yaml:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Namespace:    "dinescout",
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   1,
	}
}

// New creates a Redis client and verifies connectivity.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	var client goredis.UniversalClient

	switch {
	case len(cfg.ClusterAddrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:        cfg.ClusterAddrs,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	case len(cfg.SentinelAddrs) > 0:
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.SentinelMaster,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
		})
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromClient(client, cfg.Namespace, logger), nil
}

// NewFromClient wraps an existing client. The backend starts out ready.
func NewFromClient(client goredis.UniversalClient, namespace string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
	c.ready.Store(true)
	return c
}

// Raw returns the underlying go-redis client.
func (c *Client) Raw() goredis.UniversalClient {
	return c.client
}

// Key adds the namespace prefix to key.
func (c *Client) Key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Ready reports the last observed connection state.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// observe records the outcome of a command and flips readiness on connection failures.
func (c *Client) observe(err error) {
	if err == nil || errors.Is(err, goredis.Nil) {
		if !c.ready.Swap(true) {
			c.logger.Info("redis backend recovered")
		}
		return
	}
	c.errors.Add(1)
	if isConnectionError(err) && c.ready.Swap(false) {
		c.logger.Warn("redis backend unavailable", "error", err)
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var redisErr goredis.Error
	// Server replies (WRONGTYPE, NOSCRIPT, ...) mean the connection itself is fine.
	return !errors.As(err, &redisErr)
}

// Get retrieves a value. Returns nil, nil if the key doesn't exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.Key(key)).Bytes()
	c.observe(err)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.misses.Add(1)
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	c.hits.Add(1)
	return val, nil
}

// GetWithTTL retrieves a value along with its remaining TTL.
func (c *Client) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	prefixedKey := c.Key(key)

	pipe := c.client.Pipeline()
	getCmd := pipe.Get(ctx, prefixedKey)
	ttlCmd := pipe.TTL(ctx, prefixedKey)

	_, err := pipe.Exec(ctx)
	c.observe(err)
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, fmt.Errorf("redis pipeline: %w", err)
	}

	val, err := getCmd.Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			c.misses.Add(1)
			return nil, 0, nil
		}
		return nil, 0, err
	}

	c.hits.Add(1)
	return val, ttlCmd.Val(), nil
}

// SetEX stores value with an expiry (SET key value EX ttl).
func (c *Client) SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis set %q: ttl must be positive", key)
	}
	err := c.client.Set(ctx, c.Key(key), value, ttl).Err()
	c.observe(err)
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	c.sets.Add(1)
	return nil
}

// SetNX sets value only if the key doesn't exist (SET key value EX ttl NX).
func (c *Client) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("redis setnx %q: ttl must be positive", key)
	}
	ok, err := c.client.SetNX(ctx, c.Key(key), value, ttl).Result()
	c.observe(err)
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		c.sets.Add(1)
	}
	return ok, nil
}

// TTL returns the remaining time to live of key.
// Missing keys report -2s and keys without expiry -1s, as Redis does.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, c.Key(key)).Result()
	c.observe(err)
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	return ttl, nil
}

// Del removes key.
func (c *Client) Del(ctx context.Context, key string) error {
	err := c.client.Del(ctx, c.Key(key)).Err()
	c.observe(err)
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var compareAndDeleteScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CompareAndDelete removes key only while it still holds value. It reports whether the
// key was deleted.
func (c *Client) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := c.RunScript(ctx, compareAndDeleteScript, []string{key}, value)
	if err != nil {
		return false, err
	}
	deleted, _ := n.(int64)
	return deleted == 1, nil
}

// RunScript runs a Lua script with namespaced keys.
func (c *Client) RunScript(ctx context.Context, script *goredis.Script, keys []string, args ...any) (any, error) {
	namespaced := make([]string, len(keys))
	for i, k := range keys {
		namespaced[i] = c.Key(k)
	}
	val, err := script.Run(ctx, c.client, namespaced, args...).Result()
	c.observe(err)
	if err != nil {
		return nil, fmt.Errorf("redis script: %w", err)
	}
	return val, nil
}

// Ping checks Redis connectivity and updates readiness.
func (c *Client) Ping(ctx context.Context) error {
	err := c.client.Ping(ctx).Err()
	c.observe(err)
	return err
}

// Monitor pings the backend every interval until ctx is done so that readiness recovers
// without waiting for traffic.
func (c *Client) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			_ = c.Ping(pingCtx)
			cancel()
		}
	}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	c.ready.Store(false)
	return c.client.Close()
}

// Stats returns backend statistics.
func (c *Client) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:    hits,
		Misses:  misses,
		Sets:    c.sets.Load(),
		Errors:  c.errors.Load(),
		HitRate: hitRate,
		Ready:   c.Ready(),
	}
}
