package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of go-redis client methods used by RedisCache.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisConfig holds connection settings for RedisCache.
type RedisConfig struct {
	Address    string
	Password   string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

// RedisCache shares completed records between service instances. It is a
// lifecycle module: the connection is opened in Start and closed in Stop.
type RedisCache struct {
	name   string
	cfg    RedisConfig
	client RedisClient
	logger modular.Logger
}

// NewRedisCache creates a RedisCache that connects on Start.
func NewRedisCache(name string, cfg RedisConfig) *RedisCache {
	return &RedisCache{name: name, cfg: cfg, logger: noopLogger{}}
}

// NewRedisCacheWithClient creates a RedisCache backed by a pre-built client.
func NewRedisCacheWithClient(name string, cfg RedisConfig, client RedisClient) *RedisCache {
	return &RedisCache{name: name, cfg: cfg, client: client, logger: noopLogger{}}
}

func (r *RedisCache) Name() string { return r.name }

func (r *RedisCache) Init(app modular.Application) error {
	r.logger = app.Logger()
	return nil
}

// Start connects to Redis and verifies the connection with PING.
func (r *RedisCache) Start(ctx context.Context) error {
	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     r.cfg.Address,
		Password: r.cfg.Password,
		DB:       r.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis cache %q: ping %s: %w", r.name, r.cfg.Address, err)
	}
	r.client = client

	r.logger.Info("Redis cache started", "name", r.name, "address", r.cfg.Address)
	return nil
}

// Stop closes the Redis connection.
func (r *RedisCache) Stop(_ context.Context) error {
	if r.client == nil {
		return nil
	}
	r.logger.Info("Redis cache stopped", "name", r.name)
	err := r.client.Close()
	r.client = nil
	return err
}

// Get returns the value stored under key, or ErrCacheMiss.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis cache %q: not started", r.name)
	}
	val, err := r.client.Get(ctx, r.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache %q: get %s: %w", r.name, key, err)
	}
	return val, nil
}

// Set stores value with the default TTL. A zero TTL never expires.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	return r.SetWithTTL(ctx, key, value, r.cfg.DefaultTTL)
}

// SetWithTTL stores value with a specific TTL.
func (r *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis cache %q: not started", r.name)
	}
	if err := r.client.Set(ctx, r.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache %q: set %s: %w", r.name, key, err)
	}
	return nil
}

func (r *RedisCache) prefixed(key string) string {
	return r.cfg.Prefix + key
}

func (r *RedisCache) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: r.name, Description: "Redis record cache", Instance: r},
	}
}

func (r *RedisCache) RequiresServices() []modular.ServiceDependency {
	return nil
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
