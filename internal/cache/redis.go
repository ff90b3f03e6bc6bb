package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wcagai/scanner-go/pkg/config"
	"github.com/wcagai/scanner-go/pkg/errors"
)

// RedisClient wraps the Redis client used by the result cache
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client and verifies the connection
func NewRedisClient(cfg *config.RedisConfig, addr string) (*RedisClient, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	opts := &redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewExternalError("redis", "failed to connect").WithCause(err)
	}

	return &RedisClient{client: client}, nil
}

// Set stores a value with a TTL
func (r *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves a value. Returns redis.Nil when the key does not exist.
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	return r.client.Get(ctx, key).Bytes()
}

// IsMiss reports whether the error is a cache miss
func IsMiss(err error) bool {
	return err == redis.Nil
}

// Ping checks connectivity
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (r *RedisClient) Close() error {
	return r.client.Close()
}
