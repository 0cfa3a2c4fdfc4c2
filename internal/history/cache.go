package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Cache stores serialized history responses
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is a Cache on redis guarded by a circuit breaker. While the
// breaker is open every call fails fast and readers go straight to the
// database.
type RedisCache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	prefix  string
}

// NewRedisCache connects to addr. The connection is not verified here; an
// unreachable server only trips the breaker.
func NewRedisCache(addr string, db int) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}))
}

// NewRedisCacheWithClient wraps an existing client
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	settings := gobreaker.Settings{
		Name:        "history-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Cache circuit breaker state changed")
		},
	}
	return &RedisCache{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		prefix:  "exledger:history:",
	}
}

// Get returns the cached value; a miss is not an error
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		val, err := r.client.Get(ctx, r.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	if res == nil {
		return nil, false, nil
	}
	return res.([]byte), true, nil
}

// Set stores value under key for ttl
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.client.Set(ctx, r.prefix+key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// State reports the breaker state
func (r *RedisCache) State() gobreaker.State {
	return r.breaker.State()
}

// Close closes the client
func (r *RedisCache) Close() error {
	return r.client.Close()
}
