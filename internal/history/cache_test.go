package history

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_Get(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheWithClient(db)
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		mock.ExpectGet("exledger:history:k1").SetVal(`[{"stamp":"2026-01-10T00:00:00Z"}]`)

		value, found, err := cache.Get(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `[{"stamp":"2026-01-10T00:00:00Z"}]`, string(value))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss is not an error", func(t *testing.T) {
		mock.ExpectGet("exledger:history:k2").RedisNil()

		value, found, err := cache.Get(ctx, "k2")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRedisCache_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheWithClient(db)

	mock.ExpectSet("exledger:history:k1", []byte("[]"), time.Hour).SetVal("OK")
	require.NoError(t, cache.Set(context.Background(), "k1", []byte("[]"), time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_BreakerOpensAfterFailures(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewRedisCacheWithClient(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		mock.ExpectGet("exledger:history:k").SetErr(redis.TxFailedErr)
		_, _, err := cache.Get(ctx, "k")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cache.State())

	// Open breaker fails fast without a redis round trip
	_, _, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.NoError(t, mock.ExpectationsWereMet())
}
