package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceCacheNilClientReturnsNil(t *testing.T) {
	assert.Nil(t, NewPriceCache(nil, 10, zerolog.Nop()))
}

func TestNewPriceCacheDefaultsMaxLen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPriceCache(client, 0, zerolog.Nop())
	require.NotNil(t, cache)
	assert.Equal(t, 100, cache.max)
}

func TestPriceCachePushAndRangeRoundTrips(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPriceCache(client, 5, zerolog.Nop())
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		cache.Push(ctx, "TokenX", PriceEvent{
			TokenMint: "TokenX",
			PriceSOL:  float64(i) + 1,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	events, ok := cache.Range(ctx, "TokenX")
	require.True(t, ok)
	require.Len(t, events, 3)
	assert.Equal(t, 1.0, events[0].PriceSOL)
	assert.Equal(t, 3.0, events[2].PriceSOL)
}

func TestPriceCachePushTrimsToMaxLen(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPriceCache(client, 2, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cache.Push(ctx, "TokenX", PriceEvent{TokenMint: "TokenX", PriceSOL: float64(i)})
	}

	events, ok := cache.Range(ctx, "TokenX")
	require.True(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, 3.0, events[0].PriceSOL)
	assert.Equal(t, 4.0, events[1].PriceSOL)
}

func TestPriceCacheRangeMissReturnsFalse(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPriceCache(client, 5, zerolog.Nop())

	_, ok := cache.Range(context.Background(), "NeverPushed")
	assert.False(t, ok)
}

func TestPriceCacheClearRemovesHistory(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewPriceCache(client, 5, zerolog.Nop())
	ctx := context.Background()

	cache.Push(ctx, "TokenX", PriceEvent{TokenMint: "TokenX", PriceSOL: 1})
	cache.Clear(ctx, "TokenX")

	_, ok := cache.Range(ctx, "TokenX")
	assert.False(t, ok)
}
