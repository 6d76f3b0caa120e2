package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheFetchFloatComputesOnce(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (float64, error) {
		calls++
		return 1234.56, nil
	}

	value, err := cache.FetchFloat(ctx, []string{"ledger", "ap", "doc-1"}, loader)
	require.NoError(t, err)
	require.Equal(t, 1234.56, value)
	require.Equal(t, 1, calls)

	value, err = cache.FetchFloat(ctx, []string{"ledger", "ap", "doc-1"}, loader)
	require.NoError(t, err)
	require.Equal(t, 1234.56, value)
	require.Equal(t, 1, calls)
}

func TestCacheBumpInvalidatesEverything(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (float64, error) {
		calls++
		return float64(calls) * 100, nil
	}

	first, err := cache.FetchFloat(ctx, []string{"ledger", "account", "7"}, loader)
	require.NoError(t, err)
	require.Equal(t, 100.0, first)

	require.NoError(t, cache.Bump(ctx))

	second, err := cache.FetchFloat(ctx, []string{"ledger", "account", "7"}, loader)
	require.NoError(t, err)
	require.Equal(t, 200.0, second)
	require.Equal(t, 2, calls)
}

func TestCacheKeysAreIndependent(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	a, err := cache.FetchFloat(ctx, []string{"ledger", "account", "1"}, func(context.Context) (float64, error) { return 10, nil })
	require.NoError(t, err)
	b, err := cache.FetchFloat(ctx, []string{"ledger", "account", "2"}, func(context.Context) (float64, error) { return 20, nil })
	require.NoError(t, err)
	require.Equal(t, 10.0, a)
	require.Equal(t, 20.0, b)
}

func TestNilCacheFallsThroughToLoader(t *testing.T) {
	var cache *Cache
	value, err := cache.FetchFloat(context.Background(), []string{"x"}, func(context.Context) (float64, error) { return 42, nil })
	require.NoError(t, err)
	require.Equal(t, 42.0, value)
	require.NoError(t, cache.Bump(context.Background()))
}
