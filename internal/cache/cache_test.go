package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCacheRoundTrip(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, srv.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Get(ctx, "absent")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte(`{"v":1}`), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"v":1}`), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestRedisCacheTTLExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	c, err := NewRedisCache(ctx, srv.Addr(), "", 0)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "ttl", []byte("x"), 30*time.Second))

	srv.FastForward(31 * time.Second)

	_, err = c.Get(ctx, "ttl")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	_, err := c.Get(ctx, "absent")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	// Expired entries behave like misses.
	require.NoError(t, c.Set(ctx, "fast", []byte("v"), -time.Second))
	_, err = c.Get(ctx, "fast")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}
