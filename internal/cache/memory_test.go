package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemoryCache(t *testing.T) *MemoryResultCache {
	t.Helper()
	c := NewMemoryResultCache(time.Minute)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryResultCacheSetGet(t *testing.T) {
	c := newMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "result:chat:en:v1:abc", []byte(`{"text":"hi"}`), time.Minute))

	value, ok, err := c.Get(ctx, "result:chat:en:v1:abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`{"text":"hi"}`), value)
}

func TestMemoryResultCacheMiss(t *testing.T) {
	c := newMemoryCache(t)

	_, ok, err := c.Get(context.Background(), "result:chat:en:v1:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryResultCacheExpiry(t *testing.T) {
	c := newMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entries must not be served")
}

func TestMemoryResultCacheZeroTTLDeletes(t *testing.T) {
	c := newMemoryCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryResultCacheCloseIdempotent(t *testing.T) {
	c := NewMemoryResultCache(time.Minute)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestMemoryResultCacheCopiesValue(t *testing.T) {
	c := newMemoryCache(t)
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, c.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'X'

	value, ok, _ := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("original"), value)
}
