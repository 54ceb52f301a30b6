package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingService struct {
	*MemoryCache
	gets int
}

func (c *countingService) Get(ctx context.Context, key string, dest interface{}) error {
	c.gets++
	return c.MemoryCache.Get(ctx, key, dest)
}

func TestLayeredCache_ReadsThroughOnce(t *testing.T) {
	remote := &countingService{MemoryCache: NewMemoryCache(WithMemoryCleanup(0))}
	lc := NewLayeredCache(remote, WithLayeredMemorySize(10))
	defer lc.Close()
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "k", entry{Name: "n", Value: 2}, 0))

	var got entry
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, "n", got.Name)
	require.NoError(t, lc.Get(ctx, "k", &got))
	assert.Equal(t, 1, remote.gets)

	require.NoError(t, lc.Delete(ctx, "k"))
	assert.ErrorIs(t, lc.Get(ctx, "k", &got), ErrCacheMiss)
}

func TestLayeredCache_WriteThrough(t *testing.T) {
	remote := &countingService{MemoryCache: NewMemoryCache(WithMemoryCleanup(0))}
	lc := NewLayeredCache(remote)
	defer lc.Close()
	ctx := context.Background()

	require.NoError(t, lc.Set(ctx, "k", entry{Name: "w"}, 0))
	var got entry
	require.NoError(t, remote.MemoryCache.Get(ctx, "k", &got))
	assert.Equal(t, "w", got.Name)

	ok, err := lc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
