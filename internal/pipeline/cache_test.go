// ABOUTME: Tests for the in-memory result cache: TTL, eviction, isolation.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetReturnsFreshResults(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	defer c.Close()

	ctx := context.Background()
	c.Put(ctx, "key-1", map[string]any{"value": 42})

	got, ok := c.Get(ctx, "key-1")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"value": 42}, got)

	_, ok = c.Get(ctx, "key-2")
	assert.False(t, ok, "unknown keys must miss")
}

func TestMemoryCache_ExpiredEntriesMiss(t *testing.T) {
	c := NewMemoryCache(100*time.Millisecond, 10)
	defer c.Close()

	ctx := context.Background()
	c.Put(ctx, "key-1", map[string]any{"value": 1})

	_, ok := c.Get(ctx, "key-1")
	require.True(t, ok, "fresh entry should hit")

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get(ctx, "key-1")
	assert.False(t, ok, "expired entry should miss")
}

func TestMemoryCache_EvictsOldestAtCapacity(t *testing.T) {
	c := NewMemoryCache(time.Minute, 2)
	defer c.Close()

	ctx := context.Background()
	c.Put(ctx, "key-1", map[string]any{"n": 1})
	c.Put(ctx, "key-2", map[string]any{"n": 2})
	c.Put(ctx, "key-3", map[string]any{"n": 3})

	_, ok := c.Get(ctx, "key-1")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Get(ctx, "key-2")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "key-3")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_PutRefreshesEvictionOrder(t *testing.T) {
	c := NewMemoryCache(time.Minute, 2)
	defer c.Close()

	ctx := context.Background()
	c.Put(ctx, "key-1", map[string]any{"n": 1})
	c.Put(ctx, "key-2", map[string]any{"n": 2})

	// Re-putting key-1 moves it to the back; key-2 is now oldest.
	c.Put(ctx, "key-1", map[string]any{"n": 10})
	c.Put(ctx, "key-3", map[string]any{"n": 3})

	got, ok := c.Get(ctx, "key-1")
	require.True(t, ok, "refreshed entry should survive")
	assert.Equal(t, map[string]any{"n": 10}, got)

	_, ok = c.Get(ctx, "key-2")
	assert.False(t, ok, "stale entry should have been evicted")
}

func TestMemoryCache_GetReturnsACopy(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	defer c.Close()

	ctx := context.Background()
	c.Put(ctx, "key-1", map[string]any{"value": "original"})

	got, ok := c.Get(ctx, "key-1")
	require.True(t, ok)
	got["value"] = "tampered"

	again, ok := c.Get(ctx, "key-1")
	require.True(t, ok)
	assert.Equal(t, "original", again["value"], "callers must not be able to mutate cached results")
}

func TestMemoryCache_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryCache(time.Minute, 10)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
