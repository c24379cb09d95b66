package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolchat/internal/storage"
)

func newCache(t *testing.T) (*Cache, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store, time.Hour, nil), store
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", map[string]any{"results": []string{"a"}}))

	var got map[string][]string
	hit, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, []string{"a"}, got["results"])

	now = now.Add(61 * time.Minute)
	hit, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheMiss(t *testing.T) {
	c, _ := newCache(t)
	var got map[string]any
	hit, err := c.Get(context.Background(), "absent", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCachePrune(t *testing.T) {
	c, store := newCache(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "old", 1))
	now = now.Add(2 * time.Hour)
	require.NoError(t, c.Set(ctx, "new", 2))
	require.NoError(t, store.PutCache(ctx, "junk", []byte("not json")))

	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var v int
	hit, err := c.Get(ctx, "new", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 2, v)
}

func TestKeyIsStableForEqualMaps(t *testing.T) {
	a := Key("search_web", map[string]any{"query": "go", "count": 5})
	b := Key("search_web", map[string]any{"count": 5, "query": "go"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Key("search_files", map[string]any{"query": "go", "count": 5}))
}
