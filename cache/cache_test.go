package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpc/config"
)

func exerciseCache(t *testing.T, c Cache) {
	ctx := context.Background()

	_, err := c.Get(ctx, CompareKey(1))
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, CompareKey(1), []byte(`{"offers":[]}`), time.Minute))
	got, err := c.Get(ctx, CompareKey(1))
	require.NoError(t, err)
	assert.JSONEq(t, `{"offers":[]}`, string(got))

	require.NoError(t, c.Set(ctx, CompareKey(2), []byte("short"), time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, err = c.Get(ctx, CompareKey(2))
	assert.ErrorIs(t, err, ErrMiss, "expired entries are misses")

	require.NoError(t, c.Flush(ctx))
	_, err = c.Get(ctx, CompareKey(1))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()
	exerciseCache(t, c)
	assert.Equal(t, 0, c.Size())
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	v := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", v, time.Minute))
	v[0] = 'x'
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("KPC_REDIS_URL")
	if url == "" {
		t.Skip("KPC_REDIS_URL not set")
	}
	c, err := NewRedisCache(context.Background(), url, nil)
	require.NoError(t, err)
	defer c.Close()
	exerciseCache(t, c)
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(context.Background(), config.CacheConfig{Type: "memcached"}, nil)
	assert.Error(t, err)

	c, err := New(context.Background(), config.CacheConfig{Type: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, c)
}
