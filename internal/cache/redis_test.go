package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewRedis[[]string](client, "events", time.Minute, zap.NewNop())

	c.Set(ctx, "road", []string{"a", "b"})
	v, ok := c.Get(ctx, "road")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, v)

	mr.FastForward(time.Minute + time.Second)
	_, ok = c.Get(ctx, "road")
	assert.False(t, ok)
}

func TestRedisCacheClearAllOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	events := NewRedis[string](client, "events", time.Minute, zap.NewNop())
	regs := NewRedis[string](client, "registrations", time.Minute, zap.NewNop())

	events.Set(ctx, "road", "1")
	events.Set(ctx, "cx", "2")
	regs.Set(ctx, "road", "3")

	events.Clear(ctx, "road")
	_, ok := events.Get(ctx, "road")
	assert.False(t, ok)

	events.ClearAll(ctx)
	_, ok = events.Get(ctx, "cx")
	assert.False(t, ok)

	v, ok := regs.Get(ctx, "road")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
	assert.True(t, mr.Exists("registrations:road"))
}

func TestRedisCacheUndecodableIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	c := NewRedis[[]string](client, "events", time.Minute, zap.NewNop())

	require.NoError(t, mr.Set("events:road", "not-json"))
	_, ok := c.Get(ctx, "road")
	assert.False(t, ok)
	assert.False(t, mr.Exists("events:road"))
}
