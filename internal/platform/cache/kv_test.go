package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisKV(client)
}

func TestRedisKV_GetSet(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "wards:all")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "wards:all", `[{"name":"General-A"}]`, time.Minute))
	val, err := kv.Get(ctx, "wards:all")
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"General-A"}]`, val)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "wards:all")
	assert.ErrorIs(t, err, ErrMiss, "entry should expire after its ttl")
}

func TestRedisKV_DeletePattern(t *testing.T) {
	mr, kv := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "wards:all", "a", 0))
	require.NoError(t, kv.Set(ctx, "wards:dept:1", "b", 0))
	require.NoError(t, kv.Set(ctx, "other:key", "c", 0))

	require.NoError(t, DeletePattern(ctx, kv, "wards:*"))

	assert.False(t, mr.Exists("wards:all"))
	assert.False(t, mr.Exists("wards:dept:1"))
	assert.True(t, mr.Exists("other:key"))
}

func TestRedisKV_DelNoKeys(t *testing.T) {
	_, kv := setupTestRedis(t)
	assert.NoError(t, kv.Del(context.Background()))
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer c.Close()

	_, err = NewRedisClient(context.Background(), "://bad")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var kv KV = Noop{}
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.NoError(t, DeletePattern(ctx, kv, "*"))
}
