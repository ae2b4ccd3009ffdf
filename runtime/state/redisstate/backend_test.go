package redisstate_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/state/redisstate"
)

func newTestBackend(t *testing.T) *redisstate.Backend {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b, err := redisstate.NewBackend(redisstate.Options{Redis: rdb})
	require.NoError(t, err)
	return b
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.Set(ctx, "execution:t1:e1", []byte("payload"), 0))
	v, ok, err := b.Get(ctx, "execution:t1:e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(v))
}

func TestGetMissingKey(t *testing.T) {
	b := newTestBackend(t)
	_, ok, err := b.Get(context.Background(), "execution:t1:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteRemovesKey(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, b.Delete(ctx, "k"))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListKeysFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	require.NoError(t, b.Set(ctx, "execution:t1:e1", []byte("a"), 0))
	require.NoError(t, b.Set(ctx, "execution:t1:e2", []byte("b"), 0))
	require.NoError(t, b.Set(ctx, "session:t1:s1", []byte("c"), 0))

	keys, err := b.ListKeys(ctx, "execution:t1:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"execution:t1:e1", "execution:t1:e2"}, keys)
}

func TestPing(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Ping(context.Background()))
}
