package collector

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	store, err := NewRedisStreamStore(ctx, RedisOptions{URL: mr.Addr(), MaxLen: 10})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, DefaultStream, store.Stream())

	require.NoError(t, store.Handle(ctx, frame("WebcastChatMessage", 1, 2, 3)))
	require.NoError(t, store.Handle(ctx, frame("WebcastLikeMessage", 4, 5)))

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	entries, err := client.XRange(ctx, DefaultStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "WebcastChatMessage", entries[0].Values["kind"])
	assert.Equal(t, string([]byte{1, 2, 3}), entries[0].Values["payload"])
	assert.Equal(t, "1700000000000", entries[0].Values["ts"])
	assert.Equal(t, "WebcastLikeMessage", entries[1].Values["kind"])
}

func TestRedisStreamStoreAcceptsURL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	store, err := NewRedisStreamStore(context.Background(), RedisOptions{URL: "redis://" + mr.Addr() + "/0", Stream: "frames:test"})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Handle(context.Background(), frame("k")))
	n, err := redis.NewClient(&redis.Options{Addr: mr.Addr()}).XLen(context.Background(), "frames:test").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStreamStoreErrors(t *testing.T) {
	_, err := NewRedisStreamStore(context.Background(), RedisOptions{})
	assert.Error(t, err)

	_, err = NewRedisStreamStore(context.Background(), RedisOptions{URL: "ftp://nope"})
	assert.Error(t, err)
}
