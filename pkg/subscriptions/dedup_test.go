package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduper(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	d := NewRedisDeduper(client, time.Hour)

	seen, err := d.Seen(ctx, "WH-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.MarkProcessed(ctx, "WH-1"))
	seen, err = d.Seen(ctx, "WH-1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists("shiftbill:webhook:WH-1"))

	mr.FastForward(2 * time.Hour)
	seen, err = d.Seen(ctx, "WH-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisDeduperUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisDeduper(client, 0).Seen(context.Background(), "WH-1")
	assert.Error(t, err)
}

func TestLRUDeduper(t *testing.T) {
	ctx := context.Background()
	d := NewLRUDeduper(2, time.Hour)

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, d.MarkProcessed(ctx, id))
	}

	seen, _ := d.Seen(ctx, "A")
	assert.False(t, seen, "oldest id is evicted")
	seen, _ = d.Seen(ctx, "C")
	assert.True(t, seen)
}
