package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.Allow(ctx, "rl:test", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i)
	}
	ok, err := c.Allow(ctx, "rl:test", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)
	ok, err = c.Allow(ctx, "rl:test", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect("http://nope")
	require.Error(t, err)
}
