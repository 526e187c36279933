package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

func TestRedisClient_Integration(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	c, err := NewRedisClient(ctx, RedisConfig{URL: "redis://" + addr + "/0", Prefix: "test:"})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(ctx))

	_, err = c.Get(ctx, SessionKey("a"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, SessionKey("a"), []byte("payload"), time.Minute))
	require.NoError(t, c.Set(ctx, SessionKey("b"), []byte("payload"), time.Minute))
	require.NoError(t, c.Set(ctx, "keep", []byte("x"), 0))

	got, err := c.Get(ctx, SessionKey("a"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	require.NoError(t, c.DeleteByPrefix(ctx, "session:"))
	_, err = c.Get(ctx, SessionKey("b"))
	assert.ErrorIs(t, err, ErrCacheMiss)

	got, err = c.Get(ctx, "keep")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	require.NoError(t, c.Delete(ctx, "keep"))
	_, err = c.Get(ctx, "keep")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
