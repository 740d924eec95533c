//go:build integration

package proofgate

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(addr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisLedger(t *testing.T) {
	client := newRedisClient(t)
	testLedger(t, NewRedisLedger(client))
}

func TestRedisLedger_ReservationExpires(t *testing.T) {
	client := newRedisClient(t)
	l := NewRedisLedger(client, WithReservationTTL(time.Second))
	ctx := context.Background()

	ok, err := l.Reserve(ctx, "crashed")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		ok, err := l.Reserve(ctx, "crashed")
		return err == nil && ok
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, l.Commit(ctx, "crashed"))
	ttl, err := client.TTL(ctx, proofKeyPrefix+"crashed").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), ttl)
}
