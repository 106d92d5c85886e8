package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCache_Snapshot(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	cache := redisadapter.NewCache(client, time.Minute)

	_, ok, err := cache.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	locks := []domain.SeatRef{{TableID: "A-1", SeatNo: 1}, {TableID: "B-2", SeatNo: 10}}
	require.NoError(t, cache.SetSnapshot(ctx, locks))

	got, ok, err := cache.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, locks, got)

	require.NoError(t, cache.InvalidateSnapshot(ctx))
	_, ok, err = cache.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotency_GetSet(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	idem := redisadapter.NewIdempotency(client)

	_, ok, err := idem.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, idem.Set(ctx, "k1", 42, time.Minute))
	id, ok, err := idem.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	ttl, err := client.TTL(ctx, "idemp:k1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
