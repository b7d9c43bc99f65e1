//go:build integration

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intake/internal/platform/config"
	"intake/internal/platform/redis"
	"intake/pkg/testutil/containers"
)

func TestRedisDeduper(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	client, err := redis.New(ctx, config.RedisConfig{URL: rc.URL})
	require.NoError(t, err)
	defer client.Close()

	d := NewRedisDeduper(client, time.Minute)

	ok, err := d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	require.False(t, ok)

	ttl, err := client.TTL(ctx, deliveryKeyPrefix+"delivery-1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	require.NoError(t, d.Release(ctx, "delivery-1"))
	ok, err = d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	require.True(t, ok)
}
