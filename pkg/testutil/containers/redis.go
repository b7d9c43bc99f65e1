//go:build integration

package containers

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const defaultRedisImage = "redis:7-alpine"

// Redis is a throwaway Redis server for dedupe and rate limit tests.
type Redis struct {
	URL    string
	Client *redis.Client
}

// NewRedisContainer starts Redis (INTAKE_TEST_REDIS_IMAGE overrides the image)
// and tears it down with the test.
func NewRedisContainer(t *testing.T) *Redis {
	t.Helper()
	ctx := context.Background()

	image := os.Getenv("INTAKE_TEST_REDIS_IMAGE")
	if image == "" {
		image = defaultRedisImage
	}
	ctr, err := tcredis.Run(ctx, image)
	require.NoError(t, err, "start redis")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx)
	require.NoError(t, err, "redis connection string")

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err(), "ping redis")

	return &Redis{URL: url, Client: client}
}
