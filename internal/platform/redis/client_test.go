package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/internal/platform/config"
)

func TestOptions(t *testing.T) {
	opts, err := options(config.RedisConfig{
		URL:          "redis://:secret@cache.internal:6380/2",
		PoolSize:     20,
		MinIdleConns: 3,
		ReadTimeout:  time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)
	assert.Equal(t, 3, opts.MinIdleConns)
	assert.Equal(t, time.Second, opts.ReadTimeout)
	assert.Zero(t, opts.WriteTimeout, "unset values keep the client default")
}

func TestOptionsRejectsBadURL(t *testing.T) {
	_, err := options(config.RedisConfig{URL: "memcached://nope"})
	assert.Error(t, err)
}

func TestNewWithoutURL(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	assert.NoError(t, err)
	assert.Nil(t, c)
}
