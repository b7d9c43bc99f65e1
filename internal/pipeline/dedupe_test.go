package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper(time.Hour)
	d.now = func() time.Time { return now }

	first, err := d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	assert.False(t, again, "redelivery must not be claimed twice")

	require.NoError(t, d.Release(ctx, "delivery-1"))
	retried, err := d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	assert.True(t, retried, "released delivery can be claimed again")

	now = now.Add(2 * time.Hour)
	expired, err := d.Claim(ctx, "delivery-1")
	require.NoError(t, err)
	assert.True(t, expired, "claims expire after the ttl")
}
