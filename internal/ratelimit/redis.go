package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "intake:ratelimit:"

// RedisStore shares the sliding window across replicas using one sorted set
// per key, scored by request time in nanoseconds.
type RedisStore struct {
	client redis.Cmdable
	now    func() time.Time
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := s.now()
	k := redisKeyPrefix + key
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-window).UnixNano(), 10)

	var count *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: member})
		count = pipe.ZCard(ctx, k)
		oldest = pipe.ZRangeWithScores(ctx, k, 0, 0)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}

	reset := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		reset = time.Unix(0, int64(zs[0].Score)).Add(window)
	}
	n := int(count.Val())
	if n > limit {
		if err := s.client.ZRem(ctx, k, member).Err(); err != nil {
			return nil, fmt.Errorf("rate limit %s: %w", key, err)
		}
		return &Result{Allowed: false, Limit: limit, ResetAt: reset, RetryAfter: reset.Sub(now)}, nil
	}
	return &Result{Allowed: true, Limit: limit, Remaining: limit - n, ResetAt: reset}, nil
}
