package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const deliveryKeyPrefix = "intake:webhook:delivery:"

// DeliveryDeduper claims webhook delivery ids so a redelivered event is
// processed once. A delivery that fails is released so a retry is processed.
type DeliveryDeduper interface {
	// Claim returns false when the delivery was already claimed.
	Claim(ctx context.Context, deliveryID string) (bool, error)
	Release(ctx context.Context, deliveryID string) error
}

// RedisDeduper claims deliveries with SET NX and a TTL.
type RedisDeduper struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisDeduper(client redis.Cmdable, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, deliveryID string) (bool, error) {
	ok, err := d.client.SetNX(ctx, deliveryKeyPrefix+deliveryID, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", deliveryID, err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, deliveryID string) error {
	if err := d.client.Del(ctx, deliveryKeyPrefix+deliveryID).Err(); err != nil {
		return fmt.Errorf("release delivery %s: %w", deliveryID, err)
	}
	return nil
}

// MemoryDeduper is the single-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu     sync.Mutex
	claims map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDeduper{claims: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, deliveryID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for id, exp := range d.claims {
		if !now.Before(exp) {
			delete(d.claims, id)
		}
	}
	if _, ok := d.claims[deliveryID]; ok {
		return false, nil
	}
	d.claims[deliveryID] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, deliveryID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, deliveryID)
	return nil
}
