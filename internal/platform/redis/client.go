// Package redis connects the shared Redis used for webhook delivery dedupe and
// the submission rate-limit window.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"intake/internal/platform/config"
)

const defaultPingTimeout = 5 * time.Second

// Client is a go-redis client that reports health.
type Client struct {
	*redis.Client
	addr string
}

// New connects and pings. It returns nil, nil when no URL is configured so
// callers fall back to in-process stores.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	c := &Client{Client: redis.NewClient(opts), addr: opts.Addr}
	pingTimeout := cfg.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Health(pingCtx); err != nil {
		_ = c.Client.Close()
		return nil, err
	}
	return c, nil
}

// options parses the URL and layers the non-zero pool and timeout settings
// on top of what the URL carries.
func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	set(&opts.DialTimeout, cfg.DialTimeout)
	set(&opts.ReadTimeout, cfg.ReadTimeout)
	set(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func (c *Client) Health(ctx context.Context) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.addr, err)
	}
	return nil
}
