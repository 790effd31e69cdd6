package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a per-requester trigger lock backed by Redis. While an entry
// exists for a key, new triggers from that requester are rejected. Entries
// expire on their own; Release removes one early (done only on success so a
// failed attempt still pays the full window).
type Limiter struct {
	rdb    *redis.Client
	prefix string
	window time.Duration
}

func New(rdb *redis.Client, prefix string, window time.Duration) *Limiter {
	if prefix == "" {
		prefix = "jdbot:login:user:"
	}
	if window <= 0 {
		window = 3 * time.Minute
	}
	return &Limiter{rdb: rdb, prefix: prefix, window: window}
}

// TryAcquire returns true if no unexpired entry existed for key and one was
// created with the configured TTL.
func (l *Limiter) TryAcquire(ctx context.Context, key string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, 1, l.window).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit acquire: %w", err)
	}
	return ok, nil
}

func (l *Limiter) Release(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit release: %w", err)
	}
	return nil
}
