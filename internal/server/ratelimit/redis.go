package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCounter is the subset of *redis.Client the limiter needs.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Redis shares counters between replicas. Keys live under prefix and expire
// with their window.
type Redis struct {
	client redisCounter
	prefix string
	policy Policy
}

func NewRedis(client redisCounter, prefix string, p Policy) *Redis {
	return &Redis{client: client, prefix: prefix, policy: p}
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	if r.policy.Max <= 0 {
		return Decision{Allowed: true}, nil
	}
	k := r.prefix + ":" + key

	n, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := r.client.PExpire(ctx, k, r.policy.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis pexpire: %w", err)
		}
	}

	left, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("redis pttl: %w", err)
	}
	if left < 0 {
		// The key lost its expiry (e.g. the PEXPIRE after the first INCR
		// never ran); restart the window rather than block forever.
		if err := r.client.PExpire(ctx, k, r.policy.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("redis pexpire: %w", err)
		}
		left = r.policy.Window
	}
	return decide(r.policy, int(n), left), nil
}
