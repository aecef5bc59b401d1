// Package ratelimit implements fixed-window request limiting. A window opens
// on the first request for a key and resets only after it fully elapses.
package ratelimit

import (
	"context"
	"time"
)

// Policy allows Max requests per Window. A non-positive Max disables the
// limit.
type Policy struct {
	Window time.Duration
	Max    int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func decide(p Policy, count int, left time.Duration) Decision {
	if count > p.Max {
		return Decision{Allowed: false, RetryAfter: left}
	}
	return Decision{Allowed: true, Remaining: p.Max - count}
}
