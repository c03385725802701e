package ratelimit

import "context"

// RateLimiter caps outbound provider traffic per delivery channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// Unlimited is a pass-through limiter for tests and deployments without redis.
type Unlimited struct{}

func (Unlimited) Allow(ctx context.Context, channel string) (bool, error) { return true, nil }
func (Unlimited) Wait(ctx context.Context, channel string) error          { return nil }
