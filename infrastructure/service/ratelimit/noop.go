package ratelimit

import (
	"context"
	"time"
)

// noopRateLimitService implements RateLimitService as a no-op that never
// limits anything. Used when rate limiting is disabled.
type noopRateLimitService struct{}

func (n *noopRateLimitService) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

func (n *noopRateLimitService) Increment(ctx context.Context, key string, window time.Duration) error {
	return nil
}

func (n *noopRateLimitService) Block(ctx context.Context, key string, duration time.Duration, reason string) error {
	return nil
}

func (n *noopRateLimitService) IsBlocked(ctx context.Context, key string) (bool, error) {
	return false, nil
}

func (n *noopRateLimitService) GetAttempts(ctx context.Context, key string) (int, error) {
	return 0, nil
}
