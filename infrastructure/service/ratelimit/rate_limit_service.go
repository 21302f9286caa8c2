// Package ratelimit throttles dashboard login attempts. State lives in
// Redis so multiple replicas share one budget; when disabled, a noop
// implementation keeps the middleware wiring unchanged.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimitService bounds repeated attempts per key.
type RateLimitService interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Increment(ctx context.Context, key string, window time.Duration) error
	Block(ctx context.Context, key string, duration time.Duration, reason string) error
	IsBlocked(ctx context.Context, key string) (bool, error)
	GetAttempts(ctx context.Context, key string) (int, error)
}

type rateLimitService struct {
	redisClient *redis.Client
	logger      *logrus.Logger
}

// RateLimitConfig holds rate limiter construction settings.
type RateLimitConfig struct {
	Enabled       bool
	RedisURL      string
	LoginAttempts int
	LoginWindow   time.Duration
	BlockDuration time.Duration
}

// NewRateLimitService connects to Redis, or returns the noop service when
// rate limiting is disabled.
func NewRateLimitService(config RateLimitConfig, logger *logrus.Logger) (RateLimitService, error) {
	if !config.Enabled {
		logger.Info("Rate limiting disabled")
		return &noopRateLimitService{}, nil
	}

	opt, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"login_attempts": config.LoginAttempts,
		"login_window":   config.LoginWindow,
		"block_duration": config.BlockDuration,
	}).Info("Rate limiting service initialized")

	return &rateLimitService{
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

func (s *rateLimitService) CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	currentCount, err := s.GetAttempts(ctx, key)
	if err != nil {
		return false, err
	}
	return currentCount < limit, nil
}

func (s *rateLimitService) Increment(ctx context.Context, key string, window time.Duration) error {
	pipeline := s.redisClient.Pipeline()
	pipeline.Incr(ctx, key)
	pipeline.Expire(ctx, key, window)

	if _, err := pipeline.Exec(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to increment rate limit counter")
		return fmt.Errorf("failed to increment rate limit: %w", err)
	}
	return nil
}

func (s *rateLimitService) Block(ctx context.Context, key string, duration time.Duration, reason string) error {
	blockKey := fmt.Sprintf("blocked:%s", key)

	pipeline := s.redisClient.Pipeline()
	pipeline.HSet(ctx, blockKey, map[string]interface{}{
		"reason":     reason,
		"blocked_at": time.Now().Unix(),
		"duration":   duration.Seconds(),
	})
	pipeline.Expire(ctx, blockKey, duration)

	if _, err := pipeline.Exec(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to block key")
		return fmt.Errorf("failed to block key: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"key":      key,
		"duration": duration,
		"reason":   reason,
	}).Warn("Key blocked")
	return nil
}

func (s *rateLimitService) IsBlocked(ctx context.Context, key string) (bool, error) {
	blockKey := fmt.Sprintf("blocked:%s", key)
	exists, err := s.redisClient.Exists(ctx, blockKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check block status: %w", err)
	}
	return exists > 0, nil
}

func (s *rateLimitService) GetAttempts(ctx context.Context, key string) (int, error) {
	val, err := s.redisClient.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get attempt count: %w", err)
	}
	return val, nil
}
