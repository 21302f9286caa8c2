package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/triago/triago/infrastructure/http/response"
	"github.com/triago/triago/infrastructure/service/logger"
	"github.com/triago/triago/infrastructure/service/ratelimit"
)

type RateLimitMiddleware struct {
	rateLimitService ratelimit.RateLimitService
	logger           logger.Logger
	limit            int
	window           time.Duration
	blockDuration    time.Duration
}

func NewRateLimitMiddleware(svc ratelimit.RateLimitService, log logger.Logger, limit int, window, blockDuration time.Duration) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		rateLimitService: svc,
		logger:           log,
		limit:            limit,
		window:           window,
		blockDuration:    blockDuration,
	}
}

// RateLimit throttles the wrapped handler per client IP.
func (m *RateLimitMiddleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if m.rateLimitService == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := fmt.Sprintf("login:ip:%s", getClientIP(r))

		blocked, err := m.rateLimitService.IsBlocked(ctx, key)
		if err != nil {
			// fail open, the upstream auth still protects the endpoint
			m.logger.Error(ctx, "failed to check block status", err, map[string]interface{}{"key": key})
			next.ServeHTTP(w, r)
			return
		}
		if blocked {
			response.TooManyRequests(w, "Too many attempts, try again later")
			return
		}

		underLimit, err := m.rateLimitService.CheckLimit(ctx, key, m.limit, m.window)
		if err != nil {
			m.logger.Error(ctx, "failed to check rate limit", err, map[string]interface{}{"key": key})
			next.ServeHTTP(w, r)
			return
		}
		if !underLimit {
			_ = m.rateLimitService.Block(ctx, key, m.blockDuration, "login rate limit exceeded")
			response.TooManyRequests(w, "Too many attempts, try again later")
			return
		}

		_ = m.rateLimitService.Increment(ctx, key, m.window)
		next.ServeHTTP(w, r)
	})
}

func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
