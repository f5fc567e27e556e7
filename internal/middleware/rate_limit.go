package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"orders-service/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const rateLimitWindow = time.Minute

// Limiter counts requests per key within a fixed window.
type Limiter interface {
	// Allow records one request for key and returns how many remain in the window.
	// A negative remaining count means the request is over the limit.
	Allow(ctx context.Context, key string) (remaining int, retryAfter time.Duration, err error)
}

// RedisLimiter is a fixed-window counter stored in Redis, shared by every replica.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a limiter allowing limit requests per minute per key.
func NewRedisLimiter(client *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: rateLimitWindow,
		prefix: "orders:ratelimit:",
	}
}

// Limit returns the number of requests allowed per window.
func (l *RedisLimiter) Limit() int {
	return l.limit
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (int, time.Duration, error) {
	redisKey := l.prefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// The first hit of a window sets the expiry; later hits leave it alone.
	pipe.ExpireNX(ctx, redisKey, l.window)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("failed to count request: %w", err)
	}

	count := int(incr.Val())
	retryAfter := ttl.Val()
	if retryAfter < 0 {
		retryAfter = l.window
	}

	return l.limit - count, retryAfter, nil
}

// RateLimit rejects callers that exceed their per-minute budget. Callers are keyed
// by API key when present, otherwise by remote IP. Limiter failures let the
// request through.
func RateLimit(limiter Limiter, limit int, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key := clientKey(r)

			remaining, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error().Err(err).Str("path", r.URL.Path).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))

			if remaining < 0 {
				seconds := int(retryAfter.Round(time.Second).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(seconds, 1)))
				logger.Warn().Str("path", r.URL.Path).Msg("rate limit exceeded")
				writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many requests, retry later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return "key:" + apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
