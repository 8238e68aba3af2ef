package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/SegaraRai/streamist-sub001/internal/apperror"
	"github.com/SegaraRai/streamist-sub001/internal/logger"
	"github.com/redis/go-redis/v9"
)

var errRateLimited = &apperror.Error{
	Code:       "rate_limit_exceeded",
	Message:    "Too many upload requests. Please try again later",
	StatusCode: http.StatusTooManyRequests,
}

// RedisRateLimiter is a sliding window limiter shared by every API instance.
type RedisRateLimiter struct {
	client *redis.Client
	rate   int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client *redis.Client, rate int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		rate:   rate,
		window: window,
		prefix: "ratelimit:sources:",
		now:    time.Now,
	}
}

// Allow records one request for key and reports whether it fits the window.
// Redis failures allow the request.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	if rl == nil || rl.client == nil || rl.rate <= 0 {
		return true
	}

	now := rl.now().UnixNano()
	windowStart := now - int64(rl.window)
	redisKey := rl.prefix + key

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now), Member: now})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		logger.FromContext(ctx).Warn("rate limiter unavailable", "error", err)
		return true
	}
	return countCmd.Val() <= int64(rl.rate)
}

func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := rl.client.Del(ctx, rl.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// RateLimit limits authenticated users. Requests without a user pass through.
func RateLimit(limiter *RedisRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r.Context())
			if ok && !limiter.Allow(r.Context(), userID) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
				apperror.WriteJSON(w, r, errRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
