package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rate int, window time.Duration) (*RedisRateLimiter, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	rl := NewRedisRateLimiter(client, rate, window)
	rl.now = func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	return rl, &now
}

func TestRedisRateLimiter_Window(t *testing.T) {
	ctx := context.Background()
	rl, now := newTestLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow(ctx, "user-1"), "request %d", i)
	}
	assert.False(t, rl.Allow(ctx, "user-1"))
	assert.True(t, rl.Allow(ctx, "user-2"))

	*now = now.Add(2 * time.Minute)
	assert.True(t, rl.Allow(ctx, "user-1"))
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	rl, _ := newTestLimiter(t, 1, time.Minute)

	assert.True(t, rl.Allow(ctx, "user-1"))
	assert.False(t, rl.Allow(ctx, "user-1"))

	require.NoError(t, rl.Reset(ctx, "user-1"))
	assert.True(t, rl.Allow(ctx, "user-1"))
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer func() { _ = client.Close() }()

	rl := NewRedisRateLimiter(client, 1, time.Minute)
	assert.True(t, rl.Allow(context.Background(), "user-1"))
	assert.True(t, rl.Allow(context.Background(), "user-1"))
}

func TestRateLimitedSourceCreation(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, time.Minute)
	uploads := &fakeUploads{}
	h := NewRouter(&Config{
		Uploads:     uploads,
		JWTSecret:   testJWTSecret,
		RateLimiter: rl,
	})
	body := `{"region":"r","audio":{"filename":"a.flac","fileSize":1}}`

	rec := doRequest(t, h, http.MethodPost, "/api/my/sources/audio", validToken(t), body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/api/my/sources/audio", validToken(t), body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rec).Code)

	// Completion and URL refreshes are not limited.
	rec = doRequest(t, h, http.MethodGet, "/api/my/sources/src-1/files/sf-1/upload-url", validToken(t), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, uploads.calls, 2)
}
