package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStorage(t *testing.T) (*miniredis.Miniredis, *RedisStorage) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisStorage(client)
}

func TestRedisStorage(t *testing.T) {
	mr, storage := newRedisStorage(t)

	val, err := storage.Get("rl:missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, storage.Set("rl:user:1:/api", []byte("3"), time.Minute))
	val, err = storage.Get("rl:user:1:/api")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)
	assert.Equal(t, time.Minute, mr.TTL("rl:user:1:/api"))

	require.NoError(t, storage.Set("rl:empty", nil, time.Minute))
	assert.False(t, mr.Exists("rl:empty"))

	require.NoError(t, storage.Delete("rl:user:1:/api"))
	val, err = storage.Get("rl:user:1:/api")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, storage.Set("rl:ip:1.2.3.4:/api", []byte("1"), 0))
	require.NoError(t, mr.Set("featureforge:email_stats", "keep"))
	require.NoError(t, storage.Reset())
	assert.False(t, mr.Exists("rl:ip:1.2.3.4:/api"))
	assert.True(t, mr.Exists("featureforge:email_stats"))
	require.NoError(t, storage.Close())
}

func TestRedisStorageKeysExpire(t *testing.T) {
	mr, storage := newRedisStorage(t)

	require.NoError(t, storage.Set("rl:user:2:/api", []byte("1"), time.Minute))
	mr.FastForward(time.Minute)

	val, err := storage.Get("rl:user:2:/api")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRateLimiterSharesCountsThroughRedis(t *testing.T) {
	mr, storage := newRedisStorage(t)

	newApp := func() *fiber.App {
		app := fiber.New()
		app.Use(RateLimiter(2, storage))
		app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })
		return app
	}
	first, second := newApp(), newApp()

	resp, err := first.Test(httptest.NewRequest(http.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, err = second.Test(httptest.NewRequest(http.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = first.Test(httptest.NewRequest(http.MethodGet, "/ping", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	var limited bool
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "rl:ip:") {
			limited = true
		}
	}
	assert.True(t, limited, "limiter state lives in redis")
}
