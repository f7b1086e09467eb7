package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocal_AllowsBurstThenRejects(t *testing.T) {
	l := NewLocal(Policy{Name: "auth", Limit: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "keys are independent")
}

func TestLocal_RefillsOverWindow(t *testing.T) {
	l := NewLocal(Policy{Name: "resend", Limit: 1, Window: time.Minute})
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "user-1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "user-1")
	assert.False(t, ok)

	now = now.Add(61 * time.Second)
	ok, _ = l.Allow(ctx, "user-1")
	assert.True(t, ok)
}

func TestLocal_CleanupEvictsIdleKeys(t *testing.T) {
	l := NewLocal(Policy{Name: "auth", Limit: 5, Window: time.Minute})
	now := time.Now()
	l.now = func() time.Time { return now }

	_, _ = l.Allow(context.Background(), "a")
	_, _ = l.Allow(context.Background(), "b")
	assert.Equal(t, 2, l.len())

	now = now.Add(2 * time.Minute)
	_, _ = l.Allow(context.Background(), "b")
	l.cleanup()
	assert.Equal(t, 1, l.len())
}

func TestRedis_FixedWindow(t *testing.T) {
	mr, client := newMiniRedis(t)
	l := NewRedis(client, Policy{Name: "auth", Limit: 2, Window: time.Minute}, nil, slog.Default())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	key := keyPrefix + "auth:1.2.3.4"
	assert.True(t, mr.Exists(key))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL(key).Seconds(), 1)

	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_RestoresMissingTTL(t *testing.T) {
	mr, client := newMiniRedis(t)
	l := NewRedis(client, Policy{Name: "resend", Limit: 1, Window: time.Minute}, nil, slog.Default())
	ctx := context.Background()

	key := keyPrefix + "resend:user:u-1"
	require.NoError(t, mr.Set(key, "7"))
	require.Zero(t, mr.TTL(key))

	ok, err := l.Allow(ctx, "user:u-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL(key).Seconds(), 1)

	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "user:u-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedis_HitsDoNotExtendWindow(t *testing.T) {
	mr, client := newMiniRedis(t)
	l := NewRedis(client, Policy{Name: "auth", Limit: 5, Window: time.Minute}, nil, slog.Default())
	ctx := context.Background()
	key := keyPrefix + "auth:1.2.3.4"

	_, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	mr.FastForward(40 * time.Second)
	_, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)

	assert.InDelta(t, (20 * time.Second).Seconds(), mr.TTL(key).Seconds(), 1)
}

func TestRedis_StoreFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	strict := NewRedis(client, Policy{Name: "auth", Limit: 2, Window: time.Minute}, nil, slog.Default())
	_, err = strict.Allow(context.Background(), "k")
	assert.Error(t, err)

	withFallback := NewRedis(client, Policy{Name: "auth", Limit: 2, Window: time.Minute},
		NewLocal(Policy{Name: "auth", Limit: 1, Window: time.Minute}), slog.Default())
	ok, err := withFallback.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = withFallback.Allow(context.Background(), "k")
	assert.False(t, ok)
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("boom") }

func TestMiddleware(t *testing.T) {
	l := NewLocal(Policy{Name: "auth", Limit: 1, Window: time.Hour})
	byHeader := func(r *http.Request) string { return r.Header.Get("X-Key") }
	h := Middleware(l, "auth", byHeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		r.Header.Set("X-Key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("a").Code)

	w := send("a")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)

	// Empty keys are not limited.
	assert.Equal(t, http.StatusOK, send("").Code)
	assert.Equal(t, http.StatusOK, send("").Code)
}

func TestMiddleware_LimiterError(t *testing.T) {
	h := Middleware(errLimiter{}, "auth", func(*http.Request) string { return "k" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
