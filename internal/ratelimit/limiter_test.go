package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg)
	clock := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestAllowConsumesCapacity(t *testing.T) {
	l, _ := newTestLimiter(Config{Capacity: 30, RefillPerSecond: 0.5, IdleTTL: 10 * time.Minute})

	for i := 0; i < 30; i++ {
		require.True(t, l.Allow("digest-a"), "request %d should be within capacity", i+1)
	}
	assert.False(t, l.Allow("digest-a"), "31st immediate request must be rejected")
}

func TestRefillBoundary(t *testing.T) {
	l, clock := newTestLimiter(Config{Capacity: 30, RefillPerSecond: 0.5, IdleTTL: 10 * time.Minute})

	for i := 0; i < 30; i++ {
		require.True(t, l.Allow("k"))
	}
	require.False(t, l.Allow("k"))

	// 1.998s * 0.5/s = 0.999 tokens: still denied.
	*clock = clock.Add(1998 * time.Millisecond)
	assert.False(t, l.Allow("k"), "0.999 tokens must not satisfy a consume")

	// 2ms more brings the bucket to exactly 1.0 tokens.
	*clock = clock.Add(2 * time.Millisecond)
	assert.True(t, l.Allow("k"), "exactly 1.0 tokens must satisfy a consume")
	assert.False(t, l.Allow("k"))
}

func TestBucketsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(DefaultConfig())

	for i := 0; i < 30; i++ {
		require.True(t, l.Allow("agent-1"))
	}
	assert.False(t, l.Allow("agent-1"))
	assert.True(t, l.Allow("agent-2"), "a different digest gets its own bucket")
}

func TestReapIdle(t *testing.T) {
	l, clock := newTestLimiter(DefaultConfig())

	require.True(t, l.Allow("old"))
	*clock = clock.Add(5 * time.Minute)
	require.True(t, l.Allow("fresh"))

	*clock = clock.Add(6 * time.Minute) // "old" idle 11m, "fresh" idle 6m
	reaped := l.reapIdle(*clock)

	assert.Equal(t, 1, reaped)
	stats := l.Stats()
	assert.Equal(t, 1, stats["active_buckets"])
}

func TestMiddlewareReturns429(t *testing.T) {
	l, _ := newTestLimiter(Config{Capacity: 1, RefillPerSecond: 0.5, IdleTTL: 10 * time.Minute})

	handler := l.Middleware(
		func(r *http.Request) string { return r.Header.Get("X-Key") },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/discovery", nil)
	req.Header.Set("X-Key", "d1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	l, _ := newTestLimiter(Config{Capacity: 1, RefillPerSecond: 0.5, IdleTTL: 10 * time.Minute})

	handler := l.Middleware(
		func(r *http.Request) string { return "" },
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
