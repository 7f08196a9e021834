// Package ratelimit enforces per-agent ingest limits with an in-process
// token bucket keyed by token digest. Capacity is 30 requests with a refill
// of 0.5 tokens/second (30/minute); buckets idle for more than 10 minutes
// are reaped.
package ratelimit

import (
	"log"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config defines the bucket parameters.
type Config struct {
	Capacity        float64 // max tokens per bucket
	RefillPerSecond float64 // tokens added per elapsed second
	IdleTTL         time.Duration
}

// DefaultConfig matches the control-plane ingest policy.
func DefaultConfig() Config {
	return Config{Capacity: 30, RefillPerSecond: 0.5, IdleTTL: 10 * time.Minute}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a mutex-protected map of token buckets. Refill is wall-clock
// arithmetic under the lock; time.Now carries a monotonic reading so
// elapsed-time math is immune to clock steps.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	cfg     Config
	logger  *log.Logger
	now     func() time.Time
	onLimit func()
}

// New creates a limiter and starts its background reaper.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 30
	}
	if cfg.RefillPerSecond <= 0 {
		cfg.RefillPerSecond = 0.5
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	l := &Limiter{
		buckets: make(map[string]*bucket),
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		now:     time.Now,
	}

	go l.reapLoop()

	return l
}

// Allow consumes one token from the bucket for key. A new bucket starts
// full. Returns false when fewer than one whole token is available.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.cfg.Capacity, lastSeen: now}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(l.cfg.Capacity, b.tokens+elapsed*l.cfg.RefillPerSecond)
		}
		b.lastSeen = now
	}

	if b.tokens < 1.0 {
		return false
	}
	b.tokens -= 1.0
	return true
}

// RetryAfter reports how many whole seconds until one token is available
// for key. Used to populate Retry-After on 429 responses.
func (l *Limiter) RetryAfter(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.tokens >= 1.0 {
		return 1
	}
	secs := (1.0 - b.tokens) / l.cfg.RefillPerSecond
	return int(math.Max(1, math.Ceil(secs)))
}

// OnLimit registers a callback fired every time a request is rejected,
// e.g. to bump a metrics counter.
func (l *Limiter) OnLimit(fn func()) {
	l.onLimit = fn
}

// Middleware wraps next with rate limiting. keyFn extracts the bucket key
// from the request (the API layer passes the caller's token digest); an
// empty key skips limiting.
func (l *Limiter) Middleware(keyFn func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFn(r)
		if key != "" && !l.Allow(key) {
			retry := l.RetryAfter(key)
			l.logger.Printf("⚠️ Rate limit exceeded: key=%s... path=%s", shortKey(key), r.URL.Path)
			if l.onLimit != nil {
				l.onLimit()
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after_seconds":` + strconv.Itoa(retry) + `}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"active_buckets":    len(l.buckets),
		"capacity":          l.cfg.Capacity,
		"refill_per_second": l.cfg.RefillPerSecond,
	}
}

func (l *Limiter) reapLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.reapIdle(l.now())
	}
}

// reapIdle removes buckets untouched for longer than IdleTTL.
func (l *Limiter) reapIdle(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	reaped := 0
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, key)
			reaped++
		}
	}
	return reaped
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
