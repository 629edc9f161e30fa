package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Counter is a shared fixed-window counter. Increment adds one to key and
// returns the new value; the key expires after window.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig defines the rate limiting thresholds.
type RateLimitConfig struct {
	MaxCallsPerMinute int `yaml:"per_minute" env:"RATE_LIMIT_PER_MINUTE"`
	BurstSize         int `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// RateLimiter enforces per-caller request limits on the action API.
//
// With a Counter the limit is shared by every instance behind the load
// balancer. Without one, or while the counter is failing, each instance
// keeps its own token buckets, so the effective limit scales with the
// number of instances.
type RateLimiter struct {
	cfg       RateLimitConfig
	counter   Counter
	onLimited func(key string)
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithCounter shares the limit through c.
func WithCounter(c Counter) RateLimitOption {
	return func(rl *RateLimiter) { rl.counter = c }
}

// WithLimitedHook calls fn for every refused request.
func WithLimitedHook(fn func(key string)) RateLimitOption {
	return func(rl *RateLimiter) { rl.onLimited = fn }
}

// NewRateLimiter creates a rate limiter and starts its bucket cleanup.
// Call Stop to end the cleanup goroutine.
func NewRateLimiter(cfg RateLimitConfig, opts ...RateLimitOption) *RateLimiter {
	if cfg.MaxCallsPerMinute <= 0 {
		cfg.MaxCallsPerMinute = 60
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute
	}

	rl := &RateLimiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	go rl.cleanup(5 * time.Minute)
	return rl
}

// Allow reports whether a request from key is within its limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.counter != nil {
		now := rl.now()
		windowKey := "ratelimit:" + key + ":" + strconv.FormatInt(now.Unix()/60, 10)
		n, err := rl.counter.Increment(ctx, windowKey, time.Minute)
		if err == nil {
			return n <= int64(rl.cfg.MaxCallsPerMinute)
		}
		slog.Warn("shared rate limit counter failed, using local limit", "key", key, "error", err)
	}
	return rl.local(key).Allow()
}

func (rl *RateLimiter) local(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(rl.cfg.MaxCallsPerMinute) / 60)
		b = &bucket{limiter: rate.NewLimiter(perSecond, rl.cfg.BurstSize)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// Middleware returns an HTTP middleware that enforces rate limiting per
// caller identity.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := Identity(r)
		if !rl.Allow(r.Context(), key) {
			if rl.onLimited != nil {
				rl.onLimited(key)
			}
			slog.Warn("rate limit exceeded", "caller", key, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// cleanup periodically removes idle buckets to bound memory.
func (rl *RateLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle(2 * time.Minute)
		}
	}
}

func (rl *RateLimiter) evictIdle(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	evicted := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}

// Stats returns current rate limiter statistics.
func (rl *RateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]any{
		"shared":            rl.counter != nil,
		"local_buckets":     len(rl.buckets),
		"max_calls_per_min": rl.cfg.MaxCallsPerMinute,
		"burst_size":        rl.cfg.BurstSize,
	}
}
