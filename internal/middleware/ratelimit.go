package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitDetail is the 429 body, shared with clients of the original API.
const rateLimitDetail = "Too many requests. Please try again later."

// RateLimiterConfig holds configuration for the fixed-window rate limiter.
type RateLimiterConfig struct {
	// MaxRequests is the number of requests admitted per window.
	MaxRequests int
	// Window is the fixed window length.
	Window time.Duration
	// RedisURL selects the shared counter store; empty means the
	// per-process in-memory fallback.
	RedisURL string
}

// memWindow tracks the in-memory fallback counter for one client.
type memWindow struct {
	mu    sync.Mutex
	count int
	start time.Time
}

// RateLimiter implements a fixed-window counter keyed by client id. With a
// shared Redis store the window key is floor(now/window) and the counter is
// incremented and expired atomically in a pipeline; without it, a local
// count-and-reset window preserves per-process correctness. Any store error
// fails open.
type RateLimiter struct {
	cfg RateLimiterConfig
	rdb *redis.Client // nil = in-memory fallback

	windows  sync.Map // map[string]*memWindow
	failures atomic.Uint64

	nowFunc func() time.Time
}

// NewRateLimiter creates the limiter, connecting to Redis when configured.
// A Redis that cannot be reached at startup degrades to the in-memory
// store with a warning rather than failing boot.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{cfg: cfg, nowFunc: time.Now}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Warn("invalid REDIS_URL, using in-memory rate limiting", "error", err)
			return rl
		}
		client := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unreachable, using in-memory rate limiting", "error", err)
			_ = client.Close()
			return rl
		}
		rl.rdb = client
		slog.Info("rate limiter connected to redis")
	}

	return rl
}

// Close releases the Redis connection if one is held.
func (rl *RateLimiter) Close() error {
	if rl.rdb != nil {
		return rl.rdb.Close()
	}
	return nil
}

// Failures returns the number of store errors absorbed by the fail-open
// policy.
func (rl *RateLimiter) Failures() uint64 {
	return rl.failures.Load()
}

// Allow reports whether the client identified by key may proceed.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.rdb != nil {
		return rl.allowRedis(ctx, key)
	}
	return rl.allowMemory(key)
}

func (rl *RateLimiter) allowRedis(ctx context.Context, key string) bool {
	now := rl.nowFunc()
	windowSecs := int64(rl.cfg.Window.Seconds())
	if windowSecs <= 0 {
		windowSecs = 60
	}
	windowKey := fmt.Sprintf("rate_limit:%s:%d", key, now.Unix()/windowSecs)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, rl.cfg.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.failures.Add(1)
		slog.Error("rate limit store error, failing open", "error", err)
		return true
	}

	return incr.Val() <= int64(rl.cfg.MaxRequests)
}

func (rl *RateLimiter) allowMemory(key string) bool {
	now := rl.nowFunc()

	val, _ := rl.windows.LoadOrStore(key, &memWindow{})
	w := val.(*memWindow)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.start.IsZero() || now.Sub(w.start) > rl.cfg.Window {
		w.start = now
		w.count = 1
		return true
	}

	if w.count >= rl.cfg.MaxRequests {
		return false
	}
	w.count++
	return true
}

// clientKey derives the limiter key from the request's remote address.
// Unknown addresses share the "unknown" bucket.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

// RateLimit returns middleware enforcing the limiter on each request.
// Rejections return 429 with the canonical detail body and never reach
// downstream work.
func RateLimit(rl *RateLimiter, m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r.Context(), clientKey(r)) {
				if m != nil {
					m.RateLimitRejects.Inc()
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"detail": rateLimitDetail})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
