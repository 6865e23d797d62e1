package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"direct-booking/internal/logging"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits in its budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisRateLimiter is a fixed-window counter shared by every process using
// the same Redis.
type RedisRateLimiter struct {
	redis  *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(redisClient *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		redis:  redisClient,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:",
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := r.prefix + key

	count, err := r.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if count == 1 {
		if err := r.redis.Expire(ctx, redisKey, r.window).Err(); err != nil {
			return false, fmt.Errorf("rate limit %s: %w", key, err)
		}
	}
	return count <= r.limit, nil
}

// LocalRateLimiter keeps one token bucket per key in process memory.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewLocalRateLimiter allows limit requests per window, refilled evenly.
func NewLocalRateLimiter(limit int, window time.Duration) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Every(window / time.Duration(limit)),
		burst:    limit,
		now:      time.Now,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = l.now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(l.now(), 1), nil
}

// Run drops buckets idle for longer than maxIdle until ctx is done.
func (l *LocalRateLimiter) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(maxIdle)
		case <-ctx.Done():
			return
		}
	}
}

func (l *LocalRateLimiter) cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-maxIdle)
	for key, entry := range l.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(l.limiters, key)
		}
	}
}

// KeyFunc picks the identity a request is counted against.
type KeyFunc func(e *core.RequestEvent) string

// ClientKey counts authenticated users by id and everyone else by IP.
func ClientKey(e *core.RequestEvent) string {
	if e.Auth != nil {
		return "user:" + e.Auth.Id
	}
	return "ip:" + e.RealIP()
}

// Middleware rejects requests over budget with 429. When the limiter itself
// fails the request is let through.
func Middleware(l Limiter, scope string, key KeyFunc) func(e *core.RequestEvent) error {
	if key == nil {
		key = ClientKey
	}
	return func(e *core.RequestEvent) error {
		id := scope + ":" + key(e)
		ok, err := l.Allow(e.Request.Context(), id)
		if err != nil {
			logging.Ctx(e.Request.Context()).Warn().Err(err).Str("key", id).Msg("rate limiter unavailable")
			return e.Next()
		}
		if !ok {
			return apis.NewTooManyRequestsError("Rate limit exceeded. Please try again later.", nil)
		}
		return e.Next()
	}
}

// AntiBot rejects requests whose User-Agent looks like a crawler.
func AntiBot() func(e *core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if isSuspiciousUserAgent(e.Request.Header.Get("User-Agent")) {
			return apis.NewForbiddenError("Access denied", nil)
		}
		return e.Next()
	}
}

func isSuspiciousUserAgent(ua string) bool {
	suspicious := []string{"bot", "crawler", "spider", "scraper"}
	for _, pattern := range suspicious {
		if strings.Contains(strings.ToLower(ua), pattern) {
			return true
		}
	}
	return false
}
