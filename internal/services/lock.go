package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"direct-booking/internal/logging"
	"direct-booking/monitoring"
	"direct-booking/utils"

	"github.com/redis/go-redis/v9"
)

// Locker serializes work on one key. Different keys never block each other.
// The returned func releases the key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func propertyLockKey(propertyID string) string {
	return fmt.Sprintf("property:%s", propertyID)
}

func bookingLockKey(bookingID string) string {
	return fmt.Sprintf("booking:%s", bookingID)
}

// lockScope is the metric label for a key, its prefix before the colon.
func lockScope(key string) string {
	scope, _, _ := strings.Cut(key, ":")
	return scope
}

// MemoryLocker is an in-process Locker. Each key gets its own one-slot
// semaphore, created on first use and dropped when nobody holds or waits for it.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*keyLock)}
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()

	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
	monitoring.TrackLockWait(lockScope(key), time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			l.release(key, kl)
		})
	}, nil
}

func (l *MemoryLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// held reports how many keys currently have holders or waiters.
func (l *MemoryLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var ErrLockNotHeld = errors.New("lock expired before release")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between processes. A lock is a key set with
// NX and a TTL holding a random token; only the holder of the token may
// delete it.
type RedisLocker struct {
	Redis      *redis.Client
	ttl        time.Duration
	retryMin   time.Duration
	retryMax   time.Duration
	keyPrefix  string
	tokenFunc  func() (string, error)
	releaseTTL time.Duration
}

func NewRedisLocker(redisClient *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		Redis:      redisClient,
		ttl:        ttl,
		retryMin:   10 * time.Millisecond,
		retryMax:   200 * time.Millisecond,
		keyPrefix:  "lock:",
		tokenFunc:  func() (string, error) { return utils.GenerateCode(16) },
		releaseTTL: 2 * time.Second,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	redisKey := l.keyPrefix + key

	token, err := l.tokenFunc()
	if err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}

	wait := l.retryMin
	for {
		ok, err := l.Redis.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		wait *= 2
		if wait > l.retryMax {
			wait = l.retryMax
		}
	}
	monitoring.TrackLockWait(lockScope(key), time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := l.release(redisKey, token); err != nil {
				logging.Warn().Err(err).Str("lock", key).Msg("failed to release lock")
			}
		})
	}, nil
}

// release runs on its own context so that a cancelled request still frees the key.
func (l *RedisLocker) release(redisKey, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.releaseTTL)
	defer cancel()

	n, err := unlockScript.Run(ctx, l.Redis, []string{redisKey}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
