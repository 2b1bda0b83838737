package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL bounds how long one session mutation may hold its lock. It
// must outlast the slowest payment capture made under the lock.
const DefaultSessionTTL = 60 * time.Second

// ErrNotConfigured is returned when the locker has no Redis client.
var ErrNotConfigured = errors.New("lock: redis client not configured")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`

// Locker serialises work on a key across API replicas using Redis SET NX.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	SessionTTL   time.Duration
}

// SessionKey is the lock key guarding a browsing session's cart and checkout.
func SessionKey(sessionID string) string {
	return "lock:session:" + sessionID
}

// WithSession runs fn while holding the lock of sessionID.
func (l Locker) WithSession(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	ttl := l.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return l.WithLock(ctx, SessionKey(sessionID), ttl, fn)
}

// WithLock executes fn while holding a lock for key. The lock is released
// when fn returns, error or not. Waiting stops when ctx is done.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return ErrNotConfigured
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if ok {
			defer l.release(key, token)
			return fn(ctx)
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l Locker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.R.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unknown command") {
			_ = l.R.Del(ctx, key).Err()
		}
	}
}
