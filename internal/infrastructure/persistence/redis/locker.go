package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another instance holds the lock.
var ErrLockHeld = errors.New("lock: already held")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a gocron distributed locker so that only one worker runs each
// scheduled job.
type Locker struct {
	cache *Cache
	ttl   time.Duration
}

var _ gocron.Locker = (*Locker)(nil)

// NewLocker creates a locker. A non-positive ttl uses TTLLock.
func NewLocker(cache *Cache, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = TTLLock
	}
	return &Locker{cache: cache, ttl: ttl}
}

// Lock implements gocron.Locker.
func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := uuid.NewString()
	ok, err := l.cache.Client().SetNX(ctx, LockKey(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &lock{client: l.cache.Client(), key: LockKey(key), token: token}, nil
}

type lock struct {
	client *redis.Client
	key    string
	token  string
}

// Unlock implements gocron.Lock.
func (l *lock) Unlock(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
