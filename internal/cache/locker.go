package cache

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrLockHeld is returned when another replica owns the lock
var ErrLockHeld = errors.New("lock held by another owner")

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a gocron distributed locker backed by Redis SET NX
type Locker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ gocron.Locker = (*Locker)(nil)

// NewLocker creates a locker. Locks expire after ttl so a crashed owner
// cannot block a job forever.
func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// Lock acquires key or returns ErrLockHeld
func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	token := uuid.NewString()
	name := l.prefix + key
	ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to acquire lock")
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisLock{client: l.client, key: name, token: token}, nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

// Unlock releases the lock only if it is still ours
func (l *redisLock) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "failed to release lock")
	}
	return nil
}
