package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/pkg/id"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it, so a
// holder that overran its TTL cannot release someone else's acquisition.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock is a single-instance distributed lock used by maintenance jobs that
// must not run concurrently across workers. It is deliberately kept off the
// login hot path.
type Lock struct {
	rdb   redis.UniversalClient
	name  string
	ttl   time.Duration
	token string
}

func NewLock(rdb redis.UniversalClient, name string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, name: name, ttl: ttl, token: id.NewCorrelationID()}
}

// Acquire attempts to take the lock once. It returns domain.ErrConflict when
// another holder owns it.
func (l *Lock) Acquire(ctx context.Context) error {
	ok, err := l.rdb.SetNX(ctx, lockKey(l.name), l.token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("lock acquire: %w", domain.ErrDownstream)
	}
	if !ok {
		return domain.ErrConflict
	}
	return nil
}

// Release frees the lock if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{lockKey(l.name)}, l.token).Err(); err != nil {
		return fmt.Errorf("lock release: %w", domain.ErrDownstream)
	}
	return nil
}
