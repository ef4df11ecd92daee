package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AttemptRepo maintains the sliding-window login attempt counters keyed by
// (email, origin IP). Entries are millisecond timestamps in a sorted set;
// lockout is computed over the trailing window, never a calendar bucket.
type AttemptRepo struct {
	rdb    redis.UniversalClient
	window time.Duration
	max    int
}

func NewAttemptRepo(rdb redis.UniversalClient, window time.Duration, maxAttempts int) *AttemptRepo {
	return &AttemptRepo{rdb: rdb, window: window, max: maxAttempts}
}

// CountRecent returns the number of attempts inside the trailing window.
func (r *AttemptRepo) CountRecent(ctx context.Context, email, ip string) (int64, error) {
	cutoff := time.Now().Add(-r.window).UnixMilli()
	count, err := r.rdb.ZCount(ctx, attemptsKey(email, ip), strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("attempt count: %w", domain.ErrDownstream)
	}
	return count, nil
}

// Record adds the current attempt and prunes entries older than the window,
// in one pipeline. Every attempt is recorded, success or failure, so a
// credential-stuffing run cannot stay under the limit by alternating.
func (r *AttemptRepo) Record(ctx context.Context, email, ip string) error {
	now := time.Now().UnixMilli()
	cutoff := now - r.window.Milliseconds()
	key := attemptsKey(email, ip)

	pipe := r.rdb.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("attempt record: %w", domain.ErrDownstream)
	}
	return nil
}

// CheckAndRecord enforces the lockout policy: if the trailing window already
// holds max attempts the caller is locked out before any credential work;
// the attempt is recorded either way.
func (r *AttemptRepo) CheckAndRecord(ctx context.Context, email, ip string) error {
	count, err := r.CountRecent(ctx, email, ip)
	if err != nil {
		return err
	}
	if err := r.Record(ctx, email, ip); err != nil {
		return err
	}
	if count >= int64(r.max) {
		return domain.ErrLocked
	}
	return nil
}
