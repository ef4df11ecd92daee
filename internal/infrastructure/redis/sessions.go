package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionRepo stores the temporary two-factor sessions created when a login
// stalls waiting for a TOTP code. Sessions are keyed by email and expire on
// their own; completing verification deletes them early.
type SessionRepo struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewSessionRepo(rdb redis.UniversalClient, ttl time.Duration) *SessionRepo {
	return &SessionRepo{rdb: rdb, ttl: ttl}
}

func (r *SessionRepo) Put(ctx context.Context, email string, s *domain.TwoFactorSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("two-factor session encode: %w", err)
	}
	if err := r.rdb.Set(ctx, twoFactorKey(email), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("two-factor session store: %w", domain.ErrDownstream)
	}
	return nil
}

// Get returns the pending session, or domain.ErrNotFound once it expired.
func (r *SessionRepo) Get(ctx context.Context, email string) (*domain.TwoFactorSession, error) {
	payload, err := r.rdb.Get(ctx, twoFactorKey(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("two-factor session lookup: %w", domain.ErrDownstream)
	}
	var s domain.TwoFactorSession
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return nil, fmt.Errorf("two-factor session decode: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) Delete(ctx context.Context, email string) error {
	if err := r.rdb.Del(ctx, twoFactorKey(email)).Err(); err != nil {
		return fmt.Errorf("two-factor session delete: %w", domain.ErrDownstream)
	}
	return nil
}
