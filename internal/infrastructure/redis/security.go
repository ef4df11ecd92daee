package redisstore

import (
	"context"
	"fmt"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SecurityRepo reads per-user security settings. A missing hash means the
// user never enabled any second factor, which is not an error.
type SecurityRepo struct {
	rdb redis.UniversalClient
}

func NewSecurityRepo(rdb redis.UniversalClient) *SecurityRepo {
	return &SecurityRepo{rdb: rdb}
}

func (r *SecurityRepo) Get(ctx context.Context, userID string) (*domain.SecuritySettings, error) {
	data, err := r.rdb.HGetAll(ctx, securityKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("security settings lookup: %w", domain.ErrDownstream)
	}
	return &domain.SecuritySettings{
		Has2FA:          data["has2FA"] == "true",
		TwoFactorSecret: data["twoFactorSecret"],
	}, nil
}

// Put writes the settings hash. Used by seeding and tests.
func (r *SecurityRepo) Put(ctx context.Context, userID string, s *domain.SecuritySettings) error {
	has := "false"
	if s.Has2FA {
		has = "true"
	}
	err := r.rdb.HSet(ctx, securityKey(userID), map[string]any{
		"has2FA":          has,
		"twoFactorSecret": s.TwoFactorSecret,
	}).Err()
	if err != nil {
		return fmt.Errorf("security settings put: %w", domain.ErrDownstream)
	}
	return nil
}
