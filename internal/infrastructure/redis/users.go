package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// UserRepo resolves identities against the USERS index and the per-user
// profile hashes.
type UserRepo struct {
	rdb redis.UniversalClient
}

func NewUserRepo(rdb redis.UniversalClient) *UserRepo {
	return &UserRepo{rdb: rdb}
}

// GetByEmail resolves email → userId → profile. A missing index entry and a
// missing profile are both reported as domain.ErrNotFound so intake can treat
// unknown users exactly like a wrong password.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	userID, err := r.rdb.HGet(ctx, usersKey, strings.ToLower(email)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("user index lookup: %w", domain.ErrDownstream)
	}
	return r.Get(ctx, userID)
}

// Get loads the USER_DATA_{userId} hash.
func (r *UserRepo) Get(ctx context.Context, userID string) (*domain.User, error) {
	data, err := r.rdb.HGetAll(ctx, userDataKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("user data lookup: %w", domain.ErrDownstream)
	}
	if len(data) == 0 || data["id"] == "" {
		return nil, domain.ErrNotFound
	}
	return &domain.User{
		UserID:       data["id"],
		Email:        data["email"],
		PasswordHash: data["password"],
		Phone:        data["phone"],
	}, nil
}

// Put writes the email index entry and the profile hash. Used by seeding and
// tests; the login pipeline itself only reads users.
func (r *UserRepo) Put(ctx context.Context, u *domain.User) error {
	pipe := r.rdb.Pipeline()
	pipe.HSet(ctx, usersKey, strings.ToLower(u.Email), u.UserID)
	fields := map[string]any{
		"id":       u.UserID,
		"email":    u.Email,
		"password": u.PasswordHash,
	}
	if u.Phone != "" {
		fields["phone"] = u.Phone
	}
	pipe.HSet(ctx, userDataKey(u.UserID), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("user put: %w", domain.ErrDownstream)
	}
	return nil
}
