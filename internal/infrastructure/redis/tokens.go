package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

// TokenRepo persists issued token pairs and the last-login marker. All three
// writes for a login travel in one pipeline; during batch processing the
// repo queues onto a caller-owned pipeline so a whole batch flushes in a
// single round trip.
type TokenRepo struct {
	rdb        redis.UniversalClient
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenRepo(rdb redis.UniversalClient, accessTTL, refreshTTL time.Duration) *TokenRepo {
	return &TokenRepo{rdb: rdb, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// QueueSave appends the token-pair writes to pipe without executing it.
func (r *TokenRepo) QueueSave(ctx context.Context, pipe redis.Pipeliner, userID, deviceID string, pair *domain.TokenPair) {
	pipe.Set(ctx, tokenKey(userID), pair.AccessToken, r.accessTTL)
	pipe.Set(ctx, refreshTokenKey(userID), pair.RefreshToken, r.refreshTTL)
	pipe.HSet(ctx, loginKey(userID), map[string]any{
		"last_login":  time.Now().UTC().Format(time.RFC3339),
		"last_device": deviceID,
	})
}

// Save persists a token pair immediately, one pipeline per call.
func (r *TokenRepo) Save(ctx context.Context, userID, deviceID string, pair *domain.TokenPair) error {
	pipe := r.rdb.Pipeline()
	r.QueueSave(ctx, pipe, userID, deviceID, pair)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("token save: %w", domain.ErrDownstream)
	}
	return nil
}

// GetAccess returns the live access token for userID, or domain.ErrNotFound
// once it has expired or was revoked.
func (r *TokenRepo) GetAccess(ctx context.Context, userID string) (string, error) {
	token, err := r.rdb.Get(ctx, tokenKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("token lookup: %w", domain.ErrDownstream)
	}
	return token, nil
}

// GetRefresh returns the live refresh token for userID.
func (r *TokenRepo) GetRefresh(ctx context.Context, userID string) (string, error) {
	token, err := r.rdb.Get(ctx, refreshTokenKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("refresh token lookup: %w", domain.ErrDownstream)
	}
	return token, nil
}

// Delete revokes both tokens for userID. Logout is idempotent; deleting
// already-expired keys is not an error.
func (r *TokenRepo) Delete(ctx context.Context, userID string) error {
	if err := r.rdb.Del(ctx, tokenKey(userID), refreshTokenKey(userID)).Err(); err != nil {
		return fmt.Errorf("token delete: %w", domain.ErrDownstream)
	}
	return nil
}
