package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
)

const trustedMarker = "verified"

// DeviceRepo tracks per-user device trust and the short-lived verification
// codes issued when an unknown device shows up.
type DeviceRepo struct {
	rdb     redis.UniversalClient
	codeTTL time.Duration
}

func NewDeviceRepo(rdb redis.UniversalClient, codeTTL time.Duration) *DeviceRepo {
	return &DeviceRepo{rdb: rdb, codeTTL: codeTTL}
}

// IsTrusted reports whether deviceID carries the verified marker for userID.
func (r *DeviceRepo) IsTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	val, err := r.rdb.HGet(ctx, deviceKey(userID), deviceID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("device lookup: %w", domain.ErrDownstream)
	}
	return val == trustedMarker, nil
}

// MarkTrusted records deviceID as verified for userID. The device hash has no
// TTL; trust survives until an operator revokes it.
func (r *DeviceRepo) MarkTrusted(ctx context.Context, userID, deviceID string) error {
	if err := r.rdb.HSet(ctx, deviceKey(userID), deviceID, trustedMarker).Err(); err != nil {
		return fmt.Errorf("device mark trusted: %w", domain.ErrDownstream)
	}
	return nil
}

// SetVerificationCode stores the 6-digit code with the verification TTL.
// Issuing a new code overwrites any outstanding one and restarts the clock.
func (r *DeviceRepo) SetVerificationCode(ctx context.Context, userID, deviceID, code string) error {
	if err := r.rdb.Set(ctx, verificationKey(userID, deviceID), code, r.codeTTL).Err(); err != nil {
		return fmt.Errorf("verification code store: %w", domain.ErrDownstream)
	}
	return nil
}

// GetVerificationCode returns the outstanding code, or domain.ErrNotFound once
// it has expired or was never issued.
func (r *DeviceRepo) GetVerificationCode(ctx context.Context, userID, deviceID string) (string, error) {
	code, err := r.rdb.Get(ctx, verificationKey(userID, deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("verification code lookup: %w", domain.ErrDownstream)
	}
	return code, nil
}

// DeleteVerificationCode removes the code after a successful verification so
// it cannot be replayed.
func (r *DeviceRepo) DeleteVerificationCode(ctx context.Context, userID, deviceID string) error {
	if err := r.rdb.Del(ctx, verificationKey(userID, deviceID)).Err(); err != nil {
		return fmt.Errorf("verification code delete: %w", domain.ErrDownstream)
	}
	return nil
}
