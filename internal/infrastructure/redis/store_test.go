package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finthenticate/server/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestUserRepoGetByEmail(t *testing.T) {
	_, rdb := newTestClient(t)
	repo := NewUserRepo(rdb)
	ctx := context.Background()

	user := &domain.User{UserID: "u-1", Email: "Alice@Example.com", PasswordHash: "$argon2id$..."}
	require.NoError(t, repo.Put(ctx, user))

	// Lookup is case-insensitive on the email.
	got, err := repo.GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, "$argon2id$...", got.PasswordHash)

	_, err = repo.GetByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttemptRepoLockout(t *testing.T) {
	_, rdb := newTestClient(t)
	repo := NewAttemptRepo(rdb, 15*time.Minute, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.NoError(t, repo.CheckAndRecord(ctx, "a@b.com", "1.2.3.4"))
	}

	// Sixth attempt inside the window is locked out but still recorded.
	err := repo.CheckAndRecord(ctx, "a@b.com", "1.2.3.4")
	assert.ErrorIs(t, err, domain.ErrLocked)

	count, err := repo.CountRecent(ctx, "a@b.com", "1.2.3.4")
	require.NoError(t, err)
	assert.EqualValues(t, 6, count)

	// A different IP has its own window.
	assert.NoError(t, repo.CheckAndRecord(ctx, "a@b.com", "5.6.7.8"))
}

func TestAttemptRepoWindowSlides(t *testing.T) {
	mr, rdb := newTestClient(t)
	repo := NewAttemptRepo(rdb, 15*time.Minute, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, "a@b.com", "1.2.3.4"))
	}

	// Push the stored timestamps outside the window by rewriting them.
	key := attemptsKey("a@b.com", "1.2.3.4")
	members, err := rdb.ZRange(ctx, key, 0, -1).Result()
	require.NoError(t, err)
	old := float64(time.Now().Add(-16 * time.Minute).UnixMilli())
	for _, m := range members {
		mr.ZAdd(key, old, m)
	}

	count, err := repo.CountRecent(ctx, "a@b.com", "1.2.3.4")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	assert.NoError(t, repo.CheckAndRecord(ctx, "a@b.com", "1.2.3.4"))
}

func TestDeviceRepoTrustAndCodes(t *testing.T) {
	mr, rdb := newTestClient(t)
	repo := NewDeviceRepo(rdb, 10*time.Minute)
	ctx := context.Background()

	trusted, err := repo.IsTrusted(ctx, "u-1", "dev-1")
	require.NoError(t, err)
	assert.False(t, trusted)

	require.NoError(t, repo.MarkTrusted(ctx, "u-1", "dev-1"))
	trusted, err = repo.IsTrusted(ctx, "u-1", "dev-1")
	require.NoError(t, err)
	assert.True(t, trusted)

	require.NoError(t, repo.SetVerificationCode(ctx, "u-1", "dev-2", "123456"))
	code, err := repo.GetVerificationCode(ctx, "u-1", "dev-2")
	require.NoError(t, err)
	assert.Equal(t, "123456", code)

	// Codes expire on their own.
	mr.FastForward(11 * time.Minute)
	_, err = repo.GetVerificationCode(ctx, "u-1", "dev-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.SetVerificationCode(ctx, "u-1", "dev-2", "654321"))
	require.NoError(t, repo.DeleteVerificationCode(ctx, "u-1", "dev-2"))
	_, err = repo.GetVerificationCode(ctx, "u-1", "dev-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepoRoundTrip(t *testing.T) {
	mr, rdb := newTestClient(t)
	repo := NewSessionRepo(rdb, 10*time.Minute)
	ctx := context.Background()

	s := &domain.TwoFactorSession{UserID: "u-1", DeviceID: "dev-1", ConnectionID: "conn-1", Timestamp: 42}
	require.NoError(t, repo.Put(ctx, "a@b.com", s))

	got, err := repo.Get(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, s, got)

	mr.FastForward(11 * time.Minute)
	_, err = repo.Get(ctx, "a@b.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTokenRepoSaveAndDelete(t *testing.T) {
	mr, rdb := newTestClient(t)
	repo := NewTokenRepo(rdb, 30*time.Minute, 7*24*time.Hour)
	ctx := context.Background()

	pair := &domain.TokenPair{AccessToken: "acc", RefreshToken: "ref"}
	require.NoError(t, repo.Save(ctx, "u-1", "dev-1", pair))

	access, err := repo.GetAccess(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "acc", access)

	refresh, err := repo.GetRefresh(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "ref", refresh)

	last := mr.HGet(loginKey("u-1"), "last_device")
	assert.Equal(t, "dev-1", last)

	// Access token expires before the refresh token.
	mr.FastForward(31 * time.Minute)
	_, err = repo.GetAccess(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetRefresh(ctx, "u-1")
	assert.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, "u-1"))
	_, err = repo.GetRefresh(ctx, "u-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockMutualExclusion(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()

	a := NewLock(rdb, "cleanup", time.Minute)
	b := NewLock(rdb, "cleanup", time.Minute)

	require.NoError(t, a.Acquire(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), domain.ErrConflict)

	// Releasing a lock you do not hold is a no-op.
	require.NoError(t, b.Release(ctx))
	assert.ErrorIs(t, b.Acquire(ctx), domain.ErrConflict)

	require.NoError(t, a.Release(ctx))
	assert.NoError(t, b.Acquire(ctx))
}
