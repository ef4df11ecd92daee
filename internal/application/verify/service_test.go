package verify

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finthenticate/server/internal/domain"
	jwtinfra "github.com/finthenticate/server/internal/infrastructure/jwt"
)

type fakeUsers struct {
	users map[string]*domain.User
}

func (f *fakeUsers) Get(_ context.Context, userID string) (*domain.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return u, nil
}

type fakeDevices struct {
	codes   map[string]string
	trusted map[string]bool
}

func (f *fakeDevices) GetVerificationCode(_ context.Context, userID, deviceID string) (string, error) {
	code, ok := f.codes[userID+"/"+deviceID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return code, nil
}

func (f *fakeDevices) DeleteVerificationCode(_ context.Context, userID, deviceID string) error {
	delete(f.codes, userID+"/"+deviceID)
	return nil
}

func (f *fakeDevices) MarkTrusted(_ context.Context, userID, deviceID string) error {
	f.trusted[userID+"/"+deviceID] = true
	return nil
}

type fakeSecurity struct {
	settings map[string]*domain.SecuritySettings
}

func (f *fakeSecurity) Get(_ context.Context, userID string) (*domain.SecuritySettings, error) {
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return &domain.SecuritySettings{}, nil
}

type fakeSessions struct {
	sessions map[string]*domain.TwoFactorSession
}

func (f *fakeSessions) Get(_ context.Context, email string) (*domain.TwoFactorSession, error) {
	s, ok := f.sessions[email]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) Delete(_ context.Context, email string) error {
	delete(f.sessions, email)
	return nil
}

type fakeTokens struct {
	saved   map[string]*domain.TokenPair
	refresh map[string]string
	deleted []string
}

func (f *fakeTokens) Save(_ context.Context, userID, _ string, pair *domain.TokenPair) error {
	f.saved[userID] = pair
	f.refresh[userID] = pair.RefreshToken
	return nil
}

func (f *fakeTokens) GetRefresh(_ context.Context, userID string) (string, error) {
	token, ok := f.refresh[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return token, nil
}

func (f *fakeTokens) Delete(_ context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	delete(f.saved, userID)
	delete(f.refresh, userID)
	return nil
}

type captureEvents struct {
	events []domain.AuthEvent
}

func (c *captureEvents) Publish(_ context.Context, ev *domain.AuthEvent) error {
	c.events = append(c.events, *ev)
	return nil
}

type fixture struct {
	svc      Service
	provider *jwtinfra.Provider
	users    *fakeUsers
	devices  *fakeDevices
	security *fakeSecurity
	sessions *fakeSessions
	tokens   *fakeTokens
	events   *captureEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: testProvider(),
		users:    &fakeUsers{users: map[string]*domain.User{}},
		devices:  &fakeDevices{codes: map[string]string{}, trusted: map[string]bool{}},
		security: &fakeSecurity{settings: map[string]*domain.SecuritySettings{}},
		sessions: &fakeSessions{sessions: map[string]*domain.TwoFactorSession{}},
		tokens:   &fakeTokens{saved: map[string]*domain.TokenPair{}, refresh: map[string]string{}},
		events:   &captureEvents{},
	}
	f.svc = NewService(f.users, f.devices, f.security, f.sessions, f.tokens, f.provider, f.events, slog.Default())
	return f
}

func testProvider() *jwtinfra.Provider {
	return jwtinfra.NewProviderWithSecrets("test-secret", "test-refresh-secret",
		30*time.Minute, 7*24*time.Hour, 10*time.Minute)
}

func TestVerifyDeviceSuccess(t *testing.T) {
	f := newFixture(t)
	f.devices.codes["u-1/dev-1"] = "123456"
	token, err := f.provider.DeviceToken("u-1", "a@b.com", "dev-1", "conn-1")
	require.NoError(t, err)

	pair, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceRequest{
		VerificationToken: token,
		VerificationCode:  "123456",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	assert.True(t, f.devices.trusted["u-1/dev-1"])
	assert.NotContains(t, f.devices.codes, "u-1/dev-1")
	assert.Equal(t, pair, f.tokens.saved["u-1"])

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, domain.EventDeviceVerified, ev.Type)
	assert.Equal(t, "conn-1", ev.ConnectionID)
}

func TestVerifyDeviceWrongCode(t *testing.T) {
	f := newFixture(t)
	f.devices.codes["u-1/dev-1"] = "123456"
	token, err := f.provider.DeviceToken("u-1", "a@b.com", "dev-1", "conn-1")
	require.NoError(t, err)

	_, err = f.svc.VerifyDevice(context.Background(), VerifyDeviceRequest{
		VerificationToken: token,
		VerificationCode:  "000000",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	assert.False(t, f.devices.trusted["u-1/dev-1"])
	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventDeviceVerifyFailed, f.events.events[0].Type)
}

func TestVerifyDeviceExpiredCode(t *testing.T) {
	f := newFixture(t)
	token, err := f.provider.DeviceToken("u-1", "a@b.com", "dev-1", "conn-1")
	require.NoError(t, err)

	_, err = f.svc.VerifyDevice(context.Background(), VerifyDeviceRequest{
		VerificationToken: token,
		VerificationCode:  "123456",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVerifyDeviceBadToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceRequest{
		VerificationToken: "not-a-jwt",
		VerificationCode:  "123456",
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestVerifyDeviceByIdentifiers(t *testing.T) {
	f := newFixture(t)
	f.devices.codes["u-1/dev-1"] = "123456"

	pair, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceRequest{
		UserID:           "u-1",
		DeviceID:         "dev-1",
		Email:            "a@b.com",
		ConnectionID:     "conn-1",
		VerificationCode: "123456",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	assert.True(t, f.devices.trusted["u-1/dev-1"])
	require.Len(t, f.events.events, 1)
	assert.Equal(t, "conn-1", f.events.events[0].ConnectionID)
}

func TestVerifyDeviceMissingIdentifiers(t *testing.T) {
	f := newFixture(t)

	// Neither a token nor the explicit identifiers: rejected before any
	// store access.
	_, err := f.svc.VerifyDevice(context.Background(), VerifyDeviceRequest{
		VerificationCode: "123456",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestVerifyTwoFactorSuccess(t *testing.T) {
	f := newFixture(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "finthenticate", AccountName: "a@b.com"})
	require.NoError(t, err)

	f.sessions.sessions["a@b.com"] = &domain.TwoFactorSession{
		UserID: "u-1", DeviceID: "dev-1", ConnectionID: "conn-1", Timestamp: time.Now().Unix(),
	}
	f.security.settings["u-1"] = &domain.SecuritySettings{Has2FA: true, TwoFactorSecret: key.Secret()}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	pair, err := f.svc.VerifyTwoFactor(context.Background(), VerifyTwoFactorRequest{
		Email:         "a@b.com",
		TwoFactorCode: code,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	// Session is consumed and the waiting connection hears about the tokens.
	assert.NotContains(t, f.sessions.sessions, "a@b.com")
	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, domain.EventLoginSuccess, ev.Type)
	assert.Equal(t, "conn-1", ev.ConnectionID)
	assert.Equal(t, pair.AccessToken, ev.Data["token"])
}

func TestVerifyTwoFactorMixedCaseEmail(t *testing.T) {
	f := newFixture(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "finthenticate", AccountName: "a@b.com"})
	require.NoError(t, err)

	// The session was stored under the lowercased email at login time; the
	// verify call must find it whatever casing the client submits.
	f.sessions.sessions["a@b.com"] = &domain.TwoFactorSession{
		UserID: "u-1", DeviceID: "dev-1", ConnectionID: "conn-1", Timestamp: time.Now().Unix(),
	}
	f.security.settings["u-1"] = &domain.SecuritySettings{Has2FA: true, TwoFactorSecret: key.Secret()}

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	pair, err := f.svc.VerifyTwoFactor(context.Background(), VerifyTwoFactorRequest{
		Email:         "A@B.com",
		TwoFactorCode: code,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotContains(t, f.sessions.sessions, "a@b.com")
}

func TestVerifyTwoFactorWrongCode(t *testing.T) {
	f := newFixture(t)
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "finthenticate", AccountName: "a@b.com"})
	require.NoError(t, err)

	f.sessions.sessions["a@b.com"] = &domain.TwoFactorSession{UserID: "u-1", DeviceID: "dev-1", ConnectionID: "conn-1"}
	f.security.settings["u-1"] = &domain.SecuritySettings{Has2FA: true, TwoFactorSecret: key.Secret()}

	_, err = f.svc.VerifyTwoFactor(context.Background(), VerifyTwoFactorRequest{
		Email:         "a@b.com",
		TwoFactorCode: "000000",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Session survives a wrong code; the user may retry until it expires.
	assert.Contains(t, f.sessions.sessions, "a@b.com")
	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventTwoFactorVerifyFailed, f.events.events[0].Type)
}

func TestVerifyTwoFactorNoSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.VerifyTwoFactor(context.Background(), VerifyTwoFactorRequest{
		Email:         "a@b.com",
		TwoFactorCode: "123456",
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, f.events.events)
}

func TestRefreshRotatesPair(t *testing.T) {
	f := newFixture(t)
	f.users.users["u-1"] = &domain.User{UserID: "u-1", Email: "a@b.com"}

	original, err := f.provider.TokenPair("u-1", "a@b.com")
	require.NoError(t, err)
	require.NoError(t, f.tokens.Save(context.Background(), "u-1", "dev-1", original))

	rotated, err := f.svc.Refresh(context.Background(), original.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)

	// The old refresh token no longer matches the stored one.
	_, err = f.svc.Refresh(context.Background(), original.RefreshToken)
	if err == nil {
		// Identical iat can make the rotated token equal the original;
		// only a differing token must be rejected.
		assert.Equal(t, original.RefreshToken, rotated.RefreshToken)
	} else {
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	}
}

func TestRefreshRevoked(t *testing.T) {
	f := newFixture(t)
	f.users.users["u-1"] = &domain.User{UserID: "u-1", Email: "a@b.com"}

	pair, err := f.provider.TokenPair("u-1", "a@b.com")
	require.NoError(t, err)

	// Never saved: nothing on record to match.
	_, err = f.svc.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)

	access, err := f.provider.AccessToken("u-1", "a@b.com")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(context.Background(), access))
	assert.Equal(t, []string{"u-1"}, f.tokens.deleted)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), "garbage"), domain.ErrUnauthorized)
}
