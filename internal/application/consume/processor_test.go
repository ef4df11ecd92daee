package consume

import (
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finthenticate/server/internal/domain"
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
	trusted map[string]bool
	codes   map[string]string
}

func (f *fakeDevices) IsTrusted(_ context.Context, userID, deviceID string) (bool, error) {
	return f.trusted[userID+"/"+deviceID], nil
}

func (f *fakeDevices) SetVerificationCode(_ context.Context, userID, deviceID, code string) error {
	f.codes[userID+"/"+deviceID] = code
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

func (f *fakeSessions) Put(_ context.Context, email string, s *domain.TwoFactorSession) error {
	f.sessions[email] = s
	return nil
}

// fakeTokens queues a real write so the batch pipeline has work to execute.
type fakeTokens struct {
	saved map[string]*domain.TokenPair
}

func (f *fakeTokens) QueueSave(ctx context.Context, pipe redis.Pipeliner, userID, deviceID string, pair *domain.TokenPair) {
	f.saved[userID] = pair
	pipe.Set(ctx, "TOKEN:"+userID, pair.AccessToken, 0)
}

type fakeIssuer struct{}

func (fakeIssuer) TokenPair(userID, _ string) (*domain.TokenPair, error) {
	return &domain.TokenPair{AccessToken: "acc-" + userID, RefreshToken: "ref-" + userID}, nil
}

func (fakeIssuer) DeviceToken(userID, _, _, _ string) (string, error) {
	return "dev-token-" + userID, nil
}

type captureEvents struct {
	events []domain.AuthEvent
}

func (c *captureEvents) Publish(_ context.Context, ev *domain.AuthEvent) error {
	c.events = append(c.events, *ev)
	return nil
}

type captureMailer struct {
	sent map[string]string
}

func (c *captureMailer) SendEmail(string, string, string) error { return nil }

func (c *captureMailer) SendVerificationCode(to, code string) error {
	c.sent[to] = code
	return nil
}

type fixture struct {
	proc     *Processor
	devices  *fakeDevices
	security *fakeSecurity
	sessions *fakeSessions
	tokens   *fakeTokens
	events   *captureEvents
	mailer   *captureMailer
	rdb      *redis.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		devices:  &fakeDevices{trusted: map[string]bool{}, codes: map[string]string{}},
		security: &fakeSecurity{settings: map[string]*domain.SecuritySettings{}},
		sessions: &fakeSessions{sessions: map[string]*domain.TwoFactorSession{}},
		tokens:   &fakeTokens{saved: map[string]*domain.TokenPair{}},
		events:   &captureEvents{},
		mailer:   &captureMailer{sent: map[string]string{}},
		rdb:      rdb,
	}
	f.proc = NewProcessor(
		rdb,
		&fakeUsers{users: map[string]*domain.User{}},
		f.devices, f.security, f.sessions, f.tokens,
		fakeIssuer{}, f.events, f.mailer, nil,
		slog.Default(),
	)
	return f
}

func record(userID string) domain.BatchRecord {
	return domain.BatchRecord{Data: domain.LoginIntent{
		Email:        userID + "@example.com",
		DeviceID:     "dev-1",
		UserID:       userID,
		ConnectionID: "conn-" + userID,
	}}
}

func TestProcessTrustedDeviceIssuesTokens(t *testing.T) {
	f := newFixture(t)
	f.devices.trusted["u-1/dev-1"] = true

	sum := f.proc.ProcessBatch(context.Background(), []domain.BatchRecord{record("u-1")})
	assert.Equal(t, Summary{Processed: 1}, sum)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, domain.EventLoginSuccess, ev.Type)
	assert.Equal(t, "conn-u-1", ev.ConnectionID)
	assert.Equal(t, "acc-u-1", ev.Data["token"])
	assert.Equal(t, "ref-u-1", ev.Data["refreshToken"])

	// The pipelined write actually ran.
	val, err := f.rdb.Get(context.Background(), "TOKEN:u-1").Result()
	require.NoError(t, err)
	assert.Equal(t, "acc-u-1", val)
}

func TestProcessUntrustedDeviceChallenges(t *testing.T) {
	f := newFixture(t)

	sum := f.proc.ProcessBatch(context.Background(), []domain.BatchRecord{record("u-1")})
	assert.Equal(t, Summary{Processed: 1}, sum)

	code := f.devices.codes["u-1/dev-1"]
	require.Len(t, code, 6)

	// Code goes by email; the socket event carries only the correlation token.
	assert.Equal(t, code, f.mailer.sent["u-1@example.com"])
	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, domain.EventNewDeviceDetected, ev.Type)
	assert.Equal(t, "dev-token-u-1", ev.Data["verificationToken"])
	assert.NotContains(t, ev.Data, "code")

	assert.Empty(t, f.tokens.saved)
}

func TestProcessTwoFactorRequired(t *testing.T) {
	f := newFixture(t)
	f.devices.trusted["u-1/dev-1"] = true
	f.security.settings["u-1"] = &domain.SecuritySettings{Has2FA: true, TwoFactorSecret: "secret"}

	sum := f.proc.ProcessBatch(context.Background(), []domain.BatchRecord{record("u-1")})
	assert.Equal(t, Summary{Processed: 1}, sum)

	session := f.sessions.sessions["u-1@example.com"]
	require.NotNil(t, session)
	assert.Equal(t, "u-1", session.UserID)
	assert.Equal(t, "conn-u-1", session.ConnectionID)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventTwoFactorRequired, f.events.events[0].Type)
	assert.Empty(t, f.tokens.saved)
}

func TestProcessIncompleteRecordIsolated(t *testing.T) {
	f := newFixture(t)
	f.devices.trusted["u-1/dev-1"] = true
	f.devices.trusted["u-2/dev-1"] = true

	bad := record("u-bad")
	bad.Data.Email = ""

	sum := f.proc.ProcessBatch(context.Background(), []domain.BatchRecord{
		record("u-1"), bad, record("u-2"),
	})
	assert.Equal(t, Summary{Processed: 2, Failed: 1}, sum)

	var types []string
	for _, ev := range f.events.events {
		types = append(types, ev.Type)
	}
	assert.ElementsMatch(t, types, []string{
		domain.EventLoginFailure, domain.EventLoginSuccess, domain.EventLoginSuccess,
	})
	assert.Len(t, f.tokens.saved, 2)
}
