// Package verify completes the authentication flows the consumer left
// pending: device verification, two-factor codes, token refresh and logout.
// Unlike intake these operations are synchronous; the caller gets tokens in
// the response body, and the socket layer is notified as well.
package verify

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pquerna/otp/totp"

	"github.com/finthenticate/server/internal/domain"
	jwtinfra "github.com/finthenticate/server/internal/infrastructure/jwt"
	"github.com/finthenticate/server/internal/observability/metrics"
	"github.com/finthenticate/server/internal/pkg/validate"
)

// VerifyDeviceRequest completes a new-device challenge. The pending challenge
// is named either by the explicit identifiers or by the correlation token
// issued alongside it; when the token is present its claims win. The code
// itself arrived out of band.
type VerifyDeviceRequest struct {
	UserID            string `json:"userId" validate:"required_without=VerificationToken"`
	DeviceID          string `json:"deviceId" validate:"required_without=VerificationToken"`
	Email             string `json:"email" validate:"required_without=VerificationToken,omitempty,email"`
	ConnectionID      string `json:"connectionId"`
	VerificationCode  string `json:"verificationCode" validate:"required,otpcode"`
	VerificationToken string `json:"verificationToken"`
}

// VerifyTwoFactorRequest completes a pending two-factor login.
type VerifyTwoFactorRequest struct {
	Email         string `json:"email" validate:"required,email"`
	TwoFactorCode string `json:"twoFactorCode" validate:"required,otpcode"`
	ConnectionID  string `json:"connectionId"`
}

// Service completes pending authentications.
type Service interface {
	VerifyDevice(ctx context.Context, req VerifyDeviceRequest) (*domain.TokenPair, error)
	VerifyTwoFactor(ctx context.Context, req VerifyTwoFactorRequest) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
}

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type deviceStore interface {
	GetVerificationCode(ctx context.Context, userID, deviceID string) (string, error)
	DeleteVerificationCode(ctx context.Context, userID, deviceID string) error
	MarkTrusted(ctx context.Context, userID, deviceID string) error
}

type securityStore interface {
	Get(ctx context.Context, userID string) (*domain.SecuritySettings, error)
}

type sessionStore interface {
	Get(ctx context.Context, email string) (*domain.TwoFactorSession, error)
	Delete(ctx context.Context, email string) error
}

type tokenStore interface {
	Save(ctx context.Context, userID, deviceID string, pair *domain.TokenPair) error
	GetRefresh(ctx context.Context, userID string) (string, error)
	Delete(ctx context.Context, userID string) error
}

type tokenProvider interface {
	TokenPair(userID, email string) (*domain.TokenPair, error)
	VerifyAccess(token string) (*jwtinfra.AccessClaims, error)
	VerifyRefresh(token string) (string, error)
	VerifyDevice(token string) (*jwtinfra.DeviceClaims, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, ev *domain.AuthEvent) error
}

type service struct {
	users    userStore
	devices  deviceStore
	security securityStore
	sessions sessionStore
	tokens   tokenStore
	provider tokenProvider
	events   eventPublisher
	logger   *slog.Logger
}

func NewService(
	users userStore,
	devices deviceStore,
	security securityStore,
	sessions sessionStore,
	tokens tokenStore,
	provider tokenProvider,
	events eventPublisher,
	logger *slog.Logger,
) Service {
	return &service{
		users:    users,
		devices:  devices,
		security: security,
		sessions: sessions,
		tokens:   tokens,
		provider: provider,
		events:   events,
		logger:   logger,
	}
}

// VerifyDevice checks the out-of-band code against the stored challenge.
// Success marks the device trusted, consumes the code and completes the
// login; a wrong or expired code fails the attempt and notifies the waiting
// connection.
func (s *service) VerifyDevice(ctx context.Context, req VerifyDeviceRequest) (*domain.TokenPair, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("verify device request: %w", domain.ErrValidation)
	}

	userID, deviceID := req.UserID, req.DeviceID
	email, connectionID := strings.ToLower(req.Email), req.ConnectionID
	if req.VerificationToken != "" {
		claims, err := s.provider.VerifyDevice(req.VerificationToken)
		if err != nil {
			return nil, err
		}
		userID, deviceID = claims.UserID, claims.DeviceID
		email, connectionID = claims.Email, claims.ConnectionID
	}

	stored, err := s.devices.GetVerificationCode(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.publish(ctx, domain.NewAuthEvent(domain.EventDeviceVerifyFailed, userID, deviceID, connectionID))
			return nil, fmt.Errorf("verification code expired: %w", domain.ErrValidation)
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(req.VerificationCode)) != 1 {
		s.publish(ctx, domain.NewAuthEvent(domain.EventDeviceVerifyFailed, userID, deviceID, connectionID))
		return nil, fmt.Errorf("verification code mismatch: %w", domain.ErrValidation)
	}

	if err := s.devices.MarkTrusted(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	if err := s.devices.DeleteVerificationCode(ctx, userID, deviceID); err != nil {
		s.logger.Warn("verification code cleanup failed", "userId", userID, "error", err)
	}

	pair, err := s.issue(ctx, userID, email, deviceID)
	if err != nil {
		return nil, err
	}

	ev := domain.NewAuthEvent(domain.EventDeviceVerified, userID, deviceID, connectionID)
	ev.Data = map[string]any{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	}
	s.publish(ctx, ev)
	return pair, nil
}

// VerifyTwoFactor validates a TOTP code against the user's secret for the
// pending session. An expired session and a wrong code are both client
// errors; only the wrong code emits a failure event, since an expired
// session no longer names a live connection worth notifying.
func (s *service) VerifyTwoFactor(ctx context.Context, req VerifyTwoFactorRequest) (*domain.TokenPair, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("verify two-factor request: %w", domain.ErrValidation)
	}
	// Sessions are keyed by the lowercased email the intent was built with;
	// the caller's casing must not matter here.
	email := strings.ToLower(req.Email)

	session, err := s.sessions.Get(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("no pending two-factor session: %w", domain.ErrValidation)
		}
		return nil, err
	}
	connectionID := session.ConnectionID
	if connectionID == "" {
		connectionID = req.ConnectionID
	}

	sec, err := s.security.Get(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if sec.TwoFactorSecret == "" || !totp.Validate(req.TwoFactorCode, sec.TwoFactorSecret) {
		s.publish(ctx, domain.NewAuthEvent(domain.EventTwoFactorVerifyFailed, session.UserID, session.DeviceID, connectionID))
		return nil, fmt.Errorf("two-factor code mismatch: %w", domain.ErrValidation)
	}

	pair, err := s.issue(ctx, session.UserID, email, session.DeviceID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, email); err != nil {
		s.logger.Warn("two-factor session cleanup failed", "email", email, "error", err)
	}

	ev := domain.NewAuthEvent(domain.EventLoginSuccess, session.UserID, session.DeviceID, connectionID)
	ev.Data = map[string]any{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	}
	s.publish(ctx, ev)
	return pair, nil
}

// Refresh rotates the token pair. The presented refresh token must both
// verify and match the one on record; a rotated-out token is rejected.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	userID, err := s.provider.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	stored, err := s.tokens.GetRefresh(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("refresh token revoked: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(refreshToken)) != 1 {
		return nil, fmt.Errorf("refresh token superseded: %w", domain.ErrUnauthorized)
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("refresh for unknown user: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}

	pair, err := s.provider.TokenPair(user.UserID, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(ctx, user.UserID, "", pair); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes both stored tokens for the bearer. Idempotent.
func (s *service) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.provider.VerifyAccess(accessToken)
	if err != nil {
		return err
	}
	return s.tokens.Delete(ctx, claims.ID)
}

func (s *service) issue(ctx context.Context, userID, email, deviceID string) (*domain.TokenPair, error) {
	pair, err := s.provider.TokenPair(userID, email)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(ctx, userID, deviceID, pair); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *service) publish(ctx context.Context, ev domain.AuthEvent) {
	if err := s.events.Publish(ctx, &ev); err != nil {
		s.logger.Error("event publish failed", "type", ev.Type, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
}
