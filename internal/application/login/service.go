// Package login implements the intake side of the pipeline: credential
// verification at the edge, then buffering into batches for the queue.
// Intake never issues tokens; it only decides whether an attempt is worth
// processing asynchronously.
package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/observability/metrics"
	"github.com/finthenticate/server/internal/pkg/password"
	"github.com/finthenticate/server/internal/pkg/validate"
)

// LoginRequest is the intake payload.
type LoginRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=8,max=100"`
	DeviceID     string `json:"deviceId" validate:"required"`
	ConnectionID string `json:"connectionId" validate:"required"`
}

// Service accepts login attempts for asynchronous processing.
type Service interface {
	Login(ctx context.Context, req LoginRequest, ip string) error
}

type userGetter interface {
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type attemptLimiter interface {
	CheckAndRecord(ctx context.Context, email, ip string) error
}

type passwordVerifier interface {
	Verify(ctx context.Context, password, encodedHash string) (bool, error)
}

type service struct {
	users    userGetter
	attempts attemptLimiter
	verifier passwordVerifier
	acc      *Accumulator
	logger   *slog.Logger
}

func NewService(users userGetter, attempts attemptLimiter, verifier passwordVerifier, acc *Accumulator, logger *slog.Logger) Service {
	return &service{
		users:    users,
		attempts: attempts,
		verifier: verifier,
		acc:      acc,
		logger:   logger,
	}
}

// Login verifies credentials and buffers the attempt. The lockout check runs
// before any credential work, and every attempt counts toward the window
// whether or not the password matches. Unknown users and wrong passwords are
// indistinguishable to the caller.
func (s *service) Login(ctx context.Context, req LoginRequest, ip string) error {
	req.Email = strings.TrimSpace(req.Email)
	req.Password = strings.TrimSpace(req.Password)
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("login request: %w", domain.ErrValidation)
	}
	email := strings.ToLower(req.Email)

	if err := s.attempts.CheckAndRecord(ctx, email, ip); err != nil {
		if errors.Is(err, domain.ErrLocked) {
			metrics.LoginsTotal.WithLabelValues("locked").Inc()
			s.logger.Warn("login locked out", "email", email, "ip", ip)
		}
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.LoginsTotal.WithLabelValues("rejected").Inc()
			return fmt.Errorf("unknown user: %w", domain.ErrUnauthorized)
		}
		return err
	}

	match, err := s.verifier.Verify(ctx, req.Password, user.PasswordHash)
	if err != nil {
		if errors.Is(err, password.ErrVerifyTimeout) {
			metrics.VerifyTimeouts.Inc()
			s.logger.Error("password verification timed out", "email", email)
		}
		return fmt.Errorf("password verification: %w", err)
	}
	if !match {
		metrics.LoginsTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("password mismatch: %w", domain.ErrUnauthorized)
	}

	intent := domain.LoginIntent{
		Email:        email,
		DeviceID:     req.DeviceID,
		UserID:       user.UserID,
		ConnectionID: req.ConnectionID,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := s.acc.Push(intent); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.LoginsTotal.WithLabelValues("conflict").Inc()
			return fmt.Errorf("duplicate login in flight: %w", err)
		}
		return err
	}

	metrics.LoginsTotal.WithLabelValues("accepted").Inc()
	return nil
}
