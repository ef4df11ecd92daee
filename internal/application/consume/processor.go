// Package consume implements the worker side of the pipeline: it drains
// batched login messages off the queue and runs each record through the
// device-trust and two-factor state machine, publishing the outcome as an
// event for the socket layer to deliver.
package consume

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finthenticate/server/internal/domain"
	"github.com/finthenticate/server/internal/infrastructure/smtp"
	"github.com/finthenticate/server/internal/infrastructure/sns"
	"github.com/finthenticate/server/internal/observability/metrics"
)

type userStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type deviceStore interface {
	IsTrusted(ctx context.Context, userID, deviceID string) (bool, error)
	SetVerificationCode(ctx context.Context, userID, deviceID, code string) error
}

type securityStore interface {
	Get(ctx context.Context, userID string) (*domain.SecuritySettings, error)
}

type sessionStore interface {
	Put(ctx context.Context, email string, s *domain.TwoFactorSession) error
}

type tokenStore interface {
	QueueSave(ctx context.Context, pipe redis.Pipeliner, userID, deviceID string, pair *domain.TokenPair)
}

type tokenIssuer interface {
	TokenPair(userID, email string) (*domain.TokenPair, error)
	DeviceToken(userID, email, deviceID, connectionID string) (string, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, ev *domain.AuthEvent) error
}

// Processor runs the per-record login state machine. Records in a batch are
// isolated from each other; one bad record emits a failure event and the
// rest proceed.
type Processor struct {
	rdb      redis.UniversalClient
	users    userStore
	devices  deviceStore
	security securityStore
	sessions sessionStore
	tokens   tokenStore
	issuer   tokenIssuer
	events   eventPublisher
	mailer   smtp.Mailer
	sms      sns.SMSSender
	logger   *slog.Logger
}

func NewProcessor(
	rdb redis.UniversalClient,
	users userStore,
	devices deviceStore,
	security securityStore,
	sessions sessionStore,
	tokens tokenStore,
	issuer tokenIssuer,
	events eventPublisher,
	mailer smtp.Mailer,
	sms sns.SMSSender,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		rdb:      rdb,
		users:    users,
		devices:  devices,
		security: security,
		sessions: sessions,
		tokens:   tokens,
		issuer:   issuer,
		events:   events,
		mailer:   mailer,
		sms:      sms,
		logger:   logger,
	}
}

// Summary reports what happened to one consumed batch.
type Summary struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// deferred pairs a success event with the record it belongs to; success
// events publish only after the batch's token writes are executed.
type deferred struct {
	event  domain.AuthEvent
	record domain.LoginIntent
}

// ProcessBatch runs every record, queueing all token persistence onto one
// pipeline executed once per batch. If the pipeline execution fails the
// deferred successes are reported as failures instead; tokens that were
// never stored must not be announced.
func (p *Processor) ProcessBatch(ctx context.Context, records []domain.BatchRecord) Summary {
	var sum Summary
	pipe := p.rdb.Pipeline()
	var successes []deferred

	for _, rec := range records {
		d, err := p.process(ctx, pipe, rec.Data)
		if err != nil {
			sum.Failed++
			p.logger.Warn("login record failed", "email", rec.Data.Email, "error", err)
			p.publish(ctx, failureEvent(rec.Data, err))
			continue
		}
		sum.Processed++
		if d != nil {
			successes = append(successes, *d)
		}
	}

	if len(successes) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			p.logger.Error("batch token write failed", "count", len(successes), "error", err)
			for _, d := range successes {
				sum.Processed--
				sum.Failed++
				p.publish(ctx, failureEvent(d.record, domain.ErrDownstream))
			}
			return sum
		}
	}
	for _, d := range successes {
		p.publish(ctx, d.event)
	}
	return sum
}

// process decides the outcome for one record. Challenge and failure events
// publish immediately; a token-issuing success is returned as deferred.
func (p *Processor) process(ctx context.Context, pipe redis.Pipeliner, intent domain.LoginIntent) (*deferred, error) {
	if intent.Email == "" || intent.UserID == "" || intent.DeviceID == "" || intent.ConnectionID == "" {
		return nil, domain.ErrIncompleteData
	}

	trusted, err := p.devices.IsTrusted(ctx, intent.UserID, intent.DeviceID)
	if err != nil {
		return nil, err
	}
	if !trusted {
		return nil, p.challengeDevice(ctx, intent)
	}

	sec, err := p.security.Get(ctx, intent.UserID)
	if err != nil {
		return nil, err
	}
	if sec.Has2FA {
		return nil, p.requireTwoFactor(ctx, intent)
	}

	pair, err := p.issuer.TokenPair(intent.UserID, intent.Email)
	if err != nil {
		return nil, err
	}
	p.tokens.QueueSave(ctx, pipe, intent.UserID, intent.DeviceID, pair)

	ev := domain.NewAuthEvent(domain.EventLoginSuccess, intent.UserID, intent.DeviceID, intent.ConnectionID)
	ev.Data = map[string]any{
		"token":        pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	}
	return &deferred{event: ev, record: intent}, nil
}

// challengeDevice issues a fresh 6-digit code, stores it with its TTL and
// notifies the client. The code travels by email (and SMS when the profile
// has a phone), never over the socket.
func (p *Processor) challengeDevice(ctx context.Context, intent domain.LoginIntent) error {
	code, err := verificationCode()
	if err != nil {
		return err
	}
	if err := p.devices.SetVerificationCode(ctx, intent.UserID, intent.DeviceID, code); err != nil {
		return err
	}
	correlation, err := p.issuer.DeviceToken(intent.UserID, intent.Email, intent.DeviceID, intent.ConnectionID)
	if err != nil {
		return err
	}

	if err := p.mailer.SendVerificationCode(intent.Email, code); err != nil {
		p.logger.Error("verification email failed", "email", intent.Email, "error", err)
	}
	if p.sms != nil {
		if user, err := p.users.Get(ctx, intent.UserID); err == nil && user.Phone != "" {
			if err := p.sms.SendVerificationCode(ctx, user.Phone, code); err != nil {
				p.logger.Error("verification sms failed", "userId", intent.UserID, "error", err)
			}
		}
	}

	ev := domain.NewAuthEvent(domain.EventNewDeviceDetected, intent.UserID, intent.DeviceID, intent.ConnectionID)
	ev.Data = map[string]any{"verificationToken": correlation}
	p.publish(ctx, ev)
	return nil
}

func (p *Processor) requireTwoFactor(ctx context.Context, intent domain.LoginIntent) error {
	session := &domain.TwoFactorSession{
		UserID:       intent.UserID,
		DeviceID:     intent.DeviceID,
		ConnectionID: intent.ConnectionID,
		Timestamp:    time.Now().Unix(),
	}
	if err := p.sessions.Put(ctx, intent.Email, session); err != nil {
		return err
	}
	p.publish(ctx, domain.NewAuthEvent(domain.EventTwoFactorRequired, intent.UserID, intent.DeviceID, intent.ConnectionID))
	return nil
}

func (p *Processor) publish(ctx context.Context, ev domain.AuthEvent) {
	if err := p.events.Publish(ctx, &ev); err != nil {
		p.logger.Error("event publish failed", "type", ev.Type, "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
}

func failureEvent(intent domain.LoginIntent, cause error) domain.AuthEvent {
	ev := domain.NewAuthEvent(domain.EventLoginFailure, intent.UserID, intent.DeviceID, intent.ConnectionID)
	ev.Data = map[string]any{"reason": cause.Error()}
	return ev
}

func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
