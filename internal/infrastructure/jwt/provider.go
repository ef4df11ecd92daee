// Package jwtinfra issues and verifies the three token shapes used by the
// pipeline: short-lived access tokens, long-lived refresh tokens, and the
// device-correlation tokens handed out while a new device awaits its code.
package jwtinfra

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/finthenticate/server/internal/config"
	"github.com/finthenticate/server/internal/domain"
)

type Provider struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	deviceTTL     time.Duration
}

func NewProvider(cfg *config.Config) *Provider {
	return NewProviderWithSecrets(cfg.JWTSecret, cfg.RefreshSecret,
		cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.DeviceTokenTTL)
}

func NewProviderWithSecrets(accessSecret, refreshSecret string, accessTTL, refreshTTL, deviceTTL time.Duration) *Provider {
	return &Provider{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		deviceTTL:     deviceTTL,
	}
}

// AccessClaims identify the authenticated user on an access token.
type AccessClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// DeviceClaims correlate a pending device verification with the login that
// triggered it, down to the socket connection awaiting the outcome.
type DeviceClaims struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	DeviceID     string `json:"deviceId"`
	ConnectionID string `json:"connectionId,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair issues matching access and refresh tokens for a completed login.
func (p *Provider) TokenPair(userID, email string) (*domain.TokenPair, error) {
	access, err := p.AccessToken(userID, email)
	if err != nil {
		return nil, err
	}
	refresh, err := p.RefreshToken(userID)
	if err != nil {
		return nil, err
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (p *Provider) AccessToken(userID, email string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		ID:    userID,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.accessTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

func (p *Provider) RefreshToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.refreshTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.refreshSecret)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return token, nil
}

// DeviceToken issues the short-lived token returned with a new-device
// challenge. The client presents it back on verify-device.
func (p *Provider) DeviceToken(userID, email, deviceID, connectionID string) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		UserID:       userID,
		Email:        email,
		DeviceID:     deviceID,
		ConnectionID: connectionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.deviceTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.accessSecret)
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}
	return token, nil
}

// VerifyAccess validates an access token and returns its claims.
func (p *Provider) VerifyAccess(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := p.verify(tokenString, claims, p.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token and returns the user it names.
func (p *Provider) VerifyRefresh(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if err := p.verify(tokenString, claims, p.refreshSecret); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// VerifyDevice validates a device-correlation token.
func (p *Provider) VerifyDevice(tokenString string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	if err := p.verify(tokenString, claims, p.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (p *Provider) verify(tokenString string, claims jwt.Claims, secret []byte) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("token verification: %w", domain.ErrUnauthorized)
	}
	return nil
}
