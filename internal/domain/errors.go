package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking
// infrastructure details.
var (
	ErrValidation   = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLocked       = errors.New("account locked")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")

	// ErrIncompleteData marks a single bad record inside a consumed batch.
	// It never aborts sibling records.
	ErrIncompleteData = errors.New("incomplete login data")

	// ErrDownstream wraps store or broker failures surfaced to callers.
	ErrDownstream = errors.New("downstream unavailable")
)
