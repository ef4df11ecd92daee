package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finthenticate/server/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TokenEnvelope wraps responses that hand out a token pair.
type TokenEnvelope struct {
	Token        string `json:"token,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// writeDomainError maps a service error onto a status code and a stable,
// non-leaky message. Anything unmapped is a 500 with no detail.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid request")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, domain.ErrLocked):
		writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "request already in progress")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDownstream):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		// Includes password verification timeouts; those are our fault,
		// never the caller's.
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
