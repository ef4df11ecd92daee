package handler

import (
	"encoding/json"
	"net/http"

	"github.com/finthenticate/server/internal/application/login"
	"github.com/finthenticate/server/internal/transport/http/middleware"
)

// LoginHandler accepts login attempts for asynchronous processing.
type LoginHandler struct {
	svc login.Service
}

func NewLoginHandler(svc login.Service) *LoginHandler {
	return &LoginHandler{svc: svc}
}

// Login returns 202 on acceptance; the outcome arrives over the socket named
// by connectionId. No tokens ever appear in this response.
func (h *LoginHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req login.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.Login(r.Context(), req, middleware.ClientIP(r)); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, MessageEnvelope{Message: "login request accepted"})
}
