package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/finthenticate/server/internal/application/verify"
)

// VerifyHandler completes pending authentications and manages issued tokens.
type VerifyHandler struct {
	svc verify.Service
}

func NewVerifyHandler(svc verify.Service) *VerifyHandler {
	return &VerifyHandler{svc: svc}
}

func (h *VerifyHandler) VerifyDevice(w http.ResponseWriter, r *http.Request) {
	var req verify.VerifyDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.svc.VerifyDevice(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenEnvelope{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Message:      "device verified",
	})
}

func (h *VerifyHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verify.VerifyTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.svc.VerifyTwoFactor(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenEnvelope{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Message:      "two-factor verification complete",
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (h *VerifyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenEnvelope{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *VerifyHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	if err := h.svc.Logout(r.Context(), token); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}
