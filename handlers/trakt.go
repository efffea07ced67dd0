package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"reelsync/services/trakt"
)

type traktAuthClient interface {
	GetDeviceCode(ctx context.Context) (*trakt.DeviceCodeResponse, error)
	PollForToken(ctx context.Context, deviceCode string) (*trakt.TokenResponse, error)
}

type traktTokens interface {
	Linked(ctx context.Context) bool
	Save(ctx context.Context, resp *trakt.TokenResponse) error
	Unlink(ctx context.Context) error
	Profile(ctx context.Context) (*trakt.UserProfile, error)
}

var (
	_ traktAuthClient = (*trakt.Client)(nil)
	_ traktTokens     = (*trakt.TokenSource)(nil)
)

// TraktHandler drives the device-code OAuth flow for the tracking account.
type TraktHandler struct {
	Client traktAuthClient
	Tokens traktTokens
}

func NewTraktHandler(client traktAuthClient, tokens traktTokens) *TraktHandler {
	return &TraktHandler{Client: client, Tokens: tokens}
}

// StartAuth handles POST /api/trakt/auth/start.
func (h *TraktHandler) StartAuth(w http.ResponseWriter, r *http.Request) {
	code, err := h.Client.GetDeviceCode(r.Context())
	if err != nil {
		writeTraktError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deviceCode":      code.DeviceCode,
		"userCode":        code.UserCode,
		"verificationUrl": code.VerificationURL,
		"expiresIn":       code.ExpiresIn,
		"interval":        code.Interval,
	})
}

// CheckAuth handles GET /api/trakt/auth/check/{deviceCode}. Pending states are
// reported in the body so the extension can keep polling.
func (h *TraktHandler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	deviceCode := strings.TrimSpace(mux.Vars(r)["deviceCode"])
	if deviceCode == "" {
		writeJSONError(w, "device code is required", http.StatusBadRequest)
		return
	}

	token, err := h.Client.PollForToken(r.Context(), deviceCode)
	switch {
	case errors.Is(err, trakt.ErrAuthPending):
		writeJSON(w, http.StatusOK, map[string]any{"status": "pending"})
		return
	case errors.Is(err, trakt.ErrSlowDown):
		writeJSON(w, http.StatusOK, map[string]any{"status": "slow_down"})
		return
	case errors.Is(err, trakt.ErrDeviceCodeExpired):
		writeJSON(w, http.StatusGone, map[string]any{"status": "expired"})
		return
	case errors.Is(err, trakt.ErrDeviceCodeUsed):
		writeJSON(w, http.StatusConflict, map[string]any{"status": "used"})
		return
	case err != nil:
		writeTraktError(w, err)
		return
	}

	if err := h.Tokens.Save(r.Context(), token); err != nil {
		log.Printf("[trakt] failed to save token: %v", err)
		writeJSONError(w, "failed to save token", http.StatusInternalServerError)
		return
	}
	log.Printf("[trakt] account linked")
	writeJSON(w, http.StatusOK, map[string]any{"status": "linked"})
}

// Profile handles GET /api/trakt/profile.
func (h *TraktHandler) Profile(w http.ResponseWriter, r *http.Request) {
	if !h.Tokens.Linked(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]any{"linked": false})
		return
	}
	profile, err := h.Tokens.Profile(r.Context())
	if err != nil {
		writeTraktError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"linked": true, "profile": profile})
}

// Unlink handles DELETE /api/trakt/auth.
func (h *TraktHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	if err := h.Tokens.Unlink(r.Context()); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeTraktError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, trakt.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, trakt.ErrNotAuthorized):
		status = http.StatusUnauthorized
	}
	writeJSONError(w, err.Error(), status)
}
