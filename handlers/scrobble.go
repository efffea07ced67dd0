package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"reelsync/models"
	"reelsync/services/scrobble"
)

type scrobbleService interface {
	Sessions() []models.ScrobbleSession
	History(ctx context.Context) ([]models.ScrobbleRecord, error)
	Confirm(ctx context.Context, ref string, choice models.MatchCandidate) (models.ScrobbleSession, error)
	Skip(ctx context.Context, ref string) (models.ScrobbleSession, error)
	Stop(ctx context.Context, ref string) error
	Retry(ctx context.Context, ref string) (models.ScrobbleSession, error)
}

var _ scrobbleService = (*scrobble.Manager)(nil)

// ScrobbleHandler exposes session diagnostics and manual match confirmation.
type ScrobbleHandler struct {
	Service scrobbleService
}

func NewScrobbleHandler(service scrobbleService) *ScrobbleHandler {
	return &ScrobbleHandler{Service: service}
}

func (h *ScrobbleHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Sessions())
}

func (h *ScrobbleHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.Service.History(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.ScrobbleRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Confirm accepts a MatchCandidate body; an empty body takes the top candidate.
// A typed candidate that was never offered counts as a manual match.
func (h *ScrobbleHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var choice models.MatchCandidate
	if err := json.NewDecoder(r.Body).Decode(&choice); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	choice.CanonicalID = strings.TrimSpace(choice.CanonicalID)
	choice.MediaType = models.ParseMediaType(strings.ToLower(strings.TrimSpace(string(choice.MediaType))))

	session, err := h.Service.Confirm(r.Context(), id, choice)
	if err != nil {
		writeScrobbleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ScrobbleHandler) Skip(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.Service.Skip(r.Context(), id)
	if err != nil {
		writeScrobbleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ScrobbleHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := h.Service.Stop(r.Context(), id); err != nil {
		writeScrobbleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ScrobbleHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	session, err := h.Service.Retry(r.Context(), id)
	if err != nil {
		writeScrobbleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		writeJSONError(w, "session id is required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func writeScrobbleError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, scrobble.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, scrobble.ErrInvalidTransition), errors.Is(err, scrobble.ErrInvalidMatch):
		status = http.StatusConflict
	case errors.Is(err, scrobble.ErrDisabled):
		status = http.StatusForbidden
	}
	writeJSONError(w, err.Error(), status)
}
