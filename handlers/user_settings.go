package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"reelsync/models"
	"reelsync/services/kvstore"
)

// settingsStore is the slice of kvstore.Store the settings endpoints need.
type settingsStore interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

var _ settingsStore = (kvstore.Store)(nil)

type UserSettingsHandler struct {
	Store    settingsStore
	Defaults models.UserSettings
}

func NewUserSettingsHandler(store settingsStore, defaults models.UserSettings) *UserSettingsHandler {
	return &UserSettingsHandler{Store: store, Defaults: defaults}
}

// GetSettings returns the stored settings, or the configured defaults when
// nothing has been saved yet.
func (h *UserSettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.Defaults
	if _, err := h.Store.Get(r.Context(), kvstore.KeyUserSettings, &settings); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *UserSettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.UserSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSONError(w, "invalid settings payload", http.StatusBadRequest)
		return
	}
	if settings.ThresholdSeconds < 0 {
		writeJSONError(w, "thresholdSeconds must not be negative", http.StatusBadRequest)
		return
	}
	if settings.ConfidenceThreshold < 0 || settings.ConfidenceThreshold > 100 {
		writeJSONError(w, "confidenceThreshold must be between 0 and 100", http.StatusBadRequest)
		return
	}

	if err := h.Store.Set(r.Context(), kvstore.KeyUserSettings, settings); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("[settings] updated user settings (scrobbling=%t)", settings.ScrobblingEnabled)
	writeJSON(w, http.StatusOK, settings)
}

// WatchHistory lists the watch records the detector has closed, newest first.
func (h *UserSettingsHandler) WatchHistory(w http.ResponseWriter, r *http.Request) {
	var records []models.WatchRecord
	if _, err := h.Store.Get(r.Context(), kvstore.KeyWatchHistory, &records); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.WatchRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
