package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelsync/handlers"
	"reelsync/models"
	"reelsync/services/kvstore"
)

func newSettingsHandler(t *testing.T) (*handlers.UserSettingsHandler, kvstore.Store) {
	t.Helper()
	store, err := kvstore.NewFileStore(afero.NewMemMapFs(), "/state/agent.json")
	require.NoError(t, err)
	return handlers.NewUserSettingsHandler(store, models.UserSettings{ScrobblingEnabled: true, ThresholdSeconds: 30}), store
}

func TestUserSettingsDefaultsThenSaved(t *testing.T) {
	h, store := newSettingsHandler(t)

	rec := httptest.NewRecorder()
	h.GetSettings(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scrobblingEnabled":true,"thresholdSeconds":30}`, rec.Body.String())

	body := strings.NewReader(`{"scrobblingEnabled":false,"confidenceThreshold":90}`)
	rec = httptest.NewRecorder()
	h.PutSettings(rec, httptest.NewRequest(http.MethodPut, "/api/settings", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var saved models.UserSettings
	found, err := store.Get(context.Background(), kvstore.KeyUserSettings, &saved)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, saved.ScrobblingEnabled)
	assert.Equal(t, 90.0, saved.ConfidenceThreshold)

	rec = httptest.NewRecorder()
	h.GetSettings(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.JSONEq(t, `{"scrobblingEnabled":false,"thresholdSeconds":30,"confidenceThreshold":90}`, rec.Body.String())
}

func TestUserSettingsRejectsOutOfRange(t *testing.T) {
	h, _ := newSettingsHandler(t)
	for _, payload := range []string{`{"confidenceThreshold":101}`, `{"thresholdSeconds":-1}`, `{`} {
		rec := httptest.NewRecorder()
		h.PutSettings(rec, httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(payload)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}
}

func TestWatchHistoryListsNewestFirst(t *testing.T) {
	h, store := newSettingsHandler(t)

	rec := httptest.NewRecorder()
	h.WatchHistory(rec, httptest.NewRequest(http.MethodGet, "/api/watch/history", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())

	ctx := context.Background()
	require.NoError(t, store.Append(ctx, kvstore.KeyWatchHistory, models.WatchRecord{ID: "w1"}, 10))
	require.NoError(t, store.Append(ctx, kvstore.KeyWatchHistory, models.WatchRecord{ID: "w2"}, 10))

	rec = httptest.NewRecorder()
	h.WatchHistory(rec, httptest.NewRequest(http.MethodGet, "/api/watch/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Less(t, strings.Index(body, `"w2"`), strings.Index(body, `"w1"`))
}
