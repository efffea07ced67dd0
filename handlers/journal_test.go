package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelsync/handlers"
	"reelsync/models"
	"reelsync/services/journal"
	"reelsync/services/journal/backends"
)

func title(s string) *string { return &s }

func newJournalService() *journal.Service {
	var sources []journal.Source
	for _, name := range backends.Order {
		name := name
		var reader journal.Reader
		switch name {
		case "d1":
			reader = journal.ReaderFunc(func(ctx context.Context) ([]models.JournalEntry, error) {
				return nil, errors.New("D1 API error: 10000 authentication error")
			})
		default:
			reader = journal.ReaderFunc(func(ctx context.Context) ([]models.JournalEntry, error) {
				return []models.JournalEntry{{ID: name + "-1", Title: title("from " + name)}}, nil
			})
		}
		sources = append(sources, journal.Source{Name: name, Reader: reader})
	}
	return journal.NewService(journal.NewRegistry(sources...), time.Second)
}

func TestJournalReadSuccess(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)
	rec := httptest.NewRecorder()
	h.Read(rec, httptest.NewRequest(http.MethodGet, "/read?source=turso", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	var body models.JournalResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "turso", body.Source)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "turso-1", body.Entries[0].ID)
	assert.False(t, body.FetchedAt.IsZero())
}

func TestJournalReadUnknownSourceListsNames(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)
	rec := httptest.NewRecorder()
	h.Read(rec, httptest.NewRequest(http.MethodGet, "/read?source=bogus", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["error"], `"bogus"`)
	for _, name := range backends.Order {
		assert.Contains(t, body["error"], name)
	}
}

func TestJournalReadMissingSource(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)
	rec := httptest.NewRecorder()
	h.Read(rec, httptest.NewRequest(http.MethodGet, "/read", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "github")
}

func TestJournalReadFailureIsIsolated(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)

	rec := httptest.NewRecorder()
	h.Read(rec, httptest.NewRequest(http.MethodGet, "/read?source=d1", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Contains(t, body["error"], "d1")
	assert.Contains(t, body["error"], "authentication error")

	rec = httptest.NewRecorder()
	h.Read(rec, httptest.NewRequest(http.MethodGet, "/read?source=neon", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJournalReadETagRevalidates(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 60)

	first := httptest.NewRecorder()
	h.Read(first, httptest.NewRequest(http.MethodGet, "/read?source=kv", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "public, max-age=60", first.Header().Get("Cache-Control"))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/read?source=kv", nil)
	req.Header.Set("If-None-Match", etag)
	second := httptest.NewRecorder()
	h.Read(second, req)
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())
}

func TestJournalReadBatch(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)
	rec := httptest.NewRecorder()
	h.ReadBatch(rec, httptest.NewRequest(http.MethodGet, "/read/batch?sources=d1,redis&sources=bogus", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Results map[string]map[string]any `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Results, 3)
	assert.Contains(t, body.Results["d1"]["error"], "d1")
	assert.NotContains(t, body.Results["d1"], "entries")
	assert.EqualValues(t, 1, body.Results["redis"]["count"])
	assert.Contains(t, body.Results["bogus"]["error"], "valid sources")
}

func TestJournalReadBatchDefaultsToAllSources(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)
	rec := httptest.NewRecorder()
	h.ReadBatch(rec, httptest.NewRequest(http.MethodGet, "/read/batch", nil))

	var body struct {
		Results map[string]json.RawMessage `json:"results"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Results, len(backends.Order))
}

func TestJournalHealthListsEverySource(t *testing.T) {
	h := handlers.NewJournalHandler(newJournalService(), 300)
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Status  string   `json:"status"`
		Sources []string `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(strings.NewReader(rec.Body.String())).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, backends.Order, body.Sources)
	assert.Len(t, body.Sources, 11)
}
