package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelsync/handlers"
	"reelsync/models"
	"reelsync/services/scrobble"
	"reelsync/services/trakt"
)

type fakeScrobbleService struct {
	sessions  []models.ScrobbleSession
	history   []models.ScrobbleRecord
	confirmed models.MatchCandidate
	err       error
	calls     []string
}

func (f *fakeScrobbleService) Sessions() []models.ScrobbleSession { return f.sessions }

func (f *fakeScrobbleService) History(ctx context.Context) ([]models.ScrobbleRecord, error) {
	return f.history, f.err
}

func (f *fakeScrobbleService) Confirm(ctx context.Context, ref string, choice models.MatchCandidate) (models.ScrobbleSession, error) {
	f.calls = append(f.calls, "confirm:"+ref)
	f.confirmed = choice
	return models.ScrobbleSession{ID: ref, State: models.StateScrobbling, CanonicalID: choice.CanonicalID}, f.err
}

func (f *fakeScrobbleService) Skip(ctx context.Context, ref string) (models.ScrobbleSession, error) {
	f.calls = append(f.calls, "skip:"+ref)
	return models.ScrobbleSession{ID: ref, State: models.StateIdle}, f.err
}

func (f *fakeScrobbleService) Stop(ctx context.Context, ref string) error {
	f.calls = append(f.calls, "stop:"+ref)
	return f.err
}

func (f *fakeScrobbleService) Retry(ctx context.Context, ref string) (models.ScrobbleSession, error) {
	f.calls = append(f.calls, "retry:"+ref)
	return models.ScrobbleSession{ID: ref, State: models.StateScrobbling}, f.err
}

func withID(req *http.Request, id string) *http.Request {
	return mux.SetURLVars(req, map[string]string{"id": id})
}

func TestScrobbleListSessionsAndEmptyHistory(t *testing.T) {
	svc := &fakeScrobbleService{sessions: []models.ScrobbleSession{{ID: "s1", State: models.StateIdentifying}}}
	h := handlers.NewScrobbleHandler(svc)

	rec := httptest.NewRecorder()
	h.ListSessions(rec, httptest.NewRequest(http.MethodGet, "/api/scrobble/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []models.ScrobbleSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, models.StateIdentifying, sessions[0].State)

	rec = httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/scrobble/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestScrobbleConfirmDecodesChoice(t *testing.T) {
	svc := &fakeScrobbleService{}
	h := handlers.NewScrobbleHandler(svc)

	body := bytes.NewBufferString(`{"mediaType":"Movie","canonicalId":" imdb:tt0133093 ","title":"The Matrix"}`)
	rec := httptest.NewRecorder()
	h.Confirm(rec, withID(httptest.NewRequest(http.MethodPost, "/", body), "s1"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.MediaTypeMovie, svc.confirmed.MediaType)
	assert.Equal(t, "imdb:tt0133093", svc.confirmed.CanonicalID)
	assert.Equal(t, []string{"confirm:s1"}, svc.calls)
}

func TestScrobbleConfirmEmptyBodyTakesTopCandidate(t *testing.T) {
	svc := &fakeScrobbleService{}
	h := handlers.NewScrobbleHandler(svc)

	rec := httptest.NewRecorder()
	h.Confirm(rec, withID(httptest.NewRequest(http.MethodPost, "/", nil), "s1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, svc.confirmed.CanonicalID)

	rec = httptest.NewRecorder()
	h.Confirm(rec, withID(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{")), "s1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScrobbleErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{scrobble.ErrUnknownSession, http.StatusNotFound},
		{fmt.Errorf("%w: skip from SCROBBLING", scrobble.ErrInvalidTransition), http.StatusConflict},
		{scrobble.ErrInvalidMatch, http.StatusConflict},
		{scrobble.ErrDisabled, http.StatusForbidden},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := handlers.NewScrobbleHandler(&fakeScrobbleService{err: tc.err})
		rec := httptest.NewRecorder()
		h.Skip(rec, withID(httptest.NewRequest(http.MethodPost, "/", nil), "s1"))
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}
}

func TestScrobbleStopAndRetry(t *testing.T) {
	svc := &fakeScrobbleService{}
	h := handlers.NewScrobbleHandler(svc)

	rec := httptest.NewRecorder()
	h.Stop(rec, withID(httptest.NewRequest(http.MethodPost, "/", nil), "page/reel-1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.Retry(rec, withID(httptest.NewRequest(http.MethodPost, "/", nil), "s2"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Retry(rec, withID(httptest.NewRequest(http.MethodPost, "/", nil), " "))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"stop:page/reel-1", "retry:s2"}, svc.calls)
}

type fakeTraktClient struct {
	pollErr error
}

func (f *fakeTraktClient) GetDeviceCode(ctx context.Context) (*trakt.DeviceCodeResponse, error) {
	return &trakt.DeviceCodeResponse{DeviceCode: "dev", UserCode: "ABCD1234", VerificationURL: "https://trakt.tv/activate", ExpiresIn: 600, Interval: 5}, nil
}

func (f *fakeTraktClient) PollForToken(ctx context.Context, deviceCode string) (*trakt.TokenResponse, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return &trakt.TokenResponse{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 7776000}, nil
}

type fakeTraktTokens struct {
	saved  *trakt.TokenResponse
	linked bool
}

func (f *fakeTraktTokens) Linked(ctx context.Context) bool { return f.linked }
func (f *fakeTraktTokens) Save(ctx context.Context, resp *trakt.TokenResponse) error {
	f.saved = resp
	return nil
}
func (f *fakeTraktTokens) Unlink(ctx context.Context) error { f.linked = false; return nil }
func (f *fakeTraktTokens) Profile(ctx context.Context) (*trakt.UserProfile, error) {
	return &trakt.UserProfile{Username: "viewer"}, nil
}

func TestTraktDeviceFlow(t *testing.T) {
	client := &fakeTraktClient{}
	tokens := &fakeTraktTokens{}
	h := handlers.NewTraktHandler(client, tokens)

	rec := httptest.NewRecorder()
	h.StartAuth(rec, httptest.NewRequest(http.MethodPost, "/api/trakt/auth/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"userCode":"ABCD1234"`)

	check := func() *httptest.ResponseRecorder {
		req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"deviceCode": "dev"})
		rec := httptest.NewRecorder()
		h.CheckAuth(rec, req)
		return rec
	}

	client.pollErr = trakt.ErrAuthPending
	rec = check()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pending")
	assert.Nil(t, tokens.saved)

	client.pollErr = trakt.ErrDeviceCodeExpired
	assert.Equal(t, http.StatusGone, check().Code)

	client.pollErr = nil
	rec = check()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "linked")
	require.NotNil(t, tokens.saved)
	assert.Equal(t, "at", tokens.saved.AccessToken)
}

func TestTraktProfile(t *testing.T) {
	tokens := &fakeTraktTokens{}
	h := handlers.NewTraktHandler(&fakeTraktClient{}, tokens)

	rec := httptest.NewRecorder()
	h.Profile(rec, httptest.NewRequest(http.MethodGet, "/api/trakt/profile", nil))
	assert.JSONEq(t, `{"linked":false}`, rec.Body.String())

	tokens.linked = true
	rec = httptest.NewRecorder()
	h.Profile(rec, httptest.NewRequest(http.MethodGet, "/api/trakt/profile", nil))
	assert.Contains(t, rec.Body.String(), `"username":"viewer"`)
}
