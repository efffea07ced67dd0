package trakt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"reelsync/services/kvstore"
)

// refreshWindow is how close to expiry a token may get before it is refreshed.
const refreshWindow = time.Hour

var ErrNotAuthorized = errors.New("trakt account not linked")

// Token is the persisted OAuth state under auth/token.
type Token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // unix seconds
	Scope        string `json:"scope,omitempty"`
}

func TokenFromResponse(resp *TokenResponse) Token {
	return Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.CreatedAt + int64(resp.ExpiresIn),
		Scope:        resp.Scope,
	}
}

// TokenSource hands out valid access tokens, refreshing them through the
// client when they are about to expire.
type TokenSource struct {
	client *Client
	store  kvstore.Store
	now    func() time.Time

	refreshAttempts uint
	refreshDelay    time.Duration

	mu sync.Mutex
}

func NewTokenSource(client *Client, store kvstore.Store) *TokenSource {
	return &TokenSource{
		client:          client,
		store:           store,
		now:             time.Now,
		refreshAttempts: 3,
		refreshDelay:    time.Second,
	}
}

// Linked reports whether an access token is stored.
func (s *TokenSource) Linked(ctx context.Context) bool {
	var tok Token
	found, err := s.store.Get(ctx, kvstore.KeyAuthToken, &tok)
	return err == nil && found && tok.AccessToken != ""
}

// AccessToken returns a valid access token, refreshing when within one hour of expiry.
func (s *TokenSource) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tok Token
	found, err := s.store.Get(ctx, kvstore.KeyAuthToken, &tok)
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	if !found || tok.AccessToken == "" {
		return "", ErrNotAuthorized
	}

	if tok.ExpiresAt > 0 && tok.RefreshToken != "" {
		expiresIn := time.Unix(tok.ExpiresAt, 0).Sub(s.now())
		if expiresIn < refreshWindow {
			refreshed, err := s.refresh(ctx, tok.RefreshToken)
			if err != nil {
				return "", err
			}
			return refreshed.AccessToken, nil
		}
	}
	return tok.AccessToken, nil
}

func (s *TokenSource) refresh(ctx context.Context, refreshToken string) (Token, error) {
	resp, err := retry.DoWithData(
		func() (*TokenResponse, error) {
			return s.client.RefreshAccessToken(ctx, refreshToken)
		},
		retry.Context(ctx),
		retry.Attempts(s.refreshAttempts),
		retry.Delay(s.refreshDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
	)
	if err != nil {
		return Token{}, fmt.Errorf("refresh token: %w", err)
	}
	tok := TokenFromResponse(resp)
	if err := s.store.Set(ctx, kvstore.KeyAuthToken, tok); err != nil {
		return Token{}, fmt.Errorf("save refreshed token: %w", err)
	}
	log.Printf("[trakt] access token refreshed, expires %s", time.Unix(tok.ExpiresAt, 0).UTC().Format(time.RFC3339))
	return tok, nil
}

// Save stores a freshly issued token and drops any cached profile.
func (s *TokenSource) Save(ctx context.Context, resp *TokenResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Set(ctx, kvstore.KeyAuthToken, TokenFromResponse(resp)); err != nil {
		return err
	}
	return s.store.Remove(ctx, kvstore.KeyAuthProfile)
}

// Unlink forgets the token and profile.
func (s *TokenSource) Unlink(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Remove(ctx, kvstore.KeyAuthToken); err != nil {
		return err
	}
	return s.store.Remove(ctx, kvstore.KeyAuthProfile)
}

// Profile returns the cached user profile, fetching it on first use.
func (s *TokenSource) Profile(ctx context.Context) (*UserProfile, error) {
	var cached UserProfile
	if found, err := s.store.Get(ctx, kvstore.KeyAuthProfile, &cached); err == nil && found && cached.Username != "" {
		return &cached, nil
	}
	token, err := s.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.client.GetUserProfile(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, kvstore.KeyAuthProfile, profile); err != nil {
		log.Printf("[trakt] failed to cache profile: %v", err)
	}
	return profile, nil
}

// IsTransient reports whether err is worth retrying: rate limits, server
// errors and transport failures, but never context cancellation.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
