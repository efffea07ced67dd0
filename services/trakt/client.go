package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	traktAPIBaseURL = "https://api.trakt.tv"
	traktAPIVersion = "2"
)

var (
	ErrNotConfigured     = errors.New("trakt client credentials not configured")
	ErrAuthPending       = errors.New("authorization pending")
	ErrDeviceCodeExpired = errors.New("device code expired")
	ErrDeviceCodeUsed    = errors.New("device code already used")
	ErrSlowDown          = errors.New("polling too fast, slow down")
)

// StatusError reports a non-success HTTP response from the Trakt API.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("trakt %s failed: %d %s - %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), strings.TrimSpace(e.Body))
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// Client handles Trakt API interactions for OAuth, search and scrobbling.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

type Option func(*Client)

// WithBaseURL points the client at a different API host (tests, staging).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			c.baseURL = base
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// DeviceCodeResponse represents the response from /oauth/device/code
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// TokenResponse represents the response from /oauth/device/token and /oauth/token
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

// UserProfile represents basic Trakt user information
type UserProfile struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	VIP      bool   `json:"vip"`
	Private  bool   `json:"private"`
	IDs      struct {
		Slug string `json:"slug"`
	} `json:"ids"`
}

// IDs holds external identifiers for a media item
type IDs struct {
	Trakt int    `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int    `json:"tmdb,omitempty"`
	TVDB  int    `json:"tvdb,omitempty"`
}

type Movie struct {
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
	IDs   IDs    `json:"ids"`
}

type Show struct {
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
	IDs   IDs    `json:"ids"`
}

type Episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	IDs    *IDs   `json:"ids,omitempty"`
}

// SearchResult is one hit from /search/{type}.
type SearchResult struct {
	Type  string  `json:"type"` // "movie" or "show"
	Score float64 `json:"score"`
	Movie *Movie  `json:"movie,omitempty"`
	Show  *Show   `json:"show,omitempty"`
}

// NewClient creates a new Trakt API client
func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      traktAPIBaseURL,
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasCredentials reports whether a client id and secret are configured.
func (c *Client) HasCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// setTraktHeaders adds required Trakt API headers to a request
func (c *Client) setTraktHeaders(req *http.Request, accessToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", traktAPIVersion)
	req.Header.Set("trakt-api-key", c.clientID)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

// do issues one request. Responses outside 2xx come back as *StatusError with
// the body attached; a nil out skips decoding.
func (c *Client) do(ctx context.Context, op, method, path, accessToken string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setTraktHeaders(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("trakt api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// GetDeviceCode initiates the device code OAuth flow
func (c *Client) GetDeviceCode(ctx context.Context) (*DeviceCodeResponse, error) {
	if c.clientID == "" {
		return nil, ErrNotConfigured
	}
	var deviceCode DeviceCodeResponse
	payload := map[string]string{"client_id": c.clientID}
	if err := c.do(ctx, "device code", http.MethodPost, "/oauth/device/code", "", payload, &deviceCode); err != nil {
		return nil, err
	}
	return &deviceCode, nil
}

// PollForToken polls for the OAuth token after the user has authorized.
// ErrAuthPending means the user has not finished yet.
func (c *Client) PollForToken(ctx context.Context, deviceCode string) (*TokenResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrNotConfigured
	}
	payload := map[string]string{
		"code":          deviceCode,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	var token TokenResponse
	err := c.do(ctx, "token poll", http.MethodPost, "/oauth/device/token", "", payload, &token)
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusBadRequest:
			// 400 means still waiting for the user
			return nil, ErrAuthPending
		case http.StatusGone:
			return nil, ErrDeviceCodeExpired
		case http.StatusConflict:
			return nil, ErrDeviceCodeUsed
		case http.StatusTooManyRequests:
			return nil, ErrSlowDown
		}
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RefreshAccessToken exchanges a refresh token for a new access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrNotConfigured
	}
	payload := map[string]string{
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	}
	var token TokenResponse
	if err := c.do(ctx, "token refresh", http.MethodPost, "/oauth/token", "", payload, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// GetUserProfile retrieves information about the authenticated user
func (c *Client) GetUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, "user profile", http.MethodGet, "/users/me", accessToken, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Search looks up movies and shows by free-text title.
func (c *Client) Search(ctx context.Context, query string, types ...string) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if len(types) == 0 {
		types = []string{"movie", "show"}
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(10))
	path := "/search/" + strings.Join(types, ",") + "?" + params.Encode()

	var results []SearchResult
	if err := c.do(ctx, "search", http.MethodGet, path, "", nil, &results); err != nil {
		return nil, err
	}
	return results, nil
}
