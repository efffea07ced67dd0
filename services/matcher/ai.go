package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelsync/models"
	"reelsync/services/videometa"
)

const (
	defaultAIBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultAITimeout = 15 * time.Second
)

const searchPrompt = `You identify movies and TV episodes from the title of a web page playing a video.
Respond with JSON only, shaped as:
{"candidates":[{"mediaType":"movie|show|episode","canonicalId":"trakt:<id>|imdb:<id>|tmdb:<id>|tvdb:<id>","title":"...","year":1999,"season":0,"episode":0,"confidence":0-100}]}
Rank candidates from most to least likely. Use confidence 0-100. Return an empty list when unsure.`

// AIConfig captures the settings for an OpenAI-compatible chat completions endpoint.
type AIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// AISearcher asks a chat completion model for ranked candidates.
type AISearcher struct {
	cfg        AIConfig
	httpClient *http.Client
}

func NewAISearcher(cfg AIConfig, httpClient *http.Client) *AISearcher {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAIBaseURL
	}
	if httpClient == nil {
		timeout := defaultAITimeout
		if cfg.TimeoutSeconds > 0 {
			timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &AISearcher{cfg: cfg, httpClient: httpClient}
}

type aiStatusError struct {
	StatusCode int
	Body       string
}

func (e *aiStatusError) Error() string {
	return fmt.Sprintf("ai search: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *aiStatusError) Temporary() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type aiCandidates struct {
	Candidates []struct {
		MediaType   string  `json:"mediaType"`
		CanonicalID string  `json:"canonicalId"`
		Title       string  `json:"title"`
		Year        int     `json:"year"`
		Season      int     `json:"season"`
		Episode     int     `json:"episode"`
		Confidence  float64 `json:"confidence"`
	} `json:"candidates"`
}

func (s *AISearcher) Search(ctx context.Context, q Query) ([]models.MatchCandidate, error) {
	if s.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	user := fmt.Sprintf("Title: %s\nPlatform: %s", q.Title, videometa.PlatformLabel(q.Platform))
	if q.DurationSeconds > 0 {
		user += fmt.Sprintf("\nDuration: %d minutes", (q.DurationSeconds+30)/60)
	}

	content, err := s.complete(ctx, user)
	if err != nil {
		return nil, err
	}
	var parsed aiCandidates
	if err := decodeModelJSON(content, &parsed); err != nil {
		return nil, fmt.Errorf("ai search: parse payload: %w", err)
	}

	out := make([]models.MatchCandidate, 0, len(parsed.Candidates))
	for _, c := range parsed.Candidates {
		id := strings.TrimSpace(c.CanonicalID)
		if id == "" {
			continue
		}
		out = append(out, models.MatchCandidate{
			MediaType:   models.ParseMediaType(strings.ToLower(strings.TrimSpace(c.MediaType))),
			CanonicalID: id,
			Title:       strings.TrimSpace(c.Title),
			Year:        c.Year,
			Season:      c.Season,
			Episode:     c.Episode,
			Confidence:  clampConfidence(c.Confidence),
		})
	}
	return out, nil
}

func (s *AISearcher) complete(ctx context.Context, user string) (string, error) {
	payload := chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: searchPrompt},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("ai search: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("ai search: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "reelsync")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai search: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ai search: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &aiStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("ai search: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("ai search: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	return "", errors.New("ai search: empty content")
}

// decodeModelJSON tolerates code fences and prose around the JSON object.
func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(trimmed), target); err == nil {
		return nil
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no json object in %q", snippet(trimmed))
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), target)
}

func snippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

func clampConfidence(c float64) float64 {
	// some models answer on a 0-1 scale
	if c > 0 && c <= 1 {
		c *= 100
	}
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
