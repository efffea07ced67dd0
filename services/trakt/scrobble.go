package trakt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"reelsync/models"
)

// Scrobble actions.
const (
	ActionStart = "start"
	ActionPause = "pause"
	ActionStop  = "stop"
)

var ErrUnsupportedItem = errors.New("unsupported canonical id")

// ScrobbleRequest is the body of /scrobble/{action}. Exactly one of Movie or
// Episode is set; Show accompanies Episode when the episode is addressed by
// season and number.
type ScrobbleRequest struct {
	Movie    *Movie   `json:"movie,omitempty"`
	Show     *Show    `json:"show,omitempty"`
	Episode  *Episode `json:"episode,omitempty"`
	Progress float64  `json:"progress"`
}

type ScrobbleResponse struct {
	ID       int64   `json:"id"`
	Action   string  `json:"action"`
	Progress float64 `json:"progress"`
}

// ParseCanonicalID splits "trakt:1390" style identifiers into Trakt ids.
func ParseCanonicalID(canonical string) (IDs, error) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(canonical), ":")
	if !ok || value == "" {
		return IDs{}, fmt.Errorf("%w: %q", ErrUnsupportedItem, canonical)
	}
	var ids IDs
	switch strings.ToLower(scheme) {
	case "trakt", "tmdb", "tvdb":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return IDs{}, fmt.Errorf("%w: %q", ErrUnsupportedItem, canonical)
		}
		switch strings.ToLower(scheme) {
		case "trakt":
			ids.Trakt = n
		case "tmdb":
			ids.TMDB = n
		default:
			ids.TVDB = n
		}
	case "imdb":
		ids.IMDB = value
	case "slug":
		ids.Slug = value
	default:
		return IDs{}, fmt.Errorf("%w: %q", ErrUnsupportedItem, canonical)
	}
	return ids, nil
}

// NewScrobbleRequest builds the request body for a matched item.
func NewScrobbleRequest(item models.MatchCandidate, progress float64) (ScrobbleRequest, error) {
	ids, err := ParseCanonicalID(item.CanonicalID)
	if err != nil {
		return ScrobbleRequest{}, err
	}
	req := ScrobbleRequest{Progress: clampProgress(progress)}
	switch item.MediaType {
	case models.MediaTypeMovie:
		req.Movie = &Movie{Title: item.Title, Year: item.Year, IDs: ids}
	case models.MediaTypeEpisode:
		if item.Season > 0 && item.Episode > 0 {
			req.Show = &Show{Title: item.Title, Year: item.Year, IDs: ids}
			req.Episode = &Episode{Season: item.Season, Number: item.Episode}
		} else {
			req.Episode = &Episode{IDs: &ids}
		}
	case models.MediaTypeShow:
		// a show match without an episode scrobbles the first episode
		req.Show = &Show{Title: item.Title, Year: item.Year, IDs: ids}
		season, number := item.Season, item.Episode
		if season <= 0 {
			season = 1
		}
		if number <= 0 {
			number = 1
		}
		req.Episode = &Episode{Season: season, Number: number}
	case models.MediaTypeUnknown:
		return ScrobbleRequest{}, fmt.Errorf("%w: media type unknown for %q", ErrUnsupportedItem, item.CanonicalID)
	default:
		return ScrobbleRequest{}, fmt.Errorf("%w: media type %q", ErrUnsupportedItem, item.MediaType)
	}
	return req, nil
}

// Scrobble posts a start, pause or stop event. Trakt answers 409 when the
// same item was scrobbled moments ago; that is treated as success.
func (c *Client) Scrobble(ctx context.Context, accessToken, action string, req ScrobbleRequest) (*ScrobbleResponse, error) {
	switch action {
	case ActionStart, ActionPause, ActionStop:
	default:
		return nil, fmt.Errorf("unknown scrobble action %q", action)
	}
	var resp ScrobbleResponse
	err := c.do(ctx, "scrobble "+action, http.MethodPost, "/scrobble/"+action, accessToken, req, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		return &ScrobbleResponse{Action: action, Progress: req.Progress}, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func clampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return math.Round(p*100) / 100
}
