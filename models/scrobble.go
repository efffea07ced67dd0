package models

import "time"

// MediaType classifies a canonical media item.
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeShow    MediaType = "show"
	MediaTypeEpisode MediaType = "episode"
	MediaTypeUnknown MediaType = "unknown"
)

// ParseMediaType maps loosely formatted type names onto the closed set.
func ParseMediaType(raw string) MediaType {
	switch raw {
	case "movie", "film":
		return MediaTypeMovie
	case "show", "series", "tv":
		return MediaTypeShow
	case "episode":
		return MediaTypeEpisode
	default:
		return MediaTypeUnknown
	}
}

// MatchCandidate is one ranked result returned by a match searcher.
type MatchCandidate struct {
	MediaType   MediaType `json:"mediaType"`
	CanonicalID string    `json:"canonicalId"` // e.g. "trakt:1390", "imdb:tt0133093"
	Title       string    `json:"title,omitempty"`
	Year        int       `json:"year,omitempty"`
	Season      int       `json:"season,omitempty"`
	Episode     int       `json:"episode,omitempty"`
	Confidence  float64   `json:"confidence"` // 0-100
}

// ScrobbleState is the closed set of states of a scrobble session.
type ScrobbleState string

const (
	StateIdle        ScrobbleState = "IDLE"
	StateDetecting   ScrobbleState = "DETECTING"
	StateIdentifying ScrobbleState = "IDENTIFYING"
	StateScrobbling  ScrobbleState = "SCROBBLING"
	StatePaused      ScrobbleState = "PAUSED"
	StateError       ScrobbleState = "ERROR"
)

// ScrobbleSession is a point-in-time view of one session, used by the
// diagnostic API.
type ScrobbleSession struct {
	ID              string           `json:"id"`
	ElementID       string           `json:"elementId"`
	State           ScrobbleState    `json:"state"`
	MediaType       MediaType        `json:"mediaType"`
	CanonicalID     string           `json:"canonicalId,omitempty"`
	Title           string           `json:"title,omitempty"`
	Confidence      float64          `json:"confidence"`
	ProgressPercent float64          `json:"progressPercent"`
	Metadata        VideoMetadata    `json:"metadata"`
	Candidates      []MatchCandidate `json:"candidates,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// ScrobbleRecord is the history entry appended when a session closes.
type ScrobbleRecord struct {
	ID              string        `json:"id"`
	MediaType       MediaType     `json:"mediaType"`
	CanonicalID     string        `json:"canonicalId,omitempty"`
	Title           string        `json:"title"`
	Platform        Platform      `json:"platform"`
	ProgressPercent float64       `json:"progressPercent"`
	FinalState      ScrobbleState `json:"finalState"`
	Outcome         string        `json:"outcome"` // stopped | ended | skipped
	Error           string        `json:"error,omitempty"`
	SourceURL       string        `json:"sourceUrl,omitempty"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	ClosedAt        time.Time     `json:"closedAt"`
}

// UserSettings is the user-editable settings blob persisted in the local store.
type UserSettings struct {
	ScrobblingEnabled   bool    `json:"scrobblingEnabled"`
	ThresholdSeconds    int     `json:"thresholdSeconds,omitempty"`
	ConfidenceThreshold float64 `json:"confidenceThreshold,omitempty"`
}
