package models

import "time"

// Platform identifies the site a video was detected on.
type Platform string

const (
	PlatformGeneric     Platform = "generic"
	PlatformYouTube     Platform = "youtube"
	PlatformNetflix     Platform = "netflix"
	PlatformPrimeVideo  Platform = "primevideo"
	PlatformDisneyPlus  Platform = "disneyplus"
	PlatformHulu        Platform = "hulu"
	PlatformMax         Platform = "max"
	PlatformTwitch      Platform = "twitch"
	PlatformVimeo       Platform = "vimeo"
	PlatformDailymotion Platform = "dailymotion"
	PlatformCrunchyroll Platform = "crunchyroll"
	PlatformPlex        Platform = "plex"
	PlatformJellyfin    Platform = "jellyfin"
)

// VideoMetadata is a snapshot of what is known about a tracked video at the
// moment it was extracted. It is never mutated after creation.
type VideoMetadata struct {
	Title              string   `json:"title"`
	Platform           Platform `json:"platform"`
	DurationSeconds    int      `json:"durationSeconds"`
	CurrentTimeSeconds int      `json:"currentTimeSeconds"`
	SourceURL          string   `json:"sourceUrl,omitempty"`
}

// WatchRecord is the lightweight local watch-time history entry written when a
// tracked video crosses the detection threshold.
type WatchRecord struct {
	ID               string        `json:"id"`
	ElementID        string        `json:"elementId"`
	Metadata         VideoMetadata `json:"metadata"`
	WatchTimeSeconds int           `json:"watchTimeSeconds"`
	DetectedAt       time.Time     `json:"detectedAt"`
}
