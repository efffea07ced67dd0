package scrobble

//go:generate mockgen -source=tracker.go -destination=mock_tracker_test.go -package=scrobble

import (
	"context"

	"reelsync/models"
	"reelsync/services/matcher"
)

// Tracker is the external media tracking service. Progress is 0-100.
type Tracker interface {
	Start(ctx context.Context, item models.MatchCandidate, progress float64) error
	Progress(ctx context.Context, item models.MatchCandidate, progress float64) error
	Pause(ctx context.Context, item models.MatchCandidate, progress float64) error
	Stop(ctx context.Context, item models.MatchCandidate, progress float64) error
}

// Identifier resolves detected metadata to ranked candidates and a decision.
type Identifier interface {
	Identify(ctx context.Context, meta models.VideoMetadata) (matcher.Decision, error)
}

// Playback is the live media element a session follows.
type Playback interface {
	ID() string
	Paused() bool
	CurrentTime() float64
	Duration() float64
}
