package trakt

import (
	"context"
	"fmt"
	"log"

	"reelsync/models"
)

// Scrobbler reports playback of matched items to Trakt. It satisfies the
// scrobble state machine's tracker contract.
type Scrobbler struct {
	client *Client
	tokens *TokenSource
}

func NewScrobbler(client *Client, tokens *TokenSource) *Scrobbler {
	return &Scrobbler{client: client, tokens: tokens}
}

// IsLinked reports whether an account is connected.
func (s *Scrobbler) IsLinked(ctx context.Context) bool {
	return s.tokens.Linked(ctx)
}

func (s *Scrobbler) Start(ctx context.Context, item models.MatchCandidate, progress float64) error {
	return s.send(ctx, ActionStart, item, progress)
}

// Progress refreshes the playback position. Trakt models this as another start.
func (s *Scrobbler) Progress(ctx context.Context, item models.MatchCandidate, progress float64) error {
	return s.send(ctx, ActionStart, item, progress)
}

func (s *Scrobbler) Pause(ctx context.Context, item models.MatchCandidate, progress float64) error {
	return s.send(ctx, ActionPause, item, progress)
}

func (s *Scrobbler) Stop(ctx context.Context, item models.MatchCandidate, progress float64) error {
	return s.send(ctx, ActionStop, item, progress)
}

func (s *Scrobbler) send(ctx context.Context, action string, item models.MatchCandidate, progress float64) error {
	req, err := NewScrobbleRequest(item, progress)
	if err != nil {
		return err
	}
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	resp, err := s.client.Scrobble(ctx, token, action, req)
	if err != nil {
		return fmt.Errorf("scrobble %s %s: %w", action, item.CanonicalID, err)
	}
	log.Printf("[trakt] scrobble %s %s at %.1f%%", resp.Action, item.CanonicalID, req.Progress)
	return nil
}
