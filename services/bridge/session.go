package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"

	"reelsync/services/detector"
	"reelsync/services/scrobble"
	"reelsync/services/videometa"
)

var (
	ErrUnknownNode  = errors.New("unknown media node")
	ErrUnknownFrame = errors.New("unknown frame type")
)

// Frame types sent by the extension.
const (
	FrameSnapshot = "snapshot"
	FrameAdded    = "added"
	FrameState    = "state"
	FrameEnded    = "ended"
	FrameRemoved  = "removed"
)

// Frame is one websocket message from the extension.
type Frame struct {
	Type        string   `json:"type"`
	HTML        string   `json:"html,omitempty"`
	ID          string   `json:"id,omitempty"`
	IDs         []string `json:"ids,omitempty"`
	Paused      *bool    `json:"paused,omitempty"`
	Ended       *bool    `json:"ended,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
	Duration    *float64 `json:"duration,omitempty"`
	Title       string   `json:"title,omitempty"`
	Heading     string   `json:"heading,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// Ack is the agent's reply to a frame.
type Ack struct {
	Type  string   `json:"type"` // ack | error
	Added []string `json:"added,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Tracker is the subset of the detector a session drives.
type Tracker interface {
	Observe(root detector.Root, doc videometa.Document) func()
	Track(el detector.Element, doc videometa.Document) bool
	Ended(id string)
	Removed(id string)
}

// Scrobbler receives playback transitions for detected elements.
type Scrobbler interface {
	Pause(ctx context.Context, elementID string) error
	Resume(ctx context.Context, elementID string) error
	End(ctx context.Context, elementID string) error
	Stop(ctx context.Context, elementID string) error
}

// Session connects one page to the detector and the scrobble state machine.
type Session struct {
	page      *Page
	tracker   Tracker
	scrobbler Scrobbler
	unobserve func()
}

func NewSession(page *Page, tracker Tracker, scrobbler Scrobbler) *Session {
	s := &Session{page: page, tracker: tracker, scrobbler: scrobbler}
	s.unobserve = tracker.Observe(page, page)
	return s
}

func (s *Session) Page() *Page { return s.page }

// Apply handles one frame and returns the acknowledgement to send back.
func (s *Session) Apply(ctx context.Context, f Frame) (Ack, error) {
	switch f.Type {
	case FrameSnapshot:
		s.page.SetContext(f.Title, f.Heading, f.URL)
		if f.HTML == "" {
			return Ack{Type: "ack"}, nil
		}
		return s.insert(f.HTML)
	case FrameAdded:
		return s.insert(f.HTML)
	case FrameState:
		return Ack{Type: "ack"}, s.state(ctx, f)
	case FrameEnded:
		ended := true
		if _, err := s.page.Update(f.ID, MediaState{Ended: &ended}); err != nil {
			return Ack{}, err
		}
		s.ended(ctx, f.ID)
		return Ack{Type: "ack"}, nil
	case FrameRemoved:
		ids := f.IDs
		if f.ID != "" {
			ids = append(ids, f.ID)
		}
		for _, id := range ids {
			s.remove(ctx, id)
		}
		return Ack{Type: "ack"}, nil
	default:
		return Ack{}, fmt.Errorf("%w: %q", ErrUnknownFrame, f.Type)
	}
}

func (s *Session) insert(fragment string) (Ack, error) {
	added, err := s.page.Insert(fragment)
	if err != nil {
		return Ack{}, err
	}
	ack := Ack{Type: "ack"}
	for _, n := range added {
		ack.Added = append(ack.Added, n.ReelID())
	}
	return ack, nil
}

func (s *Session) state(ctx context.Context, f Frame) error {
	n, ok := s.page.Node(f.ID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, f.ID)
	}
	wasPaused, wasEnded := n.Paused(), n.Ended()
	if _, err := s.page.Update(f.ID, MediaState{
		Paused:      f.Paused,
		Ended:       f.Ended,
		CurrentTime: f.CurrentTime,
		Duration:    f.Duration,
	}); err != nil {
		return err
	}

	switch {
	case n.Ended() && !wasEnded:
		s.ended(ctx, f.ID)
	case wasEnded && !n.Ended():
		// replay after the end: tracked again, but not detected twice
		s.tracker.Track(n, s.page)
	case !wasPaused && n.Paused():
		s.report("pause", n.ID(), s.scrobbler.Pause(ctx, n.ID()))
	case wasPaused && !n.Paused():
		s.report("resume", n.ID(), s.scrobbler.Resume(ctx, n.ID()))
	}
	return nil
}

func (s *Session) ended(ctx context.Context, reelID string) {
	n, ok := s.page.Node(reelID)
	if !ok {
		return
	}
	s.tracker.Ended(n.ID())
	s.report("end", n.ID(), s.scrobbler.End(ctx, n.ID()))
}

func (s *Session) remove(ctx context.Context, reelID string) {
	n, ok := s.page.Remove(reelID)
	if !ok {
		return
	}
	s.tracker.Removed(n.ID())
	s.report("stop", n.ID(), s.scrobbler.Stop(ctx, n.ID()))
}

// Close treats every remaining node as removed. Used when the tab disconnects.
func (s *Session) Close(ctx context.Context) {
	if s.unobserve != nil {
		s.unobserve()
	}
	for _, el := range s.page.MediaElements() {
		if n, ok := el.(*MediaNode); ok {
			s.remove(ctx, n.ReelID())
		}
	}
}

func (s *Session) report(op, elementID string, err error) {
	if err == nil || errors.Is(err, scrobble.ErrUnknownSession) {
		return
	}
	log.Printf("[bridge] %s for %s failed: %v", op, elementID, err)
}
