// Package scrobble runs one state machine per detected media element and
// reports playback of confirmed matches to the tracking service.
package scrobble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsync/internal/schedule"
	"reelsync/models"
	"reelsync/services/detector"
	"reelsync/services/kvstore"
	"reelsync/services/matcher"
)

const (
	DefaultProgressInterval = 2 * time.Minute
	callTimeout             = 20 * time.Second
	// closedMemory bounds how many closed session and element ids are
	// remembered for repeated Stop/End calls.
	closedMemory = 256
)

var (
	ErrUnknownSession    = errors.New("unknown scrobble session")
	ErrInvalidTransition = errors.New("invalid scrobble transition")
	ErrDisabled          = errors.New("scrobbling disabled")
	ErrInvalidMatch      = errors.New("invalid match")
)

// Close outcomes recorded in history.
const (
	OutcomeStopped = "stopped"
	OutcomeEnded   = "ended"
	OutcomeSkipped = "skipped"
)

type Options struct {
	Tracker          Tracker
	Identifier       Identifier
	Store            kvstore.Store
	Scheduler        schedule.Scheduler
	Policy           matcher.Policy
	ProgressInterval time.Duration
	HistoryLimit     int
	Disabled         bool
	// Context bounds background work (progress ticks, detections).
	Context context.Context
	Now     func() time.Time
}

// Manager owns every live session, keyed by element id. Operations on one
// element are serialised by that session's lock; different elements proceed
// independently.
type Manager struct {
	opts Options

	mu        sync.Mutex
	byElement map[string]*session
	byID      map[string]*session
	closed    map[string]struct{}
	closedIDs []string
}

type session struct {
	mu sync.Mutex

	id         string
	elementID  string
	playback   Playback
	meta       models.VideoMetadata
	state      models.ScrobbleState
	match      *models.MatchCandidate
	candidates []models.MatchCandidate
	progress   float64
	started    bool // Start succeeded
	stopped    bool // Stop was sent
	closed     bool
	lastErr    string
	startedAt  *time.Time
	updatedAt  time.Time
	task       schedule.Task
}

func NewManager(opts Options) *Manager {
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Ticker{}
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = kvstore.DefaultAppendLimit
	}
	if opts.Policy.Threshold <= 0 {
		opts.Policy = matcher.DefaultPolicy()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		opts:      opts,
		byElement: make(map[string]*session),
		byID:      make(map[string]*session),
		closed:    make(map[string]struct{}),
	}
}

// OnDetected adapts detector events; identification runs in the background.
func (m *Manager) OnDetected(det detector.Detection) {
	go func() {
		if _, err := m.Detected(m.opts.Context, det.Element, det.Metadata); err != nil && !errors.Is(err, ErrDisabled) {
			log.Printf("[scrobble] detection of %s failed: %v", det.Element.ID(), err)
		}
	}()
}

// Detected opens a session for a newly detected element and identifies it.
// A confident match goes straight to SCROBBLING; otherwise the session waits
// in IDENTIFYING for Confirm or Skip. Detecting an element that already has a
// live session returns that session unchanged.
func (m *Manager) Detected(ctx context.Context, pb Playback, meta models.VideoMetadata) (models.ScrobbleSession, error) {
	if pb == nil {
		return models.ScrobbleSession{}, fmt.Errorf("%w: nil playback", ErrInvalidTransition)
	}
	settings := m.userSettings(ctx)
	if m.opts.Disabled || !settings.ScrobblingEnabled {
		return models.ScrobbleSession{}, ErrDisabled
	}

	m.mu.Lock()
	if existing, ok := m.byElement[pb.ID()]; ok {
		m.mu.Unlock()
		return existing.snapshot(), nil
	}
	s := &session{
		id:        uuid.NewString(),
		elementID: pb.ID(),
		playback:  pb,
		meta:      meta,
		state:     models.StateIdle,
		updatedAt: m.now(),
	}
	s.mu.Lock()
	m.byElement[s.elementID] = s
	m.byID[s.id] = s
	m.mu.Unlock()
	defer s.mu.Unlock()

	m.setState(s, models.StateDetecting)
	log.Printf("[scrobble] session %s opened for %s: %q", s.id, s.elementID, meta.Title)
	m.identifyLocked(ctx, s, settings)
	return s.snapshotLocked(), nil
}

func (m *Manager) identifyLocked(ctx context.Context, s *session, settings models.UserSettings) {
	m.setState(s, models.StateIdentifying)
	if m.opts.Identifier == nil {
		return
	}
	decision, err := m.opts.Identifier.Identify(ctx, s.meta)
	if err != nil {
		m.fail(s, fmt.Errorf("identify: %w", err))
		return
	}
	if settings.ConfidenceThreshold > 0 && settings.ConfidenceThreshold != m.opts.Policy.Threshold {
		policy := m.opts.Policy
		policy.Threshold = settings.ConfidenceThreshold
		decision = matcher.Decide(decision.Candidates, policy)
	}
	s.candidates = decision.Candidates
	s.match = decision.Match
	if !decision.AutoConfirm {
		log.Printf("[scrobble] session %s needs confirmation: %s", s.id, decision.Reason)
		return
	}
	m.startLocked(ctx, s)
}

// startLocked sends the one Start of a session and enters SCROBBLING.
func (m *Manager) startLocked(ctx context.Context, s *session) {
	item := *s.match
	progress := m.sample(s)
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := m.opts.Tracker.Start(callCtx, item, progress); err != nil {
		m.fail(s, fmt.Errorf("start: %w", err))
		return
	}
	s.started = true
	now := m.now()
	s.startedAt = &now
	s.lastErr = ""
	m.setState(s, models.StateScrobbling)
	m.ensureTicker(s)
	log.Printf("[scrobble] session %s scrobbling %s (%s) at %.1f%%", s.id, item.CanonicalID, item.Title, progress)

	// The element may have paused while the session waited for a match.
	if s.playback.Paused() {
		if err := m.opts.Tracker.Pause(callCtx, item, m.sample(s)); err != nil {
			m.fail(s, fmt.Errorf("pause: %w", err))
			return
		}
		m.setState(s, models.StatePaused)
	}
}

func (m *Manager) ensureTicker(s *session) {
	if s.task != nil {
		return
	}
	s.task = m.opts.Scheduler.Every(m.opts.ProgressInterval, func() { m.tick(s) })
}

// tick is the periodic progress update. An errored session that had started
// gets one recovery attempt per tick.
func (m *Manager) tick(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ctx, cancel := context.WithTimeout(m.opts.Context, callTimeout)
	defer cancel()

	switch s.state {
	case models.StateScrobbling:
		progress := m.sample(s)
		if s.playback.Paused() {
			if err := m.opts.Tracker.Pause(ctx, *s.match, progress); err != nil {
				m.fail(s, fmt.Errorf("pause: %w", err))
				return
			}
			m.setState(s, models.StatePaused)
			return
		}
		if err := m.opts.Tracker.Progress(ctx, *s.match, progress); err != nil {
			m.fail(s, fmt.Errorf("progress: %w", err))
			return
		}
		s.updatedAt = m.now()
	case models.StateError:
		if s.started {
			m.recoverLocked(ctx, s)
		}
	case models.StateIdle, models.StateDetecting, models.StateIdentifying, models.StatePaused:
	}
}

// recoverLocked brings an errored, started session back in line with playback.
func (m *Manager) recoverLocked(ctx context.Context, s *session) {
	progress := m.sample(s)
	if s.playback.Paused() {
		if err := m.opts.Tracker.Pause(ctx, *s.match, progress); err != nil {
			m.fail(s, fmt.Errorf("recover: %w", err))
			return
		}
		s.lastErr = ""
		m.setState(s, models.StatePaused)
		return
	}
	if err := m.opts.Tracker.Progress(ctx, *s.match, progress); err != nil {
		m.fail(s, fmt.Errorf("recover: %w", err))
		return
	}
	s.lastErr = ""
	m.setState(s, models.StateScrobbling)
	log.Printf("[scrobble] session %s recovered", s.id)
}

// Confirm resolves a session waiting in IDENTIFYING. The choice is matched
// against the offered candidates by canonical id; an id that was not offered
// is accepted as a manual match when it carries a media type.
func (m *Manager) Confirm(ctx context.Context, ref string, choice models.MatchCandidate) (models.ScrobbleSession, error) {
	s, err := m.lock(ref)
	if err != nil {
		return models.ScrobbleSession{}, err
	}
	defer s.mu.Unlock()

	if s.state != models.StateIdentifying {
		return s.snapshotLocked(), fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, s.state)
	}
	picked, ok := pickCandidate(s.candidates, choice)
	if !ok {
		return s.snapshotLocked(), fmt.Errorf("%w: %q", ErrInvalidMatch, choice.CanonicalID)
	}
	s.match = &picked
	m.startLocked(ctx, s)
	return s.snapshotLocked(), nil
}

func pickCandidate(candidates []models.MatchCandidate, choice models.MatchCandidate) (models.MatchCandidate, bool) {
	if choice.CanonicalID == "" {
		if len(candidates) == 0 {
			return models.MatchCandidate{}, false
		}
		return candidates[0], true
	}
	for _, c := range candidates {
		if c.CanonicalID == choice.CanonicalID {
			return c, true
		}
	}
	switch choice.MediaType {
	case models.MediaTypeMovie, models.MediaTypeShow, models.MediaTypeEpisode:
		choice.Confidence = 100
		return choice, true
	case models.MediaTypeUnknown:
		return models.MatchCandidate{}, false
	default:
		return models.MatchCandidate{}, false
	}
}

// Skip abandons a session that has not started scrobbling.
func (m *Manager) Skip(ctx context.Context, ref string) (models.ScrobbleSession, error) {
	s, err := m.lock(ref)
	if err != nil {
		return models.ScrobbleSession{}, err
	}
	defer s.mu.Unlock()
	if s.started {
		return s.snapshotLocked(), fmt.Errorf("%w: skip from %s", ErrInvalidTransition, s.state)
	}
	m.closeLocked(ctx, s, OutcomeSkipped)
	return s.snapshotLocked(), nil
}

// Pause reacts to the element pausing.
func (m *Manager) Pause(ctx context.Context, elementID string) error {
	s, err := m.lock(elementID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	switch s.state {
	case models.StateScrobbling:
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		if err := m.opts.Tracker.Pause(callCtx, *s.match, m.sample(s)); err != nil {
			m.fail(s, fmt.Errorf("pause: %w", err))
			return nil
		}
		m.setState(s, models.StatePaused)
	case models.StateIdle, models.StateDetecting, models.StateIdentifying, models.StatePaused, models.StateError:
		m.sample(s)
	}
	return nil
}

// Resume reacts to the element playing again after a pause.
func (m *Manager) Resume(ctx context.Context, elementID string) error {
	s, err := m.lock(elementID)
	if err != nil {
		return err
	}
	defer s.mu.Unlock()

	switch s.state {
	case models.StatePaused:
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		if err := m.opts.Tracker.Progress(callCtx, *s.match, m.sample(s)); err != nil {
			m.fail(s, fmt.Errorf("resume: %w", err))
			return nil
		}
		m.setState(s, models.StateScrobbling)
	case models.StateIdle, models.StateDetecting, models.StateIdentifying, models.StateScrobbling, models.StateError:
		m.sample(s)
	}
	return nil
}

// Stop closes a session because the user stopped it or the element went away.
func (m *Manager) Stop(ctx context.Context, ref string) error {
	return m.finish(ctx, ref, OutcomeStopped)
}

// End closes a session because playback reached the end.
func (m *Manager) End(ctx context.Context, elementID string) error {
	return m.finish(ctx, elementID, OutcomeEnded)
}

// finish closes a live session. Stopping or ending a session that is already
// closed is a no-op.
func (m *Manager) finish(ctx context.Context, ref, outcome string) error {
	s, err := m.lock(ref)
	if errors.Is(err, ErrUnknownSession) && m.recentlyClosed(ref) {
		return nil
	}
	if err != nil {
		return err
	}
	defer s.mu.Unlock()
	m.closeLocked(ctx, s, outcome)
	return nil
}

// Retry re-attempts whatever left a session in ERROR: identification, the
// initial start, or bringing a started session back in line with playback.
func (m *Manager) Retry(ctx context.Context, ref string) (models.ScrobbleSession, error) {
	s, err := m.lock(ref)
	if err != nil {
		return models.ScrobbleSession{}, err
	}
	defer s.mu.Unlock()
	if s.state != models.StateError {
		return s.snapshotLocked(), fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.state)
	}

	switch {
	case s.started:
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		m.recoverLocked(callCtx, s)
	case s.match != nil:
		m.startLocked(ctx, s)
	default:
		m.identifyLocked(ctx, s, m.userSettings(ctx))
	}
	return s.snapshotLocked(), nil
}

// closeLocked moves the session to IDLE, sends at most one Stop, and records
// history whatever the tracker said.
func (m *Manager) closeLocked(ctx context.Context, s *session, outcome string) {
	if s.closed {
		return
	}
	final := s.state
	progress := m.sample(s)
	if outcome == OutcomeEnded {
		progress = math.Max(progress, 100)
		s.progress = progress
	}

	var stopErr error
	if s.started && !s.stopped {
		s.stopped = true
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		stopErr = m.opts.Tracker.Stop(callCtx, *s.match, progress)
		cancel()
		if stopErr != nil {
			s.lastErr = stopErr.Error()
			log.Printf("[scrobble] session %s stop failed: %v", s.id, stopErr)
		}
	}
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
	s.closed = true
	m.setState(s, models.StateIdle)

	m.mu.Lock()
	if m.byElement[s.elementID] == s {
		delete(m.byElement, s.elementID)
	}
	delete(m.byID, s.id)
	m.rememberClosedLocked(s.id, s.elementID)
	m.mu.Unlock()

	record := models.ScrobbleRecord{
		ID:              uuid.NewString(),
		MediaType:       models.MediaTypeUnknown,
		Title:           s.meta.Title,
		Platform:        s.meta.Platform,
		ProgressPercent: s.progress,
		FinalState:      final,
		Outcome:         outcome,
		Error:           s.lastErr,
		SourceURL:       s.meta.SourceURL,
		StartedAt:       s.startedAt,
		ClosedAt:        m.now(),
	}
	if s.match != nil {
		record.MediaType = s.match.MediaType
		record.CanonicalID = s.match.CanonicalID
		if s.match.Title != "" {
			record.Title = s.match.Title
		}
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.Append(context.WithoutCancel(ctx), kvstore.KeyScrobbleHistory, record, m.opts.HistoryLimit); err != nil {
			log.Printf("[scrobble] failed to record history for %s: %v", s.id, err)
		}
	}
	log.Printf("[scrobble] session %s closed (%s) from %s at %.1f%%", s.id, outcome, final, s.progress)
}

// Sessions returns a snapshot of every live session.
func (m *Manager) Sessions() []models.ScrobbleSession {
	m.mu.Lock()
	all := make([]*session, 0, len(m.byID))
	for _, s := range m.byID {
		all = append(all, s)
	}
	m.mu.Unlock()

	out := make([]models.ScrobbleSession, 0, len(all))
	for _, s := range all {
		out = append(out, s.snapshot())
	}
	return out
}

// Session returns one live session by session id or element id.
func (m *Manager) Session(ref string) (models.ScrobbleSession, error) {
	s, ok := m.find(ref)
	if !ok {
		return models.ScrobbleSession{}, ErrUnknownSession
	}
	return s.snapshot(), nil
}

// History returns closed sessions, newest first.
func (m *Manager) History(ctx context.Context) ([]models.ScrobbleRecord, error) {
	if m.opts.Store == nil {
		return nil, nil
	}
	return kvstore.List[models.ScrobbleRecord](ctx, m.opts.Store, kvstore.KeyScrobbleHistory)
}

// Close stops every live session.
func (m *Manager) Close(ctx context.Context) {
	for _, snap := range m.Sessions() {
		_ = m.Stop(ctx, snap.ID)
	}
}

func (m *Manager) rememberClosedLocked(refs ...string) {
	for _, ref := range refs {
		if _, ok := m.closed[ref]; ok {
			continue
		}
		m.closed[ref] = struct{}{}
		m.closedIDs = append(m.closedIDs, ref)
	}
	for len(m.closedIDs) > closedMemory {
		delete(m.closed, m.closedIDs[0])
		m.closedIDs = m.closedIDs[1:]
	}
}

func (m *Manager) recentlyClosed(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.closed[ref]
	return ok
}

func (m *Manager) find(ref string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byElement[ref]; ok {
		return s, true
	}
	s, ok := m.byID[ref]
	return s, ok
}

// lock returns a live session with its lock held.
func (m *Manager) lock(ref string) (*session, error) {
	s, ok := m.find(ref)
	if !ok {
		return nil, ErrUnknownSession
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrUnknownSession
	}
	return s, nil
}

func (m *Manager) userSettings(ctx context.Context) models.UserSettings {
	settings := models.UserSettings{ScrobblingEnabled: true}
	if m.opts.Store == nil {
		return settings
	}
	if _, err := m.opts.Store.Get(ctx, kvstore.KeyUserSettings, &settings); err != nil {
		log.Printf("[scrobble] failed to read user settings: %v", err)
	}
	return settings
}

func (m *Manager) setState(s *session, next models.ScrobbleState) {
	s.state = next
	s.updatedAt = m.now()
}

func (m *Manager) fail(s *session, err error) {
	s.lastErr = err.Error()
	m.setState(s, models.StateError)
	log.Printf("[scrobble] session %s error: %v", s.id, err)
}

// sample reads the element position and returns the session progress, which
// never goes backwards.
func (m *Manager) sample(s *session) float64 {
	if p := percent(s.playback.CurrentTime(), s.playback.Duration()); p > s.progress {
		s.progress = p
	}
	return s.progress
}

func percent(current, duration float64) float64 {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) || math.IsNaN(current) || current < 0 {
		return 0
	}
	p := current / duration * 100
	if p > 100 {
		return 100
	}
	return p
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

func (s *session) snapshot() models.ScrobbleSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *session) snapshotLocked() models.ScrobbleSession {
	snap := models.ScrobbleSession{
		ID:              s.id,
		ElementID:       s.elementID,
		State:           s.state,
		MediaType:       models.MediaTypeUnknown,
		ProgressPercent: s.progress,
		Metadata:        s.meta,
		Candidates:      append([]models.MatchCandidate(nil), s.candidates...),
		LastError:       s.lastErr,
		StartedAt:       s.startedAt,
		UpdatedAt:       s.updatedAt,
	}
	if s.match != nil {
		snap.MediaType = s.match.MediaType
		snap.CanonicalID = s.match.CanonicalID
		snap.Title = s.match.Title
		snap.Confidence = s.match.Confidence
	}
	if snap.Title == "" {
		snap.Title = s.meta.Title
	}
	return snap
}
