// Package detector tracks media elements on a page and reports each one once
// its accumulated playing time crosses the detection threshold.
package detector

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsync/internal/schedule"
	"reelsync/models"
	"reelsync/services/kvstore"
	"reelsync/services/videometa"
)

const (
	DefaultThreshold = 30 * time.Second
	DefaultInterval  = time.Second
)

// Element is a playable media node.
type Element interface {
	ID() string
	Paused() bool
	Ended() bool
	CurrentTime() float64
	Duration() float64
}

// Root is a page that can enumerate its media elements and announce new ones.
type Root interface {
	MediaElements() []Element
	// Subscribe registers fn for elements added after the call. The returned
	// function removes the subscription.
	Subscribe(fn func(Element)) func()
}

// Detection is emitted exactly once per tracked element.
type Detection struct {
	Element          Element
	Metadata         models.VideoMetadata
	WatchTimeSeconds int
	DetectedAt       time.Time
}

type Options struct {
	Scheduler    schedule.Scheduler
	Threshold    time.Duration
	Interval     time.Duration
	Store        kvstore.Store // optional; receives watch records
	HistoryLimit int
	OnDetected   func(Detection)
	Now          func() time.Time
}

type tracked struct {
	element   Element
	doc       videometa.Document
	task      schedule.Task
	threshold time.Duration
	watchTime int
	hasLogged bool
}

// Detector owns one periodic task per tracked element.
type Detector struct {
	opts Options
	step int

	mu      sync.Mutex
	tracked map[string]*tracked
	// ended holds elements that finished after being detected; a replay keeps
	// them detected until the element leaves the page.
	ended map[string]struct{}
}

func New(opts Options) *Detector {
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.Ticker{}
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = kvstore.DefaultAppendLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	step := int(opts.Interval / time.Second)
	if step < 1 {
		step = 1
	}
	return &Detector{
		opts:    opts,
		step:    step,
		tracked: make(map[string]*tracked),
		ended:   make(map[string]struct{}),
	}
}

// Observe tracks every media element already on root and every one added later.
// Call the returned function to stop watching for additions.
func (d *Detector) Observe(root Root, doc videometa.Document) func() {
	unsubscribe := root.Subscribe(func(el Element) {
		d.Track(el, doc)
	})
	for _, el := range root.MediaElements() {
		d.Track(el, doc)
	}
	return unsubscribe
}

// Track starts watching el. Tracking an element twice is a no-op and reports false.
func (d *Detector) Track(el Element, doc videometa.Document) bool {
	if el == nil {
		return false
	}
	id := el.ID()
	threshold := d.threshold()

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tracked[id]; ok {
		return false
	}
	_, replay := d.ended[id]
	t := &tracked{element: el, doc: doc, threshold: threshold, hasLogged: replay}
	d.tracked[id] = t
	t.task = d.opts.Scheduler.Every(d.opts.Interval, func() { d.tick(id) })
	return true
}

func (d *Detector) tick(id string) {
	d.mu.Lock()
	t, ok := d.tracked[id]
	if !ok {
		d.mu.Unlock()
		return
	}
	if t.element.Paused() || t.element.Ended() {
		d.mu.Unlock()
		return
	}
	t.watchTime += d.step
	fire := !t.hasLogged && time.Duration(t.watchTime)*time.Second >= t.threshold
	if fire {
		t.hasLogged = true
	}
	el, doc, watched := t.element, t.doc, t.watchTime
	d.mu.Unlock()

	if fire {
		d.detect(el, doc, watched)
	}
}

func (d *Detector) detect(el Element, doc videometa.Document, watched int) {
	det := Detection{
		Element:          el,
		Metadata:         videometa.Extract(el, doc),
		WatchTimeSeconds: watched,
		DetectedAt:       d.opts.Now().UTC(),
	}
	log.Printf("[detector] %s detected after %ds: %q on %s", el.ID(), watched, det.Metadata.Title, det.Metadata.Platform)

	if d.opts.Store != nil {
		record := models.WatchRecord{
			ID:               uuid.NewString(),
			ElementID:        el.ID(),
			Metadata:         det.Metadata,
			WatchTimeSeconds: watched,
			DetectedAt:       det.DetectedAt,
		}
		if err := d.opts.Store.Append(context.Background(), kvstore.KeyWatchHistory, record, d.opts.HistoryLimit); err != nil {
			log.Printf("[detector] failed to record watch history for %s: %v", el.ID(), err)
		}
	}
	if d.opts.OnDetected != nil {
		d.opts.OnDetected(det)
	}
}

// Ended stops tracking an element that finished playing.
func (d *Detector) Ended(id string) {
	d.mu.Lock()
	if t, ok := d.tracked[id]; ok && t.hasLogged {
		d.ended[id] = struct{}{}
	}
	d.mu.Unlock()
	d.drop(id)
}

// Removed stops tracking an element that left the page.
func (d *Detector) Removed(id string) {
	d.mu.Lock()
	delete(d.ended, id)
	d.mu.Unlock()
	d.drop(id)
}

// threshold is the user's stored watch threshold, or the configured one.
func (d *Detector) threshold() time.Duration {
	if d.opts.Store == nil {
		return d.opts.Threshold
	}
	var settings models.UserSettings
	if _, err := d.opts.Store.Get(context.Background(), kvstore.KeyUserSettings, &settings); err != nil {
		log.Printf("[detector] failed to read user settings: %v", err)
		return d.opts.Threshold
	}
	if settings.ThresholdSeconds > 0 {
		return time.Duration(settings.ThresholdSeconds) * time.Second
	}
	return d.opts.Threshold
}

func (d *Detector) drop(id string) {
	d.mu.Lock()
	t, ok := d.tracked[id]
	delete(d.tracked, id)
	d.mu.Unlock()
	if ok && t.task != nil {
		t.task.Cancel()
	}
}

// WatchTime reports accumulated playing seconds for a tracked element.
func (d *Detector) WatchTime(id string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tracked[id]
	if !ok {
		return 0, false
	}
	return t.watchTime, true
}

func (d *Detector) HasLogged(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tracked[id]
	return ok && t.hasLogged
}

// Tracked returns the number of elements currently being watched.
func (d *Detector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracked)
}

// Close cancels every task.
func (d *Detector) Close() {
	d.mu.Lock()
	all := d.tracked
	d.tracked = make(map[string]*tracked)
	d.ended = make(map[string]struct{})
	d.mu.Unlock()
	for _, t := range all {
		t.task.Cancel()
	}
}
