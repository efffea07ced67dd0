// Package bridge mirrors a browser tab inside the agent. The extension streams
// inserted HTML fragments and media state; the Page turns them into media
// elements the detector can track.
package bridge

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"reelsync/services/detector"
)

// ReelIDAttr is the attribute the extension stamps on every media node it reports.
const ReelIDAttr = "data-reel-id"

// MediaNode is one <video> or <audio> element on the page.
type MediaNode struct {
	id     string // page-scoped, stable for the node's lifetime
	reelID string
	tag    string

	mu       sync.RWMutex
	paused   bool
	ended    bool
	current  float64
	duration float64
}

func (n *MediaNode) ID() string     { return n.id }
func (n *MediaNode) ReelID() string { return n.reelID }
func (n *MediaNode) Tag() string    { return n.tag }

func (n *MediaNode) Paused() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.paused
}

func (n *MediaNode) Ended() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.ended
}

func (n *MediaNode) CurrentTime() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

func (n *MediaNode) Duration() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.duration
}

// MediaState is a playback update for one node. Nil fields are left unchanged.
type MediaState struct {
	Paused      *bool
	Ended       *bool
	CurrentTime *float64
	Duration    *float64
}

// Page is the agent-side mirror of one tab.
type Page struct {
	id string

	mu      sync.RWMutex
	title   string
	heading string
	url     string
	nodes   map[string]*MediaNode // by reel id
	order   []string
	subs    map[int]func(detector.Element)
	nextSub int
}

func NewPage(id string) *Page {
	return &Page{
		id:    id,
		nodes: make(map[string]*MediaNode),
		subs:  make(map[int]func(detector.Element)),
	}
}

func (p *Page) ID() string { return p.id }

func (p *Page) Title() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.title
}

func (p *Page) Heading() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.heading
}

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

// SetContext replaces the document title, primary heading and URL. An empty
// heading keeps whatever was found in inserted markup.
func (p *Page) SetContext(title, heading, url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = strings.TrimSpace(title)
	if h := strings.TrimSpace(heading); h != "" {
		p.heading = h
	}
	p.url = strings.TrimSpace(url)
}

// MediaElements returns every live media node in insertion order.
func (p *Page) MediaElements() []detector.Element {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]detector.Element, 0, len(p.order))
	for _, reelID := range p.order {
		out = append(out, p.nodes[reelID])
	}
	return out
}

// Node looks up a media node by the id the extension assigned.
func (p *Page) Node(reelID string) (*MediaNode, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n, ok := p.nodes[reelID]
	return n, ok
}

func (p *Page) Subscribe(fn func(detector.Element)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Insert parses an inserted subtree and registers every media node in it,
// nested ones included. Nodes already known are not announced again.
func (p *Page) Insert(fragment string) ([]*MediaNode, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	roots, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}

	var found []*MediaNode
	var heading string
	for _, root := range roots {
		walk(root, func(n *html.Node) {
			switch n.DataAtom {
			case atom.Video, atom.Audio:
				if reelID := attr(n, ReelIDAttr); reelID != "" {
					found = append(found, p.newNode(reelID, n))
				}
			case atom.H1:
				if heading == "" {
					heading = strings.Join(strings.Fields(textContent(n)), " ")
				}
			}
		})
	}

	p.mu.Lock()
	if p.heading == "" && heading != "" {
		p.heading = heading
	}
	added := make([]*MediaNode, 0, len(found))
	for _, n := range found {
		if _, exists := p.nodes[n.reelID]; exists {
			continue
		}
		p.nodes[n.reelID] = n
		p.order = append(p.order, n.reelID)
		added = append(added, n)
	}
	subs := make([]func(detector.Element), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, n := range added {
		for _, fn := range subs {
			fn(n)
		}
	}
	return added, nil
}

// Update applies a playback state change to a known node.
func (p *Page) Update(reelID string, state MediaState) (*MediaNode, error) {
	n, ok := p.Node(reelID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, reelID)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if state.Paused != nil {
		n.paused = *state.Paused
	}
	if state.Ended != nil {
		n.ended = *state.Ended
		if n.ended {
			n.paused = true
		}
	}
	if state.CurrentTime != nil {
		n.current = *state.CurrentTime
	}
	if state.Duration != nil {
		n.duration = *state.Duration
	}
	return n, nil
}

// Remove forgets a node and returns it.
func (p *Page) Remove(reelID string) (*MediaNode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.nodes[reelID]
	if !ok {
		return nil, false
	}
	delete(p.nodes, reelID)
	for i, id := range p.order {
		if id == reelID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return n, true
}

func (p *Page) newNode(reelID string, n *html.Node) *MediaNode {
	_, autoplay := lookupAttr(n, "autoplay")
	return &MediaNode{
		id:     p.id + "/" + reelID,
		reelID: reelID,
		tag:    n.Data,
		paused: !autoplay,
	}
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return strings.TrimSpace(v)
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}
