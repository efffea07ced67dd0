package matcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"reelsync/models"
	"reelsync/services/videometa"
)

var ErrNotConfigured = errors.New("match searcher not configured")

// Query is what a searcher receives: a cleaned title plus hints.
type Query struct {
	Title           string          `json:"title"`
	Platform        models.Platform `json:"platform"`
	DurationSeconds int             `json:"durationSeconds,omitempty"`
	SourceURL       string          `json:"sourceUrl,omitempty"`
}

// QueryFor builds the lookup query for a metadata snapshot.
func QueryFor(meta models.VideoMetadata) Query {
	title := videometa.CleanTitle(meta.Title)
	if title == "" {
		title = strings.TrimSpace(meta.Title)
	}
	return Query{
		Title:           title,
		Platform:        meta.Platform,
		DurationSeconds: meta.DurationSeconds,
		SourceURL:       meta.SourceURL,
	}
}

// Searcher returns ranked candidates with 0-100 confidences for a query.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]models.MatchCandidate, error)
}

// Identifier runs a searcher and applies the decision policy.
type Identifier struct {
	searcher Searcher
	policy   Policy

	attempts uint
	delay    time.Duration
}

type IdentifierOption func(*Identifier)

// WithRetry sets how many times a transient lookup failure is attempted.
func WithRetry(attempts uint, delay time.Duration) IdentifierOption {
	return func(i *Identifier) {
		i.attempts = attempts
		i.delay = delay
	}
}

func NewIdentifier(searcher Searcher, policy Policy, opts ...IdentifierOption) *Identifier {
	id := &Identifier{searcher: searcher, policy: policy, attempts: 3, delay: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(id)
	}
	if id.attempts == 0 {
		id.attempts = 1
	}
	return id
}

func (i *Identifier) Policy() Policy { return i.policy }

// Identify looks up meta and decides whether the top candidate can be used
// without confirmation. An empty title yields an empty, manual decision.
func (i *Identifier) Identify(ctx context.Context, meta models.VideoMetadata) (Decision, error) {
	q := QueryFor(meta)
	if q.Title == "" {
		return Decision{Reason: "no title to search"}, nil
	}
	if i.searcher == nil {
		return Decision{}, ErrNotConfigured
	}

	candidates, err := retry.DoWithData(
		func() ([]models.MatchCandidate, error) {
			return i.searcher.Search(ctx, q)
		},
		retry.Context(ctx),
		retry.Attempts(i.attempts),
		retry.Delay(i.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[matcher] lookup %q attempt %d failed: %v", q.Title, n+1, err)
		}),
	)
	if err != nil {
		return Decision{}, fmt.Errorf("identify %q: %w", q.Title, err)
	}

	d := Decide(candidates, i.policy)
	log.Printf("[matcher] %q -> %d candidates, auto=%v (%s)", q.Title, len(d.Candidates), d.AutoConfirm, d.Reason)
	return d, nil
}

type temporary interface {
	Temporary() bool
}

// IsTransient reports transport failures and errors that declare themselves
// temporary. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
