// Package journal serves read-only journal entries from a fixed set of
// heterogeneous storage backends behind one normalised contract.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"reelsync/models"
)

// ErrNotConfigured is returned by readers whose credentials are missing.
var ErrNotConfigured = errors.New("backend not configured")

// Reader translates one backend's native records into journal entries.
type Reader interface {
	Read(ctx context.Context) ([]models.JournalEntry, error)
}

// ReaderFunc adapts a plain function to Reader.
type ReaderFunc func(ctx context.Context) ([]models.JournalEntry, error)

func (f ReaderFunc) Read(ctx context.Context) ([]models.JournalEntry, error) { return f(ctx) }

// UnknownSourceError is returned for a source name outside the registry.
type UnknownSourceError struct {
	Source string
	Valid  []string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q; valid sources: %s", e.Source, strings.Join(e.Valid, ", "))
}

// SourceError wraps a failure inside one backend reader.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s failed: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Source pairs a name with its reader.
type Source struct {
	Name   string
	Reader Reader
}

// Registry is the static, ordered mapping from source name to reader.
type Registry struct {
	names   []string
	readers map[string]Reader
}

// NewRegistry keeps sources in the given order. A repeated name replaces the
// earlier reader but keeps its position.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{readers: make(map[string]Reader, len(sources))}
	for _, s := range sources {
		if _, exists := r.readers[s.Name]; !exists {
			r.names = append(r.names, s.Name)
		}
		r.readers[s.Name] = s.Reader
	}
	return r
}

// Names lists every registered source, always in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Lookup(name string) (Reader, bool) {
	reader, ok := r.readers[name]
	return reader, ok
}

// Service dispatches reads against a registry.
type Service struct {
	registry *Registry
	timeout  time.Duration
	now      func() time.Time
}

func NewService(registry *Registry, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{registry: registry, timeout: timeout, now: time.Now}
}

// Sources lists every known source regardless of availability.
func (s *Service) Sources() []string {
	return s.registry.Names()
}

// ReadFrom performs one single-shot read. Unknown names yield
// *UnknownSourceError; reader failures and panics yield *SourceError.
func (s *Service) ReadFrom(ctx context.Context, name string) (models.JournalResult, error) {
	reader, ok := s.registry.Lookup(name)
	if !ok {
		return models.JournalResult{}, &UnknownSourceError{Source: name, Valid: s.registry.Names()}
	}

	entries, err := s.read(ctx, name, reader)
	if err != nil {
		log.Printf("[journal] read %s failed: %v", name, err)
		return models.JournalResult{}, &SourceError{Source: name, Err: err}
	}
	return models.JournalResult{
		Entries:   entries,
		Source:    name,
		Count:     len(entries),
		FetchedAt: s.now().UTC(),
	}, nil
}

func (s *Service) read(ctx context.Context, name string, reader Reader) (entries []models.JournalEntry, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var catcher panics.Catcher
	catcher.Try(func() {
		entries, err = reader.Read(ctx)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		return nil, fmt.Errorf("reader panicked: %w", recovered.AsError())
	}
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.JournalEntry{}
	}
	return entries, nil
}

// ReadMany reads several sources concurrently. Every requested name gets its
// own item; one failing source never affects another.
func (s *Service) ReadMany(ctx context.Context, names []string) models.JournalBatchResult {
	out := models.JournalBatchResult{Results: make(map[string]models.JournalBatchItem, len(names))}
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(len(s.registry.names) + 1)
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		name := name
		p.Go(func() {
			item := models.JournalBatchItem{}
			res, err := s.ReadFrom(ctx, name)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Entries = res.Entries
				item.Count = res.Count
			}
			mu.Lock()
			out.Results[name] = item
			mu.Unlock()
		})
	}
	p.Wait()
	out.FetchedAt = s.now().UTC()
	return out
}
