package backends

import (
	"errors"
	"io"
	"net/http"
	"time"

	"reelsync/config"
	"reelsync/services/journal"
)

// Order is the fixed registration order of journal sources.
var Order = []string{"d1", "turso", "neon", "supabase", "sqlite", "mongodb", "firestore", "redis", "kv", "r2", "github"}

// Endpoints overrides REST base URLs, mainly for tests.
type Endpoints struct {
	Cloudflare string
	Firestore  string
	GitHub     string
}

// Set is the constructed reader set plus whatever needs closing on shutdown.
type Set struct {
	Registry *journal.Registry
	closers  []io.Closer
}

// Close releases pooled connections held by the database readers.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds every reader from cfg. Every source is registered even when its
// credentials are missing; such readers fail with journal.ErrNotConfigured.
func New(cfg config.JournalSettings, httpClient *http.Client, ep Endpoints) *Set {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	neon := NewNeonReader(cfg.Neon)
	sqlite := NewSQLiteReader(cfg.SQLite)
	mongo := NewMongoReader(cfg.MongoDB)
	redis := NewRedisReader(cfg.Redis)

	readers := map[string]journal.Reader{
		"d1":        NewD1Reader(cfg.D1, httpClient, ep.Cloudflare),
		"turso":     NewTursoReader(cfg.Turso, httpClient),
		"neon":      neon,
		"supabase":  NewSupabaseReader(cfg.Supabase, httpClient),
		"sqlite":    sqlite,
		"mongodb":   mongo,
		"firestore": NewFirestoreReader(cfg.Firestore, httpClient, ep.Firestore),
		"redis":     redis,
		"kv":        NewKVReader(cfg.KV, httpClient, ep.Cloudflare),
		"r2":        NewR2Reader(cfg.R2, httpClient),
		"github":    NewGitHubReader(cfg.GitHub, httpClient, ep.GitHub),
	}
	sources := make([]journal.Source, 0, len(Order))
	for _, name := range Order {
		sources = append(sources, journal.Source{Name: name, Reader: readers[name]})
	}
	return &Set{
		Registry: journal.NewRegistry(sources...),
		closers:  []io.Closer{neon, sqlite, mongo, redis},
	}
}
