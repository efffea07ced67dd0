package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Log      LogConfig        `json:"log"`
	Storage  StorageSettings  `json:"storage"`
	Proxy    ProxySettings    `json:"proxy"`
	Journal  JournalSettings  `json:"journal"`
	Agent    AgentSettings    `json:"agent"`
	Scrobble ScrobbleSettings `json:"scrobble"`
	Matcher  MatcherSettings  `json:"matcher"`
	Trakt    TraktSettings    `json:"trakt"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LogConfig controls file logging with rotation.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// StorageSettings selects the local key-value store backing the scrobble agent.
type StorageSettings struct {
	Directory string `json:"directory"`
	Backend   string `json:"backend"` // file | sqlite
}

// ProxySettings configures the journal aggregation proxy surface.
type ProxySettings struct {
	Enabled         bool   `json:"enabled"`
	AllowedOrigin   string `json:"allowedOrigin"`
	CacheMaxAgeSecs int    `json:"cacheMaxAgeSeconds"`
}

// AgentSettings configures the scrobble agent surface used by the browser extension.
type AgentSettings struct {
	Enabled        bool     `json:"enabled"`
	AllowedOrigins []string `json:"allowedOrigins"`
}

// ScrobbleSettings holds the detector and state machine timings.
type ScrobbleSettings struct {
	ThresholdSeconds        int `json:"thresholdSeconds"`        // watch time before a video counts as detected
	CheckIntervalSeconds    int `json:"checkIntervalSeconds"`    // watch-time sampling cadence
	ProgressIntervalSeconds int `json:"progressIntervalSeconds"` // progress update cadence while scrobbling
	HistoryLimit            int `json:"historyLimit"`
}

// MatcherSettings configures how a detected title is resolved to canonical media.
type MatcherSettings struct {
	Provider            string     `json:"provider"` // ai | trakt
	ConfidenceThreshold float64    `json:"confidenceThreshold"`
	TieMargin           float64    `json:"tieMargin"`
	AI                  AISettings `json:"ai"`
}

type AISettings struct {
	APIKey         string `json:"apiKey"`
	BaseURL        string `json:"baseUrl"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// TraktSettings holds the application credentials. OAuth tokens live in the
// local key-value store, not here.
type TraktSettings struct {
	ClientID          string `json:"clientId"`
	ClientSecret      string `json:"clientSecret"`
	ScrobblingEnabled bool   `json:"scrobblingEnabled"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{Host: "0.0.0.0", Port: 8787},
		Log: LogConfig{
			File:       "cache/logs/reelsync.log",
			Level:      "info",
			MaxSize:    20, // MB per file
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		},
		Storage: StorageSettings{Directory: "cache", Backend: "file"},
		Proxy:   ProxySettings{Enabled: true, AllowedOrigin: "*", CacheMaxAgeSecs: 300},
		Journal: JournalSettings{
			D1:        D1Settings{Table: "entries"},
			Turso:     TursoSettings{Table: "entries"},
			Neon:      NeonSettings{Table: "entries"},
			Supabase:  SupabaseSettings{Table: "entries"},
			SQLite:    SQLiteSettings{Path: "cache/journal.db", Table: "entries"},
			MongoDB:   MongoDBSettings{Database: "journal", Collection: "entries"},
			Firestore: FirestoreSettings{Collection: "entries"},
			Redis:     RedisSettings{IndexKey: "journal:index", EntryPrefix: "journal:entry:"},
			KV:        KVSettings{Key: "entries"},
			R2:        R2Settings{Key: "journal/entries.json", Region: "auto"},
			GitHub:    GitHubSettings{Path: "journal/entries.json", Branch: "main"},
		},
		Agent: AgentSettings{Enabled: true, AllowedOrigins: []string{"*"}},
		Scrobble: ScrobbleSettings{
			ThresholdSeconds:        30,
			CheckIntervalSeconds:    1,
			ProgressIntervalSeconds: 120,
			HistoryLimit:            100,
		},
		Matcher: MatcherSettings{
			Provider:            "trakt",
			ConfidenceThreshold: 80,
			TieMargin:           5,
			AI: AISettings{
				BaseURL:        "https://openrouter.ai/api/v1/chat/completions",
				Model:          "openai/gpt-4o-mini",
				TimeoutSeconds: 15,
			},
		},
		Trakt: TraktSettings{ScrobblingEnabled: true},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads settings.json from disk or creates defaults if missing.
// Environment overrides are applied on top of the file contents.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		ApplyEnv(&defaults)
		return defaults, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	s := DefaultSettings()
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}
	s.normalize()
	ApplyEnv(&s)
	return s, nil
}

// normalize fills zero values left behind by older or hand-edited files.
func (s *Settings) normalize() {
	defaults := DefaultSettings()
	if s.Server.Port <= 0 {
		s.Server.Port = defaults.Server.Port
	}
	if strings.TrimSpace(s.Storage.Directory) == "" {
		s.Storage.Directory = defaults.Storage.Directory
	}
	switch strings.ToLower(strings.TrimSpace(s.Storage.Backend)) {
	case "file", "sqlite":
		s.Storage.Backend = strings.ToLower(strings.TrimSpace(s.Storage.Backend))
	default:
		s.Storage.Backend = defaults.Storage.Backend
	}
	if strings.TrimSpace(s.Proxy.AllowedOrigin) == "" {
		s.Proxy.AllowedOrigin = defaults.Proxy.AllowedOrigin
	}
	if s.Proxy.CacheMaxAgeSecs <= 0 {
		s.Proxy.CacheMaxAgeSecs = defaults.Proxy.CacheMaxAgeSecs
	}
	if len(s.Agent.AllowedOrigins) == 0 {
		s.Agent.AllowedOrigins = defaults.Agent.AllowedOrigins
	}
	if s.Scrobble.ThresholdSeconds <= 0 {
		s.Scrobble.ThresholdSeconds = defaults.Scrobble.ThresholdSeconds
	}
	if s.Scrobble.CheckIntervalSeconds <= 0 {
		s.Scrobble.CheckIntervalSeconds = defaults.Scrobble.CheckIntervalSeconds
	}
	if s.Scrobble.ProgressIntervalSeconds <= 0 {
		s.Scrobble.ProgressIntervalSeconds = defaults.Scrobble.ProgressIntervalSeconds
	}
	if s.Scrobble.HistoryLimit <= 0 {
		s.Scrobble.HistoryLimit = defaults.Scrobble.HistoryLimit
	}
	if s.Matcher.ConfidenceThreshold <= 0 || s.Matcher.ConfidenceThreshold > 100 {
		s.Matcher.ConfidenceThreshold = defaults.Matcher.ConfidenceThreshold
	}
	if s.Matcher.TieMargin < 0 {
		s.Matcher.TieMargin = defaults.Matcher.TieMargin
	}
	switch s.Matcher.Provider {
	case "ai", "trakt":
	default:
		s.Matcher.Provider = defaults.Matcher.Provider
	}
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, m.path)
}
