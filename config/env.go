package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides secrets and deployment knobs from the environment. Backend
// credentials are usually injected this way rather than written to settings.json.
func ApplyEnv(s *Settings) {
	if s == nil {
		return
	}

	setInt(&s.Server.Port, "REELSYNC_PORT")
	setString(&s.Proxy.AllowedOrigin, "REELSYNC_ALLOWED_ORIGIN")
	setString(&s.Storage.Directory, "REELSYNC_STORAGE_DIR")

	setString(&s.Trakt.ClientID, "TRAKT_CLIENT_ID")
	setString(&s.Trakt.ClientSecret, "TRAKT_CLIENT_SECRET")
	setString(&s.Matcher.AI.APIKey, "MATCHER_API_KEY")
	setString(&s.Matcher.AI.BaseURL, "MATCHER_BASE_URL")
	setString(&s.Matcher.AI.Model, "MATCHER_MODEL")

	j := &s.Journal
	setString(&j.D1.AccountID, "D1_ACCOUNT_ID")
	setString(&j.D1.DatabaseID, "D1_DATABASE_ID")
	setString(&j.D1.APIToken, "D1_API_TOKEN")
	setString(&j.Turso.URL, "TURSO_URL")
	setString(&j.Turso.AuthToken, "TURSO_AUTH_TOKEN")
	setString(&j.Neon.DatabaseURL, "NEON_DATABASE_URL")
	setString(&j.Supabase.URL, "SUPABASE_URL")
	setString(&j.Supabase.APIKey, "SUPABASE_KEY")
	setString(&j.SQLite.Path, "JOURNAL_SQLITE_PATH")
	setString(&j.MongoDB.URI, "MONGODB_URI")
	setString(&j.Firestore.ProjectID, "FIRESTORE_PROJECT_ID")
	setString(&j.Firestore.APIKey, "FIRESTORE_API_KEY")
	setString(&j.Redis.URL, "REDIS_URL")
	setString(&j.KV.AccountID, "KV_ACCOUNT_ID")
	setString(&j.KV.NamespaceID, "KV_NAMESPACE_ID")
	setString(&j.KV.APIToken, "KV_API_TOKEN")
	setString(&j.R2.Endpoint, "R2_ENDPOINT")
	setString(&j.R2.Bucket, "R2_BUCKET")
	setString(&j.R2.AccessKeyID, "R2_ACCESS_KEY_ID")
	setString(&j.R2.SecretAccessKey, "R2_SECRET_ACCESS_KEY")
	setString(&j.GitHub.Owner, "GITHUB_OWNER")
	setString(&j.GitHub.Repo, "GITHUB_REPO")
	setString(&j.GitHub.Token, "GITHUB_TOKEN")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = n
	}
}
