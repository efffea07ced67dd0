package backends

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

// SupabaseReader selects a table through PostgREST.
type SupabaseReader struct {
	cfg    config.SupabaseSettings
	client *http.Client
}

func NewSupabaseReader(cfg config.SupabaseSettings, client *http.Client) *SupabaseReader {
	return &SupabaseReader{cfg: cfg, client: client}
}

func (r *SupabaseReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.URL == "" || r.cfg.APIKey == "" {
		return nil, journal.ErrNotConfigured
	}
	table, err := tableName(r.cfg.Table)
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(r.cfg.URL, "/") + "/rest/v1/" + url.PathEscape(table) + "?select=*"

	var rows []record
	err = doJSON(ctx, r.client, restCall{
		url: endpoint,
		headers: map[string]string{
			"apikey":        r.cfg.APIKey,
			"Authorization": "Bearer " + r.cfg.APIKey,
		},
	}, &rows)
	if err != nil {
		return nil, err
	}
	return normalizeAll(rows, opaqueTimes), nil
}
