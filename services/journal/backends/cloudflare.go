package backends

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

const cloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// D1Reader queries a Cloudflare D1 database through the REST query endpoint.
type D1Reader struct {
	cfg     config.D1Settings
	client  *http.Client
	baseURL string
}

func NewD1Reader(cfg config.D1Settings, client *http.Client, baseURL string) *D1Reader {
	return &D1Reader{cfg: cfg, client: client, baseURL: orDefault(baseURL, cloudflareBaseURL)}
}

type d1Response struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result []struct {
		Success bool     `json:"success"`
		Results []record `json:"results"`
	} `json:"result"`
}

func (r *D1Reader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.AccountID == "" || r.cfg.DatabaseID == "" || r.cfg.APIToken == "" {
		return nil, journal.ErrNotConfigured
	}
	table, err := tableName(r.cfg.Table)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/d1/database/%s/query",
		r.baseURL, url.PathEscape(r.cfg.AccountID), url.PathEscape(r.cfg.DatabaseID))
	var resp d1Response
	err = doJSON(ctx, r.client, restCall{
		method:  http.MethodPost,
		url:     endpoint,
		headers: map[string]string{"Authorization": "Bearer " + r.cfg.APIToken},
		body:    map[string]any{"sql": selectAll(table), "params": []any{}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		if len(msgs) == 0 {
			msgs = append(msgs, "query failed")
		}
		return nil, errors.New(strings.Join(msgs, "; "))
	}

	var rows []record
	for _, result := range resp.Result {
		rows = append(rows, result.Results...)
	}
	return normalizeAll(rows, opaqueTimes), nil
}

// KVReader reads one Workers KV value holding a JSON array of entries.
type KVReader struct {
	cfg     config.KVSettings
	client  *http.Client
	baseURL string
}

func NewKVReader(cfg config.KVSettings, client *http.Client, baseURL string) *KVReader {
	return &KVReader{cfg: cfg, client: client, baseURL: orDefault(baseURL, cloudflareBaseURL)}
}

func (r *KVReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.AccountID == "" || r.cfg.NamespaceID == "" || r.cfg.APIToken == "" {
		return nil, journal.ErrNotConfigured
	}
	key := r.cfg.Key
	if key == "" {
		key = "entries"
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s/values/%s",
		r.baseURL, url.PathEscape(r.cfg.AccountID), url.PathEscape(r.cfg.NamespaceID), url.PathEscape(key))

	var raw []byte
	err := doJSON(ctx, r.client, restCall{
		url:     endpoint,
		headers: map[string]string{"Authorization": "Bearer " + r.cfg.APIToken},
	}, &raw)
	var status *StatusError
	if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
		// A missing key is an empty journal.
		return []models.JournalEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	return normalizeAll(records, structuredTimes), nil
}

func orDefault(v, fallback string) string {
	v = strings.TrimRight(strings.TrimSpace(v), "/")
	if v == "" {
		return fallback
	}
	return v
}
