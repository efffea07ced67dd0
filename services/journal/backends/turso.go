package backends

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

// TursoReader runs one statement through the libSQL HTTP pipeline API.
type TursoReader struct {
	cfg    config.TursoSettings
	client *http.Client
}

func NewTursoReader(cfg config.TursoSettings, client *http.Client) *TursoReader {
	return &TursoReader{cfg: cfg, client: client}
}

type tursoValue struct {
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Base64 string `json:"base64"`
}

type tursoResponse struct {
	Results []struct {
		Type  string `json:"type"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Response *struct {
			Type   string `json:"type"`
			Result *struct {
				Cols []struct {
					Name string `json:"name"`
				} `json:"cols"`
				Rows [][]tursoValue `json:"rows"`
			} `json:"result"`
		} `json:"response"`
	} `json:"results"`
}

func (r *TursoReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.URL == "" || r.cfg.AuthToken == "" {
		return nil, journal.ErrNotConfigured
	}
	table, err := tableName(r.cfg.Table)
	if err != nil {
		return nil, err
	}

	var resp tursoResponse
	err = doJSON(ctx, r.client, restCall{
		method:  http.MethodPost,
		url:     pipelineURL(r.cfg.URL),
		headers: map[string]string{"Authorization": "Bearer " + r.cfg.AuthToken},
		body: map[string]any{
			"requests": []any{
				map[string]any{"type": "execute", "stmt": map[string]any{"sql": selectAll(table)}},
				map[string]any{"type": "close"},
			},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, errors.New("empty pipeline response")
	}
	first := resp.Results[0]
	if first.Type == "error" || first.Error != nil {
		msg := "statement failed"
		if first.Error != nil && first.Error.Message != "" {
			msg = first.Error.Message
		}
		return nil, errors.New(msg)
	}
	if first.Response == nil || first.Response.Result == nil {
		return []models.JournalEntry{}, nil
	}

	result := first.Response.Result
	rows := make([]record, 0, len(result.Rows))
	for _, row := range result.Rows {
		rec := make(record, len(result.Cols))
		for i, col := range result.Cols {
			if i < len(row) {
				rec[col.Name] = tursoNative(row[i])
			}
		}
		rows = append(rows, rec)
	}
	return normalizeAll(rows, opaqueTimes), nil
}

// pipelineURL accepts libsql:// as well as https:// database URLs.
func pipelineURL(raw string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if rest, ok := strings.CutPrefix(base, "libsql://"); ok {
		base = "https://" + rest
	}
	return base + "/v2/pipeline"
}

// tursoNative maps a typed libSQL cell onto a plain Go value.
func tursoNative(v tursoValue) any {
	switch v.Type {
	case "null":
		return nil
	case "integer", "text":
		s, _ := asString(v.Value)
		if v.Type == "integer" {
			return json.Number(s)
		}
		return s
	case "float":
		f, _ := asFloat(v.Value)
		return f
	case "blob":
		data, err := base64.StdEncoding.DecodeString(v.Base64)
		if err != nil {
			return nil
		}
		return string(data)
	default:
		if v.Value == nil {
			return nil
		}
		return fmt.Sprint(v.Value)
	}
}
