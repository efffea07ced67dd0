package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"time"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

const (
	firestoreBaseURL  = "https://firestore.googleapis.com/v1"
	firestorePageSize = 300
	firestoreMaxPages = 50
)

// FirestoreReader lists one collection through the Firestore REST API.
type FirestoreReader struct {
	cfg     config.FirestoreSettings
	client  *http.Client
	baseURL string
}

func NewFirestoreReader(cfg config.FirestoreSettings, client *http.Client, baseURL string) *FirestoreReader {
	return &FirestoreReader{cfg: cfg, client: client, baseURL: orDefault(baseURL, firestoreBaseURL)}
}

type firestoreDocument struct {
	Name       string                    `json:"name"`
	Fields     map[string]firestoreValue `json:"fields"`
	CreateTime string                    `json:"createTime"`
}

// firestoreValue is the typed value union used by the REST API.
type firestoreValue struct {
	NullValue      *string         `json:"nullValue"`
	BooleanValue   *bool           `json:"booleanValue"`
	IntegerValue   *string         `json:"integerValue"`
	DoubleValue    *json.Number    `json:"doubleValue"`
	StringValue    *string         `json:"stringValue"`
	TimestampValue *string         `json:"timestampValue"`
	ArrayValue     *firestoreArray `json:"arrayValue"`
	MapValue       *struct {
		Fields map[string]firestoreValue `json:"fields"`
	} `json:"mapValue"`
}

type firestoreArray struct {
	Values []firestoreValue `json:"values"`
}

type firestoreList struct {
	Documents     []firestoreDocument `json:"documents"`
	NextPageToken string              `json:"nextPageToken"`
}

func (r *FirestoreReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.ProjectID == "" || r.cfg.APIKey == "" {
		return nil, journal.ErrNotConfigured
	}
	collection := r.cfg.Collection
	if collection == "" {
		collection = "entries"
	}
	base := fmt.Sprintf("%s/projects/%s/databases/(default)/documents/%s",
		r.baseURL, url.PathEscape(r.cfg.ProjectID), url.PathEscape(collection))

	var records []record
	pageToken := ""
	for page := 0; page < firestoreMaxPages; page++ {
		q := url.Values{}
		q.Set("key", r.cfg.APIKey)
		q.Set("pageSize", fmt.Sprint(firestorePageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var list firestoreList
		if err := doJSON(ctx, r.client, restCall{url: base + "?" + q.Encode()}, &list); err != nil {
			return nil, err
		}
		for _, doc := range list.Documents {
			records = append(records, firestoreRecord(doc))
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return normalizeAll(records, structuredTimes), nil
}

// firestoreRecord flattens typed fields. The document id comes from the
// resource name unless a field already carries one.
func firestoreRecord(doc firestoreDocument) record {
	rec := make(record, len(doc.Fields)+2)
	for k, v := range doc.Fields {
		rec[k] = v.native()
	}
	if _, ok := first(rec, idKeys); !ok && doc.Name != "" {
		rec["id"] = path.Base(doc.Name)
	}
	if _, ok := first(rec, tsKeys); !ok && doc.CreateTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, doc.CreateTime); err == nil {
			rec["created_at"] = t
		}
	}
	return rec
}

func (v firestoreValue) native() any {
	switch {
	case v.StringValue != nil:
		return *v.StringValue
	case v.IntegerValue != nil:
		return json.Number(*v.IntegerValue)
	case v.DoubleValue != nil:
		return *v.DoubleValue
	case v.BooleanValue != nil:
		return *v.BooleanValue
	case v.TimestampValue != nil:
		if t, err := time.Parse(time.RFC3339Nano, *v.TimestampValue); err == nil {
			return t
		}
		return *v.TimestampValue
	case v.ArrayValue != nil:
		out := make([]any, 0, len(v.ArrayValue.Values))
		for _, item := range v.ArrayValue.Values {
			out = append(out, item.native())
		}
		return out
	case v.MapValue != nil:
		out := make(map[string]any, len(v.MapValue.Fields))
		for k, item := range v.MapValue.Fields {
			out[k] = item.native()
		}
		return out
	default:
		return nil
	}
}
