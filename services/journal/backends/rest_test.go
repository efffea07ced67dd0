package backends

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelsync/config"
	"reelsync/services/journal"
)

func TestD1ReaderQueriesTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct/d1/database/db/query", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "SELECT * FROM journal", body["sql"])
		fmt.Fprint(w, `{"success":true,"errors":[],"result":[{"success":true,"results":[
			{"id":1,"title":"First","word_count":120,"created_at":"2026-01-01 10:00:00"},
			{"title":"no id"}
		]}]}`)
	}))
	defer srv.Close()

	r := NewD1Reader(config.D1Settings{AccountID: "acct", DatabaseID: "db", APIToken: "tok", Table: "journal"}, srv.Client(), srv.URL)
	got, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, 120, *got[0].Words)
	assert.Equal(t, "2026-01-01 10:00:00", got[0].TS.Raw)
}

func TestD1ReaderReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"errors":[{"code":7500,"message":"no such table: entries"}],"result":[]}`)
	}))
	defer srv.Close()

	r := NewD1Reader(config.D1Settings{AccountID: "a", DatabaseID: "b", APIToken: "c"}, srv.Client(), srv.URL)
	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestD1ReaderHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	r := NewD1Reader(config.D1Settings{AccountID: "a", DatabaseID: "b", APIToken: "c"}, srv.Client(), srv.URL)
	_, err := r.Read(context.Background())
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusBadGateway, status.StatusCode)
	assert.True(t, status.Temporary())
	assert.Contains(t, err.Error(), "upstream down")
}

func TestKVReaderReadsArrayAndMissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer kvtok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/accounts/acct/storage/kv/namespaces/ns/values/entries":
			fmt.Fprint(w, `[{"key":"k1","t":"Note","ts":{"seconds":1700000000,"nanoseconds":12}}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.KVSettings{AccountID: "acct", NamespaceID: "ns", APIToken: "kvtok", Key: "entries"}
	got, err := NewKVReader(cfg, srv.Client(), srv.URL).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "k1", got[0].ID)
	require.True(t, got[0].TS.IsStructured())
	assert.Equal(t, int64(1700000000), got[0].TS.Seconds)
	assert.Equal(t, int32(12), got[0].TS.Nanoseconds)

	cfg.Key = "missing"
	got, err = NewKVReader(cfg, srv.Client(), srv.URL).Read(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTursoReaderDecodesTypedCells(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/pipeline", r.URL.Path)
		assert.Equal(t, "Bearer turso", r.Header.Get("Authorization"))
		var body struct {
			Requests []map[string]any `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Requests, 2)
		assert.Equal(t, "execute", body.Requests[0]["type"])
		assert.Equal(t, "close", body.Requests[1]["type"])
		fmt.Fprint(w, `{"results":[{"type":"ok","response":{"type":"execute","result":{
			"cols":[{"name":"id"},{"name":"title"},{"name":"mood"},{"name":"hash"},{"name":"words"}],
			"rows":[[{"type":"integer","value":"9"},{"type":"text","value":"Evening"},{"type":"float","value":4.25},{"type":"null"},{"type":"integer","value":"88"}]]
		}}},{"type":"ok","response":{"type":"close"}}]}`)
	}))
	defer srv.Close()

	got, err := NewTursoReader(config.TursoSettings{URL: srv.URL, AuthToken: "turso"}, srv.Client()).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "9", got[0].ID)
	assert.Equal(t, "Evening", *got[0].Title)
	assert.InDelta(t, 4.25, *got[0].Mood, 1e-9)
	assert.Nil(t, got[0].Hash)
	assert.Equal(t, 88, *got[0].Words)
}

func TestTursoReaderStatementError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[{"type":"error","error":{"message":"SQLITE_ERROR: no such table"}}]}`)
	}))
	defer srv.Close()

	_, err := NewTursoReader(config.TursoSettings{URL: srv.URL, AuthToken: "x"}, srv.Client()).Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")
}

func TestPipelineURL(t *testing.T) {
	assert.Equal(t, "https://db-org.turso.io/v2/pipeline", pipelineURL("libsql://db-org.turso.io"))
	assert.Equal(t, "https://db-org.turso.io/v2/pipeline", pipelineURL("https://db-org.turso.io/"))
}

func TestSupabaseReaderSendsKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/entries", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[{"uuid":"8d1e","date":"2026-04-01","tag":"travel","createdAt":"2026-04-01T09:00:00+00:00"}]`)
	}))
	defer srv.Close()

	got, err := NewSupabaseReader(config.SupabaseSettings{URL: srv.URL, APIKey: "anon"}, srv.Client()).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "8d1e", got[0].ID)
	assert.Equal(t, "travel", *got[0].Tag)
	assert.Equal(t, "2026-04-01T09:00:00+00:00", got[0].TS.Raw)
}

func TestFirestoreReaderPagesAndTypes(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/projects/proj/databases/(default)/documents/entries", r.URL.Path)
		assert.Equal(t, "fskey", r.URL.Query().Get("key"))
		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"documents":[{
				"name":"projects/proj/databases/(default)/documents/entries/doc1",
				"fields":{
					"title":{"stringValue":"Walk"},
					"words":{"integerValue":"250"},
					"mood":{"doubleValue":2.5},
					"tags":{"arrayValue":{"values":[{"stringValue":"outside"},{"stringValue":"dog"}]}},
					"created_at":{"timestampValue":"2026-05-06T07:08:09.5Z"}
				}
			}],"nextPageToken":"p2"}`)
			return
		}
		assert.Equal(t, "p2", r.URL.Query().Get("pageToken"))
		fmt.Fprint(w, `{"documents":[{
			"name":"projects/proj/databases/(default)/documents/entries/doc2",
			"fields":{"title":{"stringValue":"Read"}},
			"createTime":"2026-05-07T00:00:00Z"
		}]}`)
	}))
	defer srv.Close()

	cfg := config.FirestoreSettings{ProjectID: "proj", APIKey: "fskey"}
	got, err := NewFirestoreReader(cfg, srv.Client(), srv.URL).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, got, 2)

	assert.Equal(t, "doc1", got[0].ID)
	assert.Equal(t, 250, *got[0].Words)
	assert.InDelta(t, 2.5, *got[0].Mood, 1e-9)
	assert.Equal(t, "outside,dog", *got[0].Tag)
	require.True(t, got[0].TS.IsStructured())
	assert.Equal(t, int32(500000000), got[0].TS.Nanoseconds)

	assert.Equal(t, "doc2", got[1].ID)
	require.NotNil(t, got[1].TS)
	assert.True(t, got[1].TS.IsStructured())
}

func TestGitHubReaderDecodesContent(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte(`[{"id":"g1","h":"deadbeef","d":"2026-06-01"}]`))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/me/notes/contents/journal/entries.json", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "Bearer ghtok", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		// The API wraps base64 at 60 columns.
		wrapped := payload[:10] + "\n" + payload[10:]
		json.NewEncoder(w).Encode(map[string]string{"type": "file", "encoding": "base64", "content": wrapped})
	}))
	defer srv.Close()

	cfg := config.GitHubSettings{Owner: "me", Repo: "notes", Path: "journal/entries.json", Branch: "main", Token: "ghtok"}
	got, err := NewGitHubReader(cfg, srv.Client(), srv.URL).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "g1", got[0].ID)
	assert.Equal(t, "deadbeef", *got[0].Hash)
	assert.Equal(t, "2026-06-01", *got[0].Date)
}

func TestGitHubReaderRejectsDirectories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"type":"dir"}`)
	}))
	defer srv.Close()

	cfg := config.GitHubSettings{Owner: "me", Repo: "notes", Path: "journal"}
	_, err := NewGitHubReader(cfg, srv.Client(), srv.URL).Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a file")
}

func TestUnconfiguredReadersReportNotConfigured(t *testing.T) {
	set := New(config.JournalSettings{}, nil, Endpoints{})
	defer set.Close()

	names := set.Registry.Names()
	assert.Equal(t, Order, names)
	for _, name := range names {
		reader, ok := set.Registry.Lookup(name)
		require.True(t, ok, name)
		_, err := reader.Read(context.Background())
		assert.True(t, errors.Is(err, journal.ErrNotConfigured), "%s: %v", name, err)
	}
}
