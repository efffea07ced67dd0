package backends

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"reelsync/config"
)

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE entries (
		id INTEGER PRIMARY KEY,
		title TEXT,
		date TEXT,
		word_count INTEGER,
		mood REAL,
		created_at TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO entries (id, title, date, word_count, mood, created_at) VALUES
		(1, 'Started the garden', '2026-03-02', 410, 4.0, '2026-03-02T08:00:00Z'),
		(2, NULL, '2026-03-03', NULL, NULL, NULL)`)
	require.NoError(t, err)
	return path
}

func TestSQLiteReaderReadsTable(t *testing.T) {
	r := NewSQLiteReader(config.SQLiteSettings{Path: seedSQLite(t), Table: "entries"})
	defer r.Close()

	got, err := r.Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "Started the garden", *got[0].Title)
	assert.Equal(t, 410, *got[0].Words)
	assert.InDelta(t, 4.0, *got[0].Mood, 1e-9)
	assert.Equal(t, "2026-03-02T08:00:00Z", got[0].TS.Raw)

	assert.Equal(t, "2", got[1].ID)
	assert.Nil(t, got[1].Title)
	assert.Nil(t, got[1].Words)
	assert.Nil(t, got[1].TS)
}

func TestSQLiteReaderIsReadOnly(t *testing.T) {
	r := NewSQLiteReader(config.SQLiteSettings{Path: seedSQLite(t)})
	defer r.Close()

	db, err := r.sql.handle()
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM entries`)
	assert.Error(t, err)
}

func TestSQLiteReaderMissingTable(t *testing.T) {
	r := NewSQLiteReader(config.SQLiteSettings{Path: seedSQLite(t), Table: "nope"})
	defer r.Close()

	_, err := r.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestFromBSONConvertsDriverTypes(t *testing.T) {
	oid := primitive.NewObjectID()
	at := time.Date(2026, 7, 8, 9, 10, 11, 0, time.UTC)
	rec := fromBSON(bson.M{
		"_id":        oid,
		"title":      "Mongo entry",
		"tags":       primitive.A{"a", "b"},
		"created_at": primitive.NewDateTimeFromTime(at),
		"meta":       bson.D{{Key: "source", Value: "app"}},
	})

	entry, ok := normalize(rec, structuredTimes)
	require.True(t, ok)
	assert.Equal(t, oid.Hex(), entry.ID)
	assert.Equal(t, "a,b", *entry.Tag)
	require.True(t, entry.TS.IsStructured())
	assert.Equal(t, at.Unix(), entry.TS.Seconds)
	assert.Equal(t, map[string]any{"source": "app"}, rec["meta"])
}

func TestHashRecordDefaultsIDToMember(t *testing.T) {
	rec := hashRecord("e-17", map[string]string{
		"title":      "Redis entry",
		"words":      "56",
		"tags":       `["one", "two"]`,
		"created_at": "1700000000",
	})
	entry, ok := normalize(rec, opaqueTimes)
	require.True(t, ok)
	assert.Equal(t, "e-17", entry.ID)
	assert.Equal(t, 56, *entry.Words)
	assert.Equal(t, "one,two", *entry.Tag)
	assert.Equal(t, "1700000000", entry.TS.Raw)

	withID := hashRecord("member", map[string]string{"id": "explicit"})
	assert.Equal(t, "explicit", withID["id"])
}

func TestDecodeObjectSniffsContent(t *testing.T) {
	plain := []byte(`[{"id":"r1","title":"Object entry","mood":3},{"id":"r2","title":"Second"}]`)
	records, err := decodeObject(plain)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	records, err = decodeObject(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, records, 2)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")
	_, err = decodeObject(png)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image/png")
}

func TestR2ReaderGetsObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/bucket/journal/entries.json", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "AWS4-HMAC-SHA256")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"obj-1","title":"From R2","created_at":"2026-08-01T00:00:00Z"}]`)
	}))
	defer srv.Close()

	cfg := config.R2Settings{
		Endpoint:        srv.URL,
		Bucket:          "bucket",
		Key:             "journal/entries.json",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	}
	got, err := NewR2Reader(cfg, srv.Client()).Read(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "obj-1", got[0].ID)
	assert.Equal(t, "From R2", *got[0].Title)
	assert.Equal(t, "2026-08-01T00:00:00Z", got[0].TS.Raw)
}
