package backends

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

// sqlReader lazily opens one pooled handle and selects the whole table.
type sqlReader struct {
	driver string
	dsn    string
	table  string

	mu sync.Mutex
	db *sql.DB
}

func (r *sqlReader) handle() (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}
	db, err := sql.Open(r.driver, r.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", r.driver, err)
	}
	db.SetMaxOpenConns(2)
	r.db = db
	return db, nil
}

func (r *sqlReader) read(ctx context.Context) ([]models.JournalEntry, error) {
	table, err := tableName(r.table)
	if err != nil {
		return nil, err
	}
	db, err := r.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectAll(table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return normalizeAll(records, opaqueTimes), nil
}

// Close releases the pooled handle, if one was opened.
func (r *sqlReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// scanRecords reads every row into a column-keyed map.
func scanRecords(rows *sql.Rows) ([]record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	var records []record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		rec := make(record, len(cols))
		for i, col := range cols {
			rec[col] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// NeonReader reads a Postgres table through lib/pq.
type NeonReader struct {
	cfg config.NeonSettings
	sql *sqlReader
}

func NewNeonReader(cfg config.NeonSettings) *NeonReader {
	return &NeonReader{cfg: cfg, sql: &sqlReader{driver: "postgres", dsn: cfg.DatabaseURL, table: cfg.Table}}
}

func (r *NeonReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if strings.TrimSpace(r.cfg.DatabaseURL) == "" {
		return nil, journal.ErrNotConfigured
	}
	return r.sql.read(ctx)
}

func (r *NeonReader) Close() error { return r.sql.Close() }

// SQLiteReader reads a local SQLite file in read-only mode.
type SQLiteReader struct {
	cfg config.SQLiteSettings
	sql *sqlReader
}

func NewSQLiteReader(cfg config.SQLiteSettings) *SQLiteReader {
	return &SQLiteReader{cfg: cfg, sql: &sqlReader{driver: "sqlite3", dsn: readOnlyDSN(cfg.Path), table: cfg.Table}}
}

func readOnlyDSN(path string) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_busy_timeout", "5000")
	return "file:" + path + "?" + q.Encode()
}

func (r *SQLiteReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if strings.TrimSpace(r.cfg.Path) == "" {
		return nil, journal.ErrNotConfigured
	}
	return r.sql.read(ctx)
}

func (r *SQLiteReader) Close() error { return r.sql.Close() }
