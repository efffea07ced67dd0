// Package backends holds one read-only journal reader per storage backend.
// Each reader fetches native records and hands them to the shared
// normalizer, which folds the many field spellings into models.JournalEntry.
package backends

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"reelsync/models"
)

// record is one backend row or document after transport decoding.
type record = map[string]any

// timeMode decides how native time values are rendered.
type timeMode int

const (
	// opaqueTimes renders time values as RFC3339 strings (SQL style backends).
	opaqueTimes timeMode = iota
	// structuredTimes renders time values as seconds/nanoseconds (document stores).
	structuredTimes
)

var (
	idKeys    = []string{"id", "_id", "key", "uuid"}
	titleKeys = []string{"title", "t"}
	dateKeys  = []string{"date", "d", "day"}
	wordKeys  = []string{"word_count", "words", "wordCount", "w"}
	tagKeys   = []string{"tag", "tags", "g"}
	hashKeys  = []string{"hash", "h", "content_hash"}
	moodKeys  = []string{"mood", "m"}
	tsKeys    = []string{"created_at", "createdAt", "ts", "timestamp"}
)

// normalizeAll converts records in order. Records without an id are dropped.
func normalizeAll(records []record, mode timeMode) []models.JournalEntry {
	entries := make([]models.JournalEntry, 0, len(records))
	for _, rec := range records {
		if entry, ok := normalize(rec, mode); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func normalize(rec record, mode timeMode) (models.JournalEntry, bool) {
	raw, ok := first(rec, idKeys)
	if !ok {
		return models.JournalEntry{}, false
	}
	id, ok := asString(raw)
	if !ok || strings.TrimSpace(id) == "" {
		return models.JournalEntry{}, false
	}

	entry := models.JournalEntry{ID: id}
	if v, ok := first(rec, titleKeys); ok {
		entry.Title = stringPtr(v)
	}
	if v, ok := first(rec, dateKeys); ok {
		entry.Date = datePtr(v)
	}
	if v, ok := first(rec, wordKeys); ok {
		if n, ok := asInt(v); ok {
			entry.Words = &n
		}
	}
	if v, ok := first(rec, tagKeys); ok {
		entry.Tag = tagPtr(v)
	}
	if v, ok := first(rec, hashKeys); ok {
		entry.Hash = stringPtr(v)
	}
	if v, ok := first(rec, moodKeys); ok {
		if f, ok := asFloat(v); ok {
			entry.Mood = &f
		}
	}
	if v, ok := first(rec, tsKeys); ok {
		entry.TS = timestamp(v, mode)
	}
	return entry, true
}

// first returns the value of the first alias present with a non-nil value.
func first(rec record, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case json.Number:
		return t.String(), true
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return asString(float64(t))
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return "", false
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int(math.Round(t)), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil {
			return asInt(f)
		}
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return asInt(f)
		}
	case []byte:
		return asInt(string(t))
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case float32:
		return asFloat(float64(t))
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return asFloat(f)
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return asFloat(f)
		}
	case []byte:
		return asFloat(string(t))
	}
	return 0, false
}

func stringPtr(v any) *string {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	return &s
}

// datePtr keeps calendar dates as stored; native time values become YYYY-MM-DD.
func datePtr(v any) *string {
	if t, ok := v.(time.Time); ok {
		s := t.UTC().Format("2006-01-02")
		return &s
	}
	return stringPtr(v)
}

func tagPtr(v any) *string {
	var parts []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := asString(item); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
	case []string:
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				parts = append(parts, s)
			}
		}
	default:
		return stringPtr(v)
	}
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, ",")
	return &joined
}

func timestamp(v any, mode timeMode) *models.Timestamp {
	switch t := v.(type) {
	case time.Time:
		if mode == structuredTimes {
			return models.StructuredTimestamp(t)
		}
		return models.OpaqueTimestamp(t.UTC().Format(time.RFC3339Nano))
	case map[string]any:
		secs, ok := first(t, []string{"seconds", "_seconds"})
		if !ok {
			return nil
		}
		s, ok := asInt(secs)
		if !ok {
			return nil
		}
		var nanos int
		if n, ok := first(t, []string{"nanoseconds", "_nanoseconds", "nanos"}); ok {
			nanos, _ = asInt(n)
		}
		return &models.Timestamp{Seconds: int64(s), Nanoseconds: int32(nanos)}
	default:
		s, ok := asString(v)
		if !ok || s == "" {
			return nil
		}
		return models.OpaqueTimestamp(s)
	}
}
