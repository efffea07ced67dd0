package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// JournalEntry is the normalized unit returned by the journal aggregation proxy.
// Every backend reader translates its native schema into this shape. Fields the
// backend does not carry stay nil and are omitted from the JSON output.
type JournalEntry struct {
	ID    string     `json:"id"`
	Title *string    `json:"t,omitempty"` // entry title
	Date  *string    `json:"d,omitempty"` // calendar date as stored by the backend
	Words *int       `json:"w,omitempty"` // word count
	Tag   *string    `json:"g,omitempty"`
	Hash  *string    `json:"h,omitempty"` // content hash
	Mood  *float64   `json:"m,omitempty"`
	TS    *Timestamp `json:"ts,omitempty"`
}

// Timestamp is either a structured seconds/nanoseconds pair or an opaque string,
// depending on what the originating backend stores.
type Timestamp struct {
	Seconds     int64
	Nanoseconds int32
	Raw         string
}

// StructuredTimestamp converts t into the seconds/nanoseconds form.
func StructuredTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
}

// OpaqueTimestamp keeps the backend's native timestamp string untouched.
func OpaqueTimestamp(raw string) *Timestamp {
	return &Timestamp{Raw: raw}
}

// IsStructured reports whether the timestamp carries seconds/nanoseconds.
func (t Timestamp) IsStructured() bool {
	return t.Raw == ""
}

type structuredTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int32 `json:"nanoseconds"`
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.IsStructured() {
		return json.Marshal(t.Raw)
	}
	return json.Marshal(structuredTimestamp{Seconds: t.Seconds, Nanoseconds: t.Nanoseconds})
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*t = Timestamp{Raw: raw}
		return nil
	}
	var s structuredTimestamp
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	*t = Timestamp{Seconds: s.Seconds, Nanoseconds: s.Nanoseconds}
	return nil
}

// JournalResult is the payload of a successful single-source read.
type JournalResult struct {
	Entries   []JournalEntry `json:"entries"`
	Source    string         `json:"source"`
	Count     int            `json:"count"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// JournalBatchItem is one source's outcome inside a batched read. It encodes
// as {entries, count} on success and {error} on failure.
type JournalBatchItem struct {
	Entries []JournalEntry `json:"entries,omitempty"`
	Count   int            `json:"count"`
	Error   string         `json:"error,omitempty"`
}

func (i JournalBatchItem) MarshalJSON() ([]byte, error) {
	if i.Error != "" {
		return json.Marshal(struct {
			Error string `json:"error"`
		}{i.Error})
	}
	entries := i.Entries
	if entries == nil {
		entries = []JournalEntry{}
	}
	return json.Marshal(struct {
		Entries []JournalEntry `json:"entries"`
		Count   int            `json:"count"`
	}{entries, i.Count})
}

// JournalBatchResult is the payload of a batched read across several sources.
type JournalBatchResult struct {
	Results   map[string]JournalBatchItem `json:"results"`
	FetchedAt time.Time                   `json:"fetchedAt"`
}
