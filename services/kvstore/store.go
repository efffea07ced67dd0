// Package kvstore is the local persistent key-value store used by the scrobble
// agent: namespaced keys mapping to arbitrary JSON values, plus a capped
// newest-first append helper.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultAppendLimit caps list keys when callers pass a non-positive max.
const DefaultAppendLimit = 100

var (
	ErrKeyRequired = errors.New("key is required")
	ErrNotList     = errors.New("stored value is not a list")
)

// Well-known keys.
const (
	KeyAuthToken       = "auth/token"
	KeyAuthProfile     = "auth/profile"
	KeyScrobbleHistory = "scrobble/history"
	KeyWatchHistory    = "watch/history"
	KeyUserSettings    = "settings/user"
)

// Store is the contract every backend satisfies. Append is a single logical
// read-modify-write step: concurrent appends to the same key never lose entries.
type Store interface {
	// Get decodes the value stored under key into dst and reports whether it existed.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// Remove deletes key; removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Append prepends value to the list under key and keeps at most max items.
	Append(ctx context.Context, key string, value any, max int) error
	Close() error
}

// List decodes the list stored under key into a typed slice.
func List[T any](ctx context.Context, s Store, key string) ([]T, error) {
	var items []T
	if _, err := s.Get(ctx, key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func validateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrKeyRequired
	}
	return key, nil
}

// prependCapped implements the shared append semantics on raw JSON.
func prependCapped(current json.RawMessage, value any, max int) (json.RawMessage, error) {
	if max <= 0 {
		max = DefaultAppendLimit
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	var items []json.RawMessage
	if len(current) > 0 && string(current) != "null" {
		if err := json.Unmarshal(current, &items); err != nil {
			return nil, ErrNotList
		}
	}

	next := make([]json.RawMessage, 0, min(len(items)+1, max))
	next = append(next, encoded)
	for _, item := range items {
		if len(next) >= max {
			break
		}
		next = append(next, item)
	}

	out, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return out, nil
}

func decodeInto(raw json.RawMessage, dst any) error {
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return nil
}
