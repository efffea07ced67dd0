package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// FileStore keeps every key in one JSON document. Writes go to a temp file
// that is renamed over the original.
type FileStore struct {
	mu     sync.Mutex
	fs     afero.Fs
	path   string
	values map[string]json.RawMessage
}

// NewFileStore opens (or creates) the store document at path on fsys.
func NewFileStore(fsys afero.Fs, path string) (*FileStore, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if path == "" {
		return nil, errors.New("store path not provided")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	s := &FileStore{fs: fsys, path: path, values: make(map[string]json.RawMessage)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return fmt.Errorf("decode store: %w", err)
	}
	if s.values == nil {
		s.values = make(map[string]json.RawMessage)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string, dst any) (bool, error) {
	key, err := validateKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decodeInto(raw, dst)
}

func (s *FileStore) Set(_ context.Context, key string, value any) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = encoded
	if err := s.saveLocked(); err != nil {
		s.restoreLocked(key, prev, had)
		return err
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.saveLocked(); err != nil {
		s.restoreLocked(key, prev, had)
		return err
	}
	return nil
}

func (s *FileStore) Append(_ context.Context, key string, value any, max int) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	next, err := prependCapped(prev, value, max)
	if err != nil {
		return err
	}
	s.values[key] = next
	if err := s.saveLocked(); err != nil {
		s.restoreLocked(key, prev, had)
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) restoreLocked(key string, prev json.RawMessage, had bool) {
	if had {
		s.values[key] = prev
		return
	}
	delete(s.values, key)
}

func (s *FileStore) saveLocked() error {
	tmp := s.path + ".tmp"
	file, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create store temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.values); err != nil {
		file.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("encode store: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("sync store: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("close store temp file: %w", err)
	}

	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
