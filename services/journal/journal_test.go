package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelsync/models"
)

func strPtr(s string) *string { return &s }

func entries(ids ...string) []models.JournalEntry {
	out := make([]models.JournalEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.JournalEntry{ID: id, Title: strPtr("entry " + id)})
	}
	return out
}

func testService() *Service {
	registry := NewRegistry(
		Source{Name: "d1", Reader: ReaderFunc(func(ctx context.Context) ([]models.JournalEntry, error) {
			return nil, errors.New("D1 API 503")
		})},
		Source{Name: "turso", Reader: ReaderFunc(func(ctx context.Context) ([]models.JournalEntry, error) {
			return entries("1", "2"), nil
		})},
		Source{Name: "kv", Reader: ReaderFunc(func(ctx context.Context) ([]models.JournalEntry, error) {
			panic("nil map")
		})},
		Source{Name: "github", Reader: ReaderFunc(func(ctx context.Context) ([]models.JournalEntry, error) {
			return nil, nil
		})},
	)
	svc := NewService(registry, time.Second)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return svc
}

func TestReadFromSuccess(t *testing.T) {
	res, err := testService().ReadFrom(context.Background(), "turso")
	require.NoError(t, err)
	assert.Equal(t, "turso", res.Source)
	assert.Equal(t, 2, res.Count)
	assert.Len(t, res.Entries, 2)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), res.FetchedAt)
}

func TestReadFromUnknownListsValidNames(t *testing.T) {
	_, err := testService().ReadFrom(context.Background(), "bogus")
	var unknown *UnknownSourceError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "bogus", unknown.Source)
	assert.Equal(t, []string{"d1", "turso", "kv", "github"}, unknown.Valid)
	assert.Contains(t, err.Error(), "d1, turso, kv, github")
}

func TestReadFromFailureIsIsolated(t *testing.T) {
	svc := testService()
	_, err := svc.ReadFrom(context.Background(), "d1")
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "d1", srcErr.Source)
	assert.Contains(t, err.Error(), "D1 API 503")

	res, err := svc.ReadFrom(context.Background(), "turso")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestReadFromRecoversPanics(t *testing.T) {
	_, err := testService().ReadFrom(context.Background(), "kv")
	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "kv", srcErr.Source)
	assert.Contains(t, err.Error(), "panicked")
}

func TestReadFromEmptyIsNotNil(t *testing.T) {
	res, err := testService().ReadFrom(context.Background(), "github")
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	assert.Equal(t, 0, res.Count)
}

func TestReadManyIsolatesEachSource(t *testing.T) {
	out := testService().ReadMany(context.Background(), []string{"d1", "turso", "kv", "bogus", "turso", " "})
	require.Len(t, out.Results, 4)
	assert.Contains(t, out.Results["d1"].Error, "D1 API 503")
	assert.Equal(t, 2, out.Results["turso"].Count)
	assert.Empty(t, out.Results["turso"].Error)
	assert.Contains(t, out.Results["kv"].Error, "panicked")
	assert.Contains(t, out.Results["bogus"].Error, "unknown source")
}

func TestRegistryKeepsOrder(t *testing.T) {
	r := NewRegistry(
		Source{Name: "b", Reader: ReaderFunc(nil)},
		Source{Name: "a", Reader: ReaderFunc(nil)},
		Source{Name: "b", Reader: ReaderFunc(nil)},
	)
	assert.Equal(t, []string{"b", "a"}, r.Names())
}
