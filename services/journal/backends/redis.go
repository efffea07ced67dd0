package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

// RedisReader walks a sorted-set index newest first and loads each entry hash.
type RedisReader struct {
	cfg config.RedisSettings

	mu     sync.Mutex
	client redis.UniversalClient
}

func NewRedisReader(cfg config.RedisSettings) *RedisReader {
	return &RedisReader{cfg: cfg}
}

func (r *RedisReader) conn() (redis.UniversalClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	opts, err := redis.ParseURL(r.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	r.client = redis.NewClient(opts)
	return r.client, nil
}

func (r *RedisReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.URL == "" {
		return nil, journal.ErrNotConfigured
	}
	client, err := r.conn()
	if err != nil {
		return nil, err
	}
	indexKey := r.cfg.IndexKey
	if indexKey == "" {
		indexKey = "journal:index"
	}
	prefix := r.cfg.EntryPrefix
	if prefix == "" {
		prefix = "journal:entry:"
	}

	ids, err := client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", indexKey, err)
	}
	if len(ids) == 0 {
		return []models.JournalEntry{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, prefix+id)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	records := make([]record, 0, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		records = append(records, hashRecord(id, fields))
	}
	return normalizeAll(records, opaqueTimes), nil
}

// hashRecord turns one entry hash into a record, defaulting the id to the
// index member. Tags stored as a JSON-ish list are split on commas.
func hashRecord(id string, fields map[string]string) record {
	rec := make(record, len(fields)+1)
	for k, v := range fields {
		rec[k] = v
	}
	if _, ok := first(rec, idKeys); !ok {
		rec["id"] = id
	}
	if raw, ok := fields["tags"]; ok && strings.HasPrefix(raw, "[") {
		trimmed := strings.Trim(raw, "[]")
		var tags []any
		for _, t := range strings.Split(trimmed, ",") {
			if t = strings.Trim(strings.TrimSpace(t), `"`); t != "" {
				tags = append(tags, t)
			}
		}
		rec["tags"] = tags
	}
	return rec
}

func (r *RedisReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
