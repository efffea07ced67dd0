package backends

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

// MongoReader lists every document of one collection.
type MongoReader struct {
	cfg config.MongoDBSettings

	mu     sync.Mutex
	client *mongo.Client
}

func NewMongoReader(cfg config.MongoDBSettings) *MongoReader {
	return &MongoReader{cfg: cfg}
}

func (r *MongoReader) connect(ctx context.Context) (*mongo.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	opts := options.Client().
		ApplyURI(r.cfg.URI).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	r.client = client
	return client, nil
}

func (r *MongoReader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.cfg.URI == "" {
		return nil, journal.ErrNotConfigured
	}
	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}
	db := r.cfg.Database
	if db == "" {
		db = "journal"
	}
	coll := r.cfg.Collection
	if coll == "" {
		coll = "entries"
	}

	cursor, err := client.Database(db).Collection(coll).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find %s.%s: %w", db, coll, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode documents: %w", err)
	}
	records := make([]record, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromBSON(doc))
	}
	return normalizeAll(records, structuredTimes), nil
}

func (r *MongoReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := r.client.Disconnect(ctx)
	r.client = nil
	return err
}

// fromBSON replaces driver-specific values with plain Go ones.
func fromBSON(doc bson.M) record {
	rec := make(record, len(doc))
	for k, v := range doc {
		rec[k] = bsonNative(v)
	}
	return rec
}

func bsonNative(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time()
	case primitive.Timestamp:
		return map[string]any{"seconds": int64(t.T), "nanoseconds": 0}
	case primitive.Decimal128:
		return t.String()
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = bsonNative(item)
		}
		return out
	case bson.M:
		return fromBSON(t)
	case bson.D:
		rec := make(record, len(t))
		for _, e := range t {
			rec[e.Key] = bsonNative(e.Value)
		}
		return rec
	default:
		return v
	}
}
