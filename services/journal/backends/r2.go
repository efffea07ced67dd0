package backends

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	"reelsync/config"
	"reelsync/models"
	"reelsync/services/journal"
)

const maxObjectBytes = 16 << 20

// R2Reader fetches one JSON object from an S3-compatible bucket.
type R2Reader struct {
	cfg    config.R2Settings
	client *s3.Client
}

func NewR2Reader(cfg config.R2Settings, httpClient *http.Client) *R2Reader {
	r := &R2Reader{cfg: cfg}
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return r
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(orDefault(cfg.Endpoint, "")),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}
	if httpClient != nil {
		opts.HTTPClient = httpClient
	}
	r.client = s3.New(opts)
	return r
}

func (r *R2Reader) Read(ctx context.Context) ([]models.JournalEntry, error) {
	if r.client == nil {
		return nil, journal.ErrNotConfigured
	}
	key := r.cfg.Key
	if key == "" {
		key = "journal/entries.json"
	}
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return []models.JournalEntry{}, nil
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	records, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return normalizeAll(records, structuredTimes), nil
}

// decodeObject sniffs the stored bytes, inflating gzip when present, and
// rejects anything that is not JSON text.
func decodeObject(data []byte) ([]record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	kind := mimetype.Detect(data)
	if kind.Is("application/gzip") {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("inflate object: %w", err)
		}
		defer zr.Close()
		data, err = io.ReadAll(io.LimitReader(zr, maxObjectBytes))
		if err != nil {
			return nil, fmt.Errorf("inflate object: %w", err)
		}
		kind = mimetype.Detect(data)
	}
	if !isText(kind) {
		return nil, fmt.Errorf("unsupported object type %s", kind.String())
	}
	return decodeDocument(data)
}

func isText(kind *mimetype.MIME) bool {
	for m := kind; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/json"), m.Is("application/x-ndjson"), m.Is("text/plain"):
			return true
		}
	}
	return false
}
