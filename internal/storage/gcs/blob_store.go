// Package gcs archives record batches to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultContentType = "application/x-ndjson"

// Config names the bucket and tunes uploads.
type Config struct {
	Bucket string
	// ChunkSize is passed to the object writer. Zero keeps the client
	// default; a negative value sends every object in a single request.
	ChunkSize int
	// Metadata is attached to every object written.
	Metadata map[string]string
}

// BlobStore uploads archive objects into one bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	cfg    Config
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("gcs: storage client is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("gcs: bucket name is required")
	}
	return &BlobStore{bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// Dial opens a client with application default credentials. The returned
// func closes that client.
func Dial(ctx context.Context, cfg Config) (*BlobStore, func() error, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("gcs: create client: %w", err)
	}
	store, err := New(client, cfg)
	if err != nil {
		return nil, nil, errors.Join(err, client.Close())
	}
	return store, client.Close, nil
}

// PutObject streams r into the object at path and returns its gs:// URI.
// An empty contentType is stored as NDJSON.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("gcs: object path is required")
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if len(s.cfg.Metadata) > 0 {
		w.Metadata = maps.Clone(s.cfg.Metadata)
	}
	switch {
	case s.cfg.ChunkSize < 0:
		w.ChunkSize = 0
	case s.cfg.ChunkSize > 0:
		w.ChunkSize = s.cfg.ChunkSize
	}

	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close keeps a partial object from being committed.
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("gcs: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: finalize %s: %w", path, err)
	}
	return "gs://" + s.cfg.Bucket + "/" + path, nil
}
