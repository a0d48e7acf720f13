package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore is a Store backed by one Google Cloud Storage bucket.
type GCSStore struct {
	bucket *storage.BucketHandle
	logger zerolog.Logger
}

// NewGCSStore wraps a bucket handle as a Store.
func NewGCSStore(client *storage.Client, bucketName string, logger zerolog.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSStore{
		bucket: client.Bucket(bucketName),
		logger: logger,
	}, nil
}

// Put writes an object, replacing any existing content under the key.
// Shard keys embed a timestamp, so concurrent writers never collide; a replay
// of the same worker invocation simply produces a fresh complete object.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	writer := s.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		return fmt.Errorf("write gcs object %s: %w", key, err)
	}

	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == 412 {
			// Precondition failure means another writer finished first with
			// identical content; idempotent writes treat this as success.
			s.logger.Debug().Str("key", key).Msg("Object already exists, skipping")
			return nil
		}
		return fmt.Errorf("finalize gcs object %s: %w", key, err)
	}

	return nil
}

// Get reads an object's full content.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open gcs object %s: %w", key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", key, err)
	}
	return data, nil
}

// List returns every object under the prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs prefix %s: %w", prefix, err)
		}
		objects = append(objects, ObjectInfo{
			Key:          attrs.Name,
			Size:         attrs.Size,
			ModifiedTime: attrs.Updated,
		})
	}

	return objects, nil
}

// Delete removes an object.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("delete gcs object %s: %w", key, err)
	}
	return nil
}
