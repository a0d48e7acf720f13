// Package blob abstracts the durable shard/artifact store. Production runs
// use Google Cloud Storage; tests and local runs use the in-memory store.
package blob

import (
	"context"
	"time"
)

// ObjectInfo describes one stored object in a listing.
type ObjectInfo struct {
	Key          string
	Size         int64
	ModifiedTime time.Time
}

// Store is the blob store collaborator. Keys are slash-separated paths; List
// returns every object under a prefix. No ordering guarantee is made by List
// (callers sort what they need sorted).
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
