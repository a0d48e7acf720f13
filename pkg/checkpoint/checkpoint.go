// Package checkpoint provides durable, TTL-bounded per-(worker,page) progress
// records. Checkpoints are advisory: absence means "start of page", never an
// error. A checkpoint's resume marker only moves forward and its completed
// flag is terminal, so replanning after a crash can trust what it reads.
package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL bounds how long a checkpoint survives. A week comfortably
// outlives any abandoned run while keeping the store self-cleaning.
const DefaultTTL = 7 * 24 * time.Hour

// Checkpoint records how far one (worker, page) pair progressed.
type Checkpoint struct {
	DocumentID     string    `json:"documentId"`
	WorkerID       int       `json:"workerId"`
	PageNumber     int       `json:"pageNumber"`
	ResumeMarker   string    `json:"resumeMarker,omitempty"`
	RecordsFetched int       `json:"recordsFetched"`
	Completed      bool      `json:"completed"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Store is the durable checkpoint collaborator.
type Store interface {
	// Get returns the checkpoint for (documentID, workerID, pageNumber), or
	// (nil, nil) when none exists.
	Get(ctx context.Context, documentID string, workerID, pageNumber int) (*Checkpoint, error)

	// Put persists a checkpoint, enforcing the forward-only marker and
	// one-way completed invariants against any existing record.
	Put(ctx context.Context, cp *Checkpoint) error
}

// Key returns the storage key for a (document, worker, page) checkpoint.
// Key uniqueness is what lets parallel workers write without coordination.
func Key(documentID string, workerID, pageNumber int) string {
	return fmt.Sprintf("pca:checkpoint:%s:%d:%d", documentID, workerID, pageNumber)
}

// merge applies the store invariants: the resume marker never moves backward
// and completed never flips off.
func merge(existing, next *Checkpoint) *Checkpoint {
	if existing == nil {
		return next
	}

	merged := *next
	if existing.ResumeMarker > merged.ResumeMarker {
		merged.ResumeMarker = existing.ResumeMarker
	}
	if existing.Completed {
		merged.Completed = true
	}
	return &merged
}
