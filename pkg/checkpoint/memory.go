package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local runs. Safe for
// concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]Checkpoint),
	}
}

// Get retrieves a checkpoint, or (nil, nil) when none exists.
func (s *MemoryStore) Get(_ context.Context, documentID string, workerID, pageNumber int) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[Key(documentID, workerID, pageNumber)]
	if !ok {
		return nil, nil
	}
	out := cp
	return &out, nil
}

// Put persists a checkpoint, preserving store invariants.
func (s *MemoryStore) Put(_ context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(cp.DocumentID, cp.WorkerID, cp.PageNumber)

	var existing *Checkpoint
	if old, ok := s.checkpoints[key]; ok {
		existing = &old
	}

	merged := merge(existing, cp)
	merged.LastUpdated = time.Now().UTC()
	s.checkpoints[key] = *merged

	return nil
}

// Len returns the number of stored checkpoints.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}
