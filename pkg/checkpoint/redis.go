package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore persists checkpoints as JSON values with a TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisStore creates a Redis-backed checkpoint store with DefaultTTL.
func NewRedisStore(redisClient *redis.Client, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		ttl:    DefaultTTL,
		logger: logger,
	}
}

// WithTTL overrides the checkpoint TTL.
func (s *RedisStore) WithTTL(ttl time.Duration) *RedisStore {
	s.ttl = ttl
	return s
}

// Get retrieves a checkpoint. Absence is advisory, not an error.
func (s *RedisStore) Get(ctx context.Context, documentID string, workerID, pageNumber int) (*Checkpoint, error) {
	key := Key(documentID, workerID, pageNumber)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", key, err)
	}

	s.logger.Debug().
		Str("document_id", documentID).
		Int("worker_id", workerID).
		Int("page", pageNumber).
		Str("resume_marker", cp.ResumeMarker).
		Bool("completed", cp.Completed).
		Msg("Checkpoint read")

	return &cp, nil
}

// Put persists a checkpoint with TTL, preserving store invariants against any
// existing record.
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	existing, err := s.Get(ctx, cp.DocumentID, cp.WorkerID, cp.PageNumber)
	if err != nil {
		// A broken existing record must not block fresh progress.
		s.logger.Warn().Err(err).Msg("Ignoring unreadable existing checkpoint")
	}

	merged := merge(existing, cp)
	merged.LastUpdated = time.Now().UTC()

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := Key(cp.DocumentID, cp.WorkerID, cp.PageNumber)
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}

	s.logger.Debug().
		Str("document_id", cp.DocumentID).
		Int("worker_id", cp.WorkerID).
		Int("page", cp.PageNumber).
		Bool("completed", merged.Completed).
		Dur("ttl", s.ttl).
		Msg("Checkpoint written")

	return nil
}
