//go:build integration

package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	store := NewRedisStore(redisClient, logger)
	ctx := context.Background()

	// Absent checkpoint is nil, nil
	cp, err := store.Get(ctx, "DOC-1", 0, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp != nil {
		t.Errorf("Get() = %+v, want nil", cp)
	}

	// Write and read back
	err = store.Put(ctx, &Checkpoint{
		DocumentID:     "DOC-1",
		WorkerID:       0,
		PageNumber:     1,
		ResumeMarker:   "2025-01-15T09:10:00Z",
		RecordsFetched: 88,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cp, err = store.Get(ctx, "DOC-1", 0, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp == nil {
		t.Fatal("Get() = nil after Put")
	}
	if cp.RecordsFetched != 88 {
		t.Errorf("RecordsFetched = %d, want 88", cp.RecordsFetched)
	}

	// Invariants hold across Puts
	if err := store.Put(ctx, &Checkpoint{
		DocumentID: "DOC-1", WorkerID: 0, PageNumber: 1,
		ResumeMarker: "2025-01-15T09:00:00Z", Completed: true,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, &Checkpoint{
		DocumentID: "DOC-1", WorkerID: 0, PageNumber: 1,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cp, err = store.Get(ctx, "DOC-1", 0, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp.ResumeMarker != "2025-01-15T09:10:00Z" {
		t.Errorf("ResumeMarker = %q, marker must not move backward", cp.ResumeMarker)
	}
	if !cp.Completed {
		t.Error("Completed must stay set")
	}
}

func TestRedisStore_Integration_TTL(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	store := NewRedisStore(redisClient, logger).WithTTL(1 * time.Second)
	ctx := context.Background()

	if err := store.Put(ctx, &Checkpoint{
		DocumentID: "DOC-TTL", WorkerID: 0, PageNumber: 1,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	cp, err := store.Get(ctx, "DOC-TTL", 0, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cp != nil {
		t.Error("Checkpoint should have expired")
	}
}
