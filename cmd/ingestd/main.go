// ingestd runs one full document ingestion: plan the partition, dispatch
// worker batches against the regulations.gov API, reprocess rate-limited
// pages until clean, then aggregate all shards into final artifacts.
//
// All state between steps lives in Redis (checkpoints, rate-limit budget)
// and the blob store (shards, artifacts), so an interrupted run can simply
// be restarted and resumes from its checkpoints.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aaravmat1209/public-comment-analysis/pkg/aggregator"
	"github.com/aaravmat1209/public-comment-analysis/pkg/blob"
	"github.com/aaravmat1209/public-comment-analysis/pkg/checkpoint"
	"github.com/aaravmat1209/public-comment-analysis/pkg/coordinator"
	"github.com/aaravmat1209/public-comment-analysis/pkg/logging"
	"github.com/aaravmat1209/public-comment-analysis/pkg/planner"
	"github.com/aaravmat1209/public-comment-analysis/pkg/ratelimit"
	"github.com/aaravmat1209/public-comment-analysis/pkg/regsgov"
	"github.com/aaravmat1209/public-comment-analysis/pkg/runstate"
	"github.com/aaravmat1209/public-comment-analysis/pkg/worker"
)

func main() {
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(getEnv("LOG_LEVEL", "info"))
	logCfg.Pretty = os.Getenv("LOG_PRETTY") == "true"
	logger := logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", addr).Msg("Metrics server listening")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	if err := run(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("Ingestion failed")
	}
}

func run(ctx context.Context, logger zerolog.Logger) error {
	apiKey := os.Getenv("REGSGOV_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("REGSGOV_API_KEY is required")
	}
	documentID := os.Getenv("DOCUMENT_ID")
	objectID := os.Getenv("OBJECT_ID")
	if documentID == "" || objectID == "" {
		return fmt.Errorf("DOCUMENT_ID and OBJECT_ID are required")
	}
	totalRecords, err := strconv.Atoi(getEnv("TOTAL_RECORDS", "0"))
	if err != nil {
		return fmt.Errorf("parse TOTAL_RECORDS: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: getEnv("REDIS_URL", "localhost:6379"),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	tracker := ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))

	clientCfg := regsgov.DefaultConfig(apiKey)
	clientCfg.Limiter = tracker
	client, err := regsgov.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}

	checkpoints := checkpoint.NewRedisStore(redisClient, logging.NewLogger("checkpoint"))

	blobStore, err := newBlobStore(ctx, logger)
	if err != nil {
		return err
	}

	runs, err := newRunStore(ctx, logger)
	if err != nil {
		return err
	}

	maxPagesPerSet, _ := strconv.Atoi(getEnv("MAX_PAGES_PER_SET", strconv.Itoa(regsgov.MaxPagesPerQuery)))
	workersPerBatch, _ := strconv.Atoi(getEnv("WORKERS_PER_BATCH", "5"))
	pageSize, _ := strconv.Atoi(getEnv("PAGE_SIZE", strconv.Itoa(regsgov.MaxPageSize)))

	plan, err := planner.Build(ctx, planner.Input{
		DocumentID:      documentID,
		ObjectID:        objectID,
		TotalRecords:    totalRecords,
		PageSize:        pageSize,
		MaxPagesPerSet:  maxPagesPerSet,
		WorkersPerBatch: workersPerBatch,
		Checkpoints:     checkpoints,
	})
	if err != nil {
		return err
	}

	if runs != nil {
		if err := runs.Create(ctx, &runstate.DocumentRun{
			DocumentID:   documentID,
			ObjectID:     objectID,
			TotalRecords: totalRecords,
			State:        runstate.StatePlanned,
			TotalBatches: plan.TotalBatches,
		}); err != nil {
			logger.Warn().Err(err).Msg("Run record creation failed, continuing without run state")
			runs = nil
		}
	}

	w, err := worker.New(worker.Config{
		Client:         client,
		Blob:           blobStore,
		Checkpoints:    checkpoints,
		MaxPagesPerSet: maxPagesPerSet,
	})
	if err != nil {
		return err
	}

	reprocessWait, _ := time.ParseDuration(getEnv("REPROCESS_WAIT", "60s"))
	setMarker := os.Getenv("LAST_KNOWN_MARKER")

	for i := 0; i < len(plan.Batches); i++ {
		batch := plan.Batches[i]
		transition(ctx, runs, documentID, runstate.StateDispatching, func(r *runstate.DocumentRun) {
			r.CurrentBatch = i
		}, logger)

		for {
			results, err := w.DispatchBatch(ctx, documentID, objectID, setMarker, batch)
			if err != nil {
				transition(ctx, runs, documentID, runstate.StateFailed, func(r *runstate.DocumentRun) {
					r.Error = err.Error()
				}, logger)
				return err
			}

			for _, r := range results {
				if r.IsComplete && r.ResumeMarker > setMarker {
					setMarker = r.ResumeMarker
				}
			}

			decision := coordinator.Check(i, plan.TotalBatches, batch, results)
			if !decision.NeedsReprocessing {
				break
			}

			transition(ctx, runs, documentID, runstate.StateReprocessing, nil, logger)

			retry, err := planner.Reprocess(documentID, objectID, decision.IncompleteItems)
			if err != nil {
				return err
			}
			batch = retry.Batches[0]

			logger.Info().
				Int("batch", i).
				Int("items", len(batch.Items)).
				Dur("wait", reprocessWait).
				Msg("Waiting before reprocessing round")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reprocessWait):
			}
		}
	}

	transition(ctx, runs, documentID, runstate.StateAggregating, nil, logger)

	agg, err := aggregator.New(aggregator.Config{
		Blob:                     blobStore,
		SynthesizeEmptySecondary: os.Getenv("SYNTHESIZE_EMPTY_ATTACHMENTS") != "false",
		CleanupShards:            os.Getenv("CLEANUP_SHARDS") == "true",
	})
	if err != nil {
		return err
	}

	meta, err := agg.Aggregate(ctx, documentID)
	if err != nil {
		transition(ctx, runs, documentID, runstate.StateFailed, func(r *runstate.DocumentRun) {
			r.Error = err.Error()
		}, logger)
		return err
	}

	transition(ctx, runs, documentID, runstate.StateDone, nil, logger)
	logger.Info().
		Str("document_id", documentID).
		Int("total_records", meta.TotalRecords).
		Int("total_attachments", meta.TotalAttachments).
		Int("rate_limited_pages", len(meta.RateLimitedPages)).
		Msg("Ingestion complete")

	return nil
}

// newBlobStore picks GCS when a bucket is configured, otherwise an in-memory
// store for local smoke runs.
func newBlobStore(ctx context.Context, logger zerolog.Logger) (blob.Store, error) {
	bucket := os.Getenv("GCS_BUCKET")
	if bucket == "" {
		logger.Warn().Msg("GCS_BUCKET not set, using in-memory blob store")
		return blob.NewMemoryStore(), nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return blob.NewGCSStore(client, bucket, logger)
}

// newRunStore returns a Firestore-backed run store, or nil when no project
// is configured. Run state tracking is optional for local runs.
func newRunStore(ctx context.Context, logger zerolog.Logger) (*runstate.FirestoreStore, error) {
	project := os.Getenv("GCP_PROJECT")
	if project == "" {
		logger.Warn().Msg("GCP_PROJECT not set, run state tracking disabled")
		return nil, nil
	}

	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return runstate.NewFirestoreStore(client)
}

func transition(ctx context.Context, runs *runstate.FirestoreStore, documentID string, to runstate.State, mutate func(*runstate.DocumentRun), logger zerolog.Logger) {
	if runs == nil {
		return
	}
	if err := runs.Transition(ctx, documentID, to, mutate); err != nil {
		logger.Warn().Err(err).Str("state", string(to)).Msg("Run state update failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
