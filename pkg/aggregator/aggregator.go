// Package aggregator merges all per-worker shards for a document into
// consolidated artifacts plus run metadata. It is a stateless, single-shot
// operation: everything it needs is read from the blob store, and a failed
// aggregation leaves every shard untouched for a future retry.
package aggregator

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/aaravmat1209/public-comment-analysis/pkg/blob"
	"github.com/aaravmat1209/public-comment-analysis/pkg/logging"
	"github.com/aaravmat1209/public-comment-analysis/pkg/regsgov"
	"github.com/aaravmat1209/public-comment-analysis/pkg/worker"
)

var (
	// ErrNoPrimaryShards indicates no comment shards exist for the document.
	// Fatal: the document cannot be finalized.
	ErrNoPrimaryShards = errors.New("no primary shards found")

	// ErrHeaderMismatch indicates a shard's CSV header differs from the
	// schema established by the first shard. The merge fails loudly rather
	// than silently dropping or reordering columns.
	ErrHeaderMismatch = errors.New("shard header mismatch")
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pca_aggregator_runs_total",
		Help: "Aggregation runs by outcome",
	}, []string{"outcome"})

	recordsMerged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pca_aggregator_records_merged_total",
		Help: "Rows merged into consolidated artifacts",
	})
)

// shardKeyPattern extracts (set, worker, page) from a shard key.
var shardKeyPattern = regexp.MustCompile(`set_(\d+)_worker_(\d+)_page_(\d+)_`)

// RateLimitedPage identifies one (worker, page) pair that hit the rate limit
// at least once during the run.
type RateLimitedPage struct {
	WorkerID   int `json:"workerId"`
	PageNumber int `json:"pageNumber"`
}

// RunMetadata summarizes one finished document run.
type RunMetadata struct {
	DocumentID         string            `json:"documentId"`
	TotalRecords       int               `json:"totalRecords"`
	TotalAttachments   int               `json:"totalAttachments"`
	TotalShards        int               `json:"totalShards"`
	MaxPageSeen        int               `json:"maxPageSeen"`
	RateLimitedPages   []RateLimitedPage `json:"rateLimitedPages,omitempty"`
	EarliestCompletion time.Time         `json:"earliestCompletion"`
	LatestCompletion   time.Time         `json:"latestCompletion"`
	Artifacts          map[string]string `json:"artifacts"`
	AggregatedAt       time.Time         `json:"aggregatedAt"`
}

// Config holds the aggregator collaborators and policy switches.
type Config struct {
	Blob blob.Store

	// SynthesizeEmptySecondary writes a header-only attachments artifact
	// when no attachment shards exist, keeping the downstream schema stable
	// for documents whose comments carry no attachments.
	SynthesizeEmptySecondary bool

	// CleanupShards deletes per-worker shards and metadata records after the
	// consolidated artifacts are durably committed. Cleanup failures are
	// logged, never fatal.
	CleanupShards bool
}

// Aggregator merges shards into final artifacts.
type Aggregator struct {
	blob                     blob.Store
	synthesizeEmptySecondary bool
	cleanupShards            bool
	logger                   zerolog.Logger
}

// New creates an Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if cfg.Blob == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	return &Aggregator{
		blob:                     cfg.Blob,
		synthesizeEmptySecondary: cfg.SynthesizeEmptySecondary,
		cleanupShards:            cfg.CleanupShards,
		logger:                   logging.NewLogger("aggregator"),
	}, nil
}

// Aggregate merges every shard for the document into one artifact per
// content type plus a run metadata record, then optionally cleans up the
// shards. Aggregating the same shard set twice yields identical rows and
// identical metadata totals.
func (a *Aggregator) Aggregate(ctx context.Context, documentID string) (*RunMetadata, error) {
	commentShards, err := a.listShards(ctx, documentID, worker.ContentTypeComments)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if len(commentShards) == 0 {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: document %s", ErrNoPrimaryShards, documentID)
	}

	attachmentShards, err := a.listShards(ctx, documentID, worker.ContentTypeAttachments)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	meta := &RunMetadata{
		DocumentID:   documentID,
		TotalShards:  len(commentShards) + len(attachmentShards),
		Artifacts:    make(map[string]string),
		AggregatedAt: time.Now().UTC(),
	}

	commentsOut, commentRows, err := a.mergeShards(ctx, commentShards)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	var attachmentsOut []byte
	var attachmentRows int
	switch {
	case len(attachmentShards) > 0:
		attachmentsOut, attachmentRows, err = a.mergeShards(ctx, attachmentShards)
		if err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
	case a.synthesizeEmptySecondary:
		attachmentsOut, err = headerOnlyCSV(regsgov.AttachmentCSVHeader())
		if err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		a.logger.Info().
			Str("document_id", documentID).
			Msg("No attachment shards, synthesizing empty artifact")
	}

	if err := a.foldMetadata(ctx, documentID, meta); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// Artifact writes are fatal on failure; the shards stay in place so the
	// whole aggregation can be retried.
	commentsKey := FinalArtifactKey(documentID, worker.ContentTypeComments)
	if err := a.blob.Put(ctx, commentsKey, commentsOut, "text/csv"); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("write consolidated comments: %w", err)
	}
	meta.Artifacts[worker.ContentTypeComments] = commentsKey

	if attachmentsOut != nil {
		attachmentsKey := FinalArtifactKey(documentID, worker.ContentTypeAttachments)
		if err := a.blob.Put(ctx, attachmentsKey, attachmentsOut, "text/csv"); err != nil {
			runsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("write consolidated attachments: %w", err)
		}
		meta.Artifacts[worker.ContentTypeAttachments] = attachmentsKey
	}

	metaKey := RunMetadataKey(documentID)
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("encode run metadata: %w", err)
	}
	if err := a.blob.Put(ctx, metaKey, metaJSON, "application/json"); err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("write run metadata: %w", err)
	}
	meta.Artifacts["metadata"] = metaKey

	if a.cleanupShards {
		a.cleanup(ctx, documentID, commentShards, attachmentShards)
	}

	recordsMerged.Add(float64(commentRows + attachmentRows))
	runsTotal.WithLabelValues("complete").Inc()
	a.logger.Info().
		Str("document_id", documentID).
		Int("comment_rows", commentRows).
		Int("attachment_rows", attachmentRows).
		Int("shards", meta.TotalShards).
		Msg("Aggregation complete")

	return meta, nil
}

// shardRef is one listed shard with its parsed ordering coordinates.
type shardRef struct {
	key    string
	set    int
	worker int
	page   int
}

// listShards lists and orders the shards of one content type. Ordering is
// (set, page, worker) ascending with the key as tiebreaker, independent of
// whatever order the blob store returned.
func (a *Aggregator) listShards(ctx context.Context, documentID, contentType string) ([]shardRef, error) {
	objects, err := a.blob.List(ctx, documentID+"/"+contentType+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s shards: %w", contentType, err)
	}

	shards := make([]shardRef, 0, len(objects))
	for _, obj := range objects {
		ref, ok := parseShardKey(obj.Key)
		if !ok {
			a.logger.Warn().Str("key", obj.Key).Msg("Unrecognized shard key, skipping")
			continue
		}
		shards = append(shards, ref)
	}

	sort.Slice(shards, func(i, j int) bool {
		if shards[i].set != shards[j].set {
			return shards[i].set < shards[j].set
		}
		if shards[i].page != shards[j].page {
			return shards[i].page < shards[j].page
		}
		if shards[i].worker != shards[j].worker {
			return shards[i].worker < shards[j].worker
		}
		return shards[i].key < shards[j].key
	})

	return shards, nil
}

func parseShardKey(key string) (shardRef, bool) {
	m := shardKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return shardRef{}, false
	}
	set, _ := strconv.Atoi(m[1])
	worker, _ := strconv.Atoi(m[2])
	page, _ := strconv.Atoi(m[3])
	return shardRef{key: key, set: set, worker: worker, page: page}, true
}

// mergeShards concatenates ordered shards into one CSV document. The first
// shard's header defines the schema; any divergent header aborts the merge.
func (a *Aggregator) mergeShards(ctx context.Context, shards []shardRef) ([]byte, int, error) {
	var buf bytes.Buffer
	out := csv.NewWriter(&buf)

	var schema []string
	rows := 0
	for _, shard := range shards {
		data, err := a.blob.Get(ctx, shard.key)
		if err != nil {
			return nil, 0, fmt.Errorf("read shard %s: %w", shard.key, err)
		}

		reader := csv.NewReader(bytes.NewReader(data))
		records, err := reader.ReadAll()
		if err != nil {
			return nil, 0, fmt.Errorf("parse shard %s: %w", shard.key, err)
		}
		if len(records) == 0 {
			continue
		}

		header := records[0]
		if schema == nil {
			schema = header
			if err := out.Write(schema); err != nil {
				return nil, 0, err
			}
		} else if !equalHeader(schema, header) {
			return nil, 0, fmt.Errorf("%w: shard %s", ErrHeaderMismatch, shard.key)
		}

		for _, record := range records[1:] {
			if err := out.Write(record); err != nil {
				return nil, 0, err
			}
			rows++
		}
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), rows, nil
}

// foldMetadata folds every per-shard metadata record into the run summary.
func (a *Aggregator) foldMetadata(ctx context.Context, documentID string, meta *RunMetadata) error {
	objects, err := a.blob.List(ctx, documentID+"/metadata/")
	if err != nil {
		return fmt.Errorf("list shard metadata: %w", err)
	}

	seenRateLimited := make(map[RateLimitedPage]bool)
	for _, obj := range objects {
		data, err := a.blob.Get(ctx, obj.Key)
		if err != nil {
			return fmt.Errorf("read shard metadata %s: %w", obj.Key, err)
		}

		var shard worker.Metadata
		if err := json.Unmarshal(data, &shard); err != nil {
			a.logger.Warn().Err(err).Str("key", obj.Key).Msg("Malformed shard metadata, skipping")
			continue
		}

		meta.TotalRecords += shard.RecordCount
		meta.TotalAttachments += shard.AttachmentCount
		if shard.PageNumber > meta.MaxPageSeen {
			meta.MaxPageSeen = shard.PageNumber
		}
		if shard.RateLimited {
			pair := RateLimitedPage{WorkerID: shard.WorkerID, PageNumber: shard.PageNumber}
			if !seenRateLimited[pair] {
				seenRateLimited[pair] = true
				meta.RateLimitedPages = append(meta.RateLimitedPages, pair)
			}
		}
		if meta.EarliestCompletion.IsZero() || shard.CompletionTime.Before(meta.EarliestCompletion) {
			meta.EarliestCompletion = shard.CompletionTime
		}
		if shard.CompletionTime.After(meta.LatestCompletion) {
			meta.LatestCompletion = shard.CompletionTime
		}
	}

	sort.Slice(meta.RateLimitedPages, func(i, j int) bool {
		if meta.RateLimitedPages[i].WorkerID != meta.RateLimitedPages[j].WorkerID {
			return meta.RateLimitedPages[i].WorkerID < meta.RateLimitedPages[j].WorkerID
		}
		return meta.RateLimitedPages[i].PageNumber < meta.RateLimitedPages[j].PageNumber
	})

	return nil
}

// cleanup removes shards and metadata records after the final artifacts are
// committed. Best effort only.
func (a *Aggregator) cleanup(ctx context.Context, documentID string, shardGroups ...[]shardRef) {
	deleted, failed := 0, 0
	for _, shards := range shardGroups {
		for _, shard := range shards {
			if err := a.blob.Delete(ctx, shard.key); err != nil {
				failed++
				a.logger.Warn().Err(err).Str("key", shard.key).Msg("Shard cleanup failed")
				continue
			}
			deleted++
		}
	}

	objects, err := a.blob.List(ctx, documentID+"/metadata/")
	if err != nil {
		a.logger.Warn().Err(err).Msg("Metadata cleanup listing failed")
	} else {
		for _, obj := range objects {
			if err := a.blob.Delete(ctx, obj.Key); err != nil {
				failed++
				a.logger.Warn().Err(err).Str("key", obj.Key).Msg("Metadata cleanup failed")
				continue
			}
			deleted++
		}
	}

	a.logger.Info().
		Str("document_id", documentID).
		Int("deleted", deleted).
		Int("failed", failed).
		Msg("Shard cleanup finished")
}

// FinalArtifactKey is the blob key of the consolidated artifact for one
// content type.
func FinalArtifactKey(documentID, contentType string) string {
	return fmt.Sprintf("%s/final/%s.csv", documentID, contentType)
}

// RunMetadataKey is the blob key of the consolidated run metadata record.
func RunMetadataKey(documentID string) string {
	return fmt.Sprintf("%s/final/run_metadata.json", documentID)
}

func headerOnlyCSV(header []string) ([]byte, error) {
	var buf bytes.Buffer
	out := csv.NewWriter(&buf)
	if err := out.Write(header); err != nil {
		return nil, err
	}
	out.Flush()
	return buf.Bytes(), out.Error()
}

func equalHeader(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
