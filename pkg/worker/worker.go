// Package worker fetches exactly one page per invocation, persists the shard
// and its progress metadata, and reports a structured result. Fetch failures
// never escape the worker boundary; only storage write failures do.
package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/aaravmat1209/public-comment-analysis/pkg/blob"
	"github.com/aaravmat1209/public-comment-analysis/pkg/checkpoint"
	"github.com/aaravmat1209/public-comment-analysis/pkg/logging"
	"github.com/aaravmat1209/public-comment-analysis/pkg/planner"
	"github.com/aaravmat1209/public-comment-analysis/pkg/regsgov"
)

// Content types a worker shards into. Comments are the primary type; a
// document run without comment shards cannot be finalized.
const (
	ContentTypeComments    = "comments"
	ContentTypeAttachments = "attachments"
)

const shardTimestampLayout = "20060102T150405Z"

var (
	pagesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pca_worker_pages_total",
		Help: "Pages processed by workers, by outcome",
	}, []string{"outcome"})

	recordsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pca_worker_records_fetched_total",
		Help: "Comment records fetched and persisted by workers",
	})

	pageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pca_worker_page_duration_seconds",
		Help:    "Wall time per worker page invocation",
		Buckets: prometheus.DefBuckets,
	})
)

// Config holds the worker collaborators.
type Config struct {
	Client      *regsgov.Client
	Blob        blob.Store
	Checkpoints checkpoint.Store

	// MaxPagesPerSet marks which page closes a set. Only the set-final page's
	// marker seeds the next set's query window; markers from earlier pages
	// stay local to their own page resume.
	MaxPagesPerSet int
}

// Worker processes page assignments one at a time. Stateless between
// invocations; all progress lives in the checkpoint and blob stores.
type Worker struct {
	client         *regsgov.Client
	blob           blob.Store
	checkpoints    checkpoint.Store
	maxPagesPerSet int
	logger         zerolog.Logger
}

// New creates a Worker, validating that every collaborator is present.
func New(cfg Config) (*Worker, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("source client is required")
	}
	if cfg.Blob == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if cfg.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if cfg.MaxPagesPerSet < 1 {
		cfg.MaxPagesPerSet = regsgov.MaxPagesPerQuery
	}
	return &Worker{
		client:         cfg.Client,
		blob:           cfg.Blob,
		checkpoints:    cfg.Checkpoints,
		maxPagesPerSet: cfg.MaxPagesPerSet,
		logger:         logging.NewLogger("worker"),
	}, nil
}

// Request is one page assignment for one document.
type Request struct {
	DocumentID string
	ObjectID   string

	// SetMarker is the base of this set's query window: the closing marker
	// of the previous set, empty for the first set. Page numbers are
	// relative to this window.
	SetMarker string

	Item planner.WorkItem
}

// Result is the structured outcome of one worker invocation.
type Result struct {
	WorkerID        int    `json:"workerId"`
	PageNumber      int    `json:"pageNumber"`
	SetNumber       int    `json:"setNumber"`
	BatchID         int    `json:"batchId"`
	IsComplete      bool   `json:"isComplete"`
	RateLimited     bool   `json:"rateLimited"`
	RecordCount     int    `json:"recordCount"`
	AttachmentCount int    `json:"attachmentCount"`
	ShardRef        string `json:"shardRef,omitempty"`
	AttachmentRef   string `json:"attachmentRef,omitempty"`
	ResumeMarker    string `json:"resumeMarker,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Metadata is the per-shard progress record the aggregator folds into run
// metadata.
type Metadata struct {
	WorkerID        int       `json:"workerId"`
	PageNumber      int       `json:"pageNumber"`
	SetNumber       int       `json:"setNumber"`
	RecordCount     int       `json:"recordCount"`
	AttachmentCount int       `json:"attachmentCount"`
	RateLimited     bool      `json:"rateLimited"`
	ResumeMarker    string    `json:"resumeMarker,omitempty"`
	CompletionTime  time.Time `json:"completionTime"`
}

// Process fetches one page and persists its shard, metadata, and checkpoint.
//
// A rate-limit signal is an expected outcome, not an error: the partial
// shard is persisted and the result reports rateLimited=true so the
// coordinator routes the page back through reprocessing. The returned error
// is non-nil only for storage write failures, which are fatal for the run.
func (w *Worker) Process(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	defer func() { pageDuration.Observe(time.Since(start).Seconds()) }()

	item := req.Item
	result := Result{
		WorkerID:   item.WorkerID,
		PageNumber: item.PageNumber,
		SetNumber:  item.SetNumber,
		BatchID:    item.BatchID,
	}

	log := w.logger.With().
		Str("document_id", req.DocumentID).
		Int("worker_id", item.WorkerID).
		Int("page", item.PageNumber).
		Int("set", item.SetNumber).
		Logger()

	resumeMarker := item.ResumeMarker
	priorFetched := 0
	cp, err := w.checkpoints.Get(ctx, req.DocumentID, item.WorkerID, item.PageNumber)
	if err != nil {
		log.Warn().Err(err).Msg("Checkpoint lookup failed, fetching full page")
	} else if cp != nil {
		if cp.Completed {
			log.Info().Msg("Page already complete per checkpoint, skipping fetch")
			pagesProcessed.WithLabelValues("already_complete").Inc()
			result.IsComplete = true
			result.RecordCount = cp.RecordsFetched
			result.ResumeMarker = w.outgoingMarker(item.PageNumber, true, cp.ResumeMarker)
			return result, nil
		}
		if cp.ResumeMarker > resumeMarker {
			resumeMarker = cp.ResumeMarker
		}
		// Prior progress only counts when this fetch resumes from it; a full
		// refetch restarts the page count.
		if resumeMarker != "" {
			priorFetched = cp.RecordsFetched
		}
	}

	// A mid-page resume queries the tail directly: page 1 of the window
	// starting at the resume marker. Without one, the assigned page number
	// applies within the set's base window.
	pageNumber := item.PageNumber
	sinceMarker := resumeMarker
	if resumeMarker != "" {
		pageNumber = 1
	} else {
		sinceMarker = req.SetMarker
	}

	page, err := w.client.FetchCommentsPage(ctx, req.ObjectID, pageNumber, item.PageSize, sinceMarker)
	if err != nil {
		log.Error().Err(err).Msg("Page fetch failed")
		pagesProcessed.WithLabelValues("failed").Inc()
		result.Error = err.Error()
		return result, nil
	}

	result.RateLimited = page.RateLimited
	result.RecordCount = len(page.Comments)
	result.AttachmentCount = len(page.Attachments)
	result.IsComplete = !page.RateLimited

	// When nothing was fetched the page keeps whatever resume progress it
	// had. The set window base never becomes page progress.
	observedMarker := page.ResumeMarker
	if observedMarker == "" {
		observedMarker = resumeMarker
	}

	now := time.Now().UTC()
	if len(page.Comments) > 0 {
		result.ShardRef = ShardKey(req.DocumentID, ContentTypeComments, item.SetNumber,
			item.WorkerID, item.PageNumber, now, page.RateLimited)
		data, err := commentsCSV(page.Comments)
		if err != nil {
			return result, fmt.Errorf("encode comments shard: %w", err)
		}
		if err := w.blob.Put(ctx, result.ShardRef, data, "text/csv"); err != nil {
			return result, fmt.Errorf("write comments shard: %w", err)
		}
	}
	if len(page.Attachments) > 0 {
		result.AttachmentRef = ShardKey(req.DocumentID, ContentTypeAttachments, item.SetNumber,
			item.WorkerID, item.PageNumber, now, page.RateLimited)
		data, err := attachmentsCSV(page.Attachments)
		if err != nil {
			return result, fmt.Errorf("encode attachments shard: %w", err)
		}
		if err := w.blob.Put(ctx, result.AttachmentRef, data, "text/csv"); err != nil {
			return result, fmt.Errorf("write attachments shard: %w", err)
		}
	}

	meta := Metadata{
		WorkerID:        item.WorkerID,
		PageNumber:      item.PageNumber,
		SetNumber:       item.SetNumber,
		RecordCount:     len(page.Comments),
		AttachmentCount: len(page.Attachments),
		RateLimited:     page.RateLimited,
		ResumeMarker:    observedMarker,
		CompletionTime:  now,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return result, fmt.Errorf("encode shard metadata: %w", err)
	}
	metaKey := MetadataKey(req.DocumentID, item.WorkerID, item.PageNumber, now)
	if err := w.blob.Put(ctx, metaKey, metaData, "application/json"); err != nil {
		return result, fmt.Errorf("write shard metadata: %w", err)
	}

	// Checkpoints are advisory; a failed write only costs a refetch.
	if err := w.checkpoints.Put(ctx, &checkpoint.Checkpoint{
		DocumentID:     req.DocumentID,
		WorkerID:       item.WorkerID,
		PageNumber:     item.PageNumber,
		ResumeMarker:   observedMarker,
		RecordsFetched: priorFetched + len(page.Comments),
		Completed:      result.IsComplete,
	}); err != nil {
		log.Warn().Err(err).Msg("Checkpoint write failed")
	}

	result.ResumeMarker = w.outgoingMarker(item.PageNumber, result.IsComplete, observedMarker)

	if page.RateLimited {
		pagesProcessed.WithLabelValues("rate_limited").Inc()
		log.Warn().
			Int("records", len(page.Comments)).
			Msg("Page rate limited, partial shard persisted")
	} else {
		pagesProcessed.WithLabelValues("complete").Inc()
		log.Info().
			Int("records", len(page.Comments)).
			Int("attachments", len(page.Attachments)).
			Msg("Page complete")
	}
	recordsFetched.Add(float64(len(page.Comments)))

	return result, nil
}

// outgoingMarker decides which marker the result exposes to the driver. An
// incomplete page always reports its marker so the retry resumes mid-page.
// A complete page reports a marker only when it closes a set: that marker
// becomes the next set's lastModifiedDate window. Complete mid-set pages
// report nothing, otherwise a fast worker could drag the window past records
// its slower neighbors have not fetched yet.
func (w *Worker) outgoingMarker(pageNumber int, isComplete bool, marker string) string {
	if !isComplete {
		return marker
	}
	if pageNumber == w.maxPagesPerSet {
		return marker
	}
	return ""
}

// ShardKey builds the unique blob key for one worker's page shard. The
// timestamp keeps concurrent or replayed writes from colliding; the
// rate-limited suffix makes partial shards visible in listings.
func ShardKey(documentID, contentType string, setNumber, workerID, pageNumber int, ts time.Time, rateLimited bool) string {
	suffix := ""
	if rateLimited {
		suffix = "_rate_limited"
	}
	return fmt.Sprintf("%s/%s/set_%d_worker_%d_page_%d_%s%s.csv",
		documentID, contentType, setNumber, workerID, pageNumber,
		ts.Format(shardTimestampLayout), suffix)
}

// MetadataKey builds the blob key for one worker's progress metadata record.
func MetadataKey(documentID string, workerID, pageNumber int, ts time.Time) string {
	return fmt.Sprintf("%s/metadata/worker_%d_page_%d_%s.json",
		documentID, workerID, pageNumber, ts.Format(shardTimestampLayout))
}

func commentsCSV(comments []regsgov.Comment) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(regsgov.CommentCSVHeader()); err != nil {
		return nil, err
	}
	for _, c := range comments {
		if err := writer.Write(c.CSVRecord()); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func attachmentsCSV(attachments []regsgov.Attachment) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(regsgov.AttachmentCSVHeader()); err != nil {
		return nil, err
	}
	for _, a := range attachments {
		if err := writer.Write(a.CSVRecord()); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}
