// Package planner computes the deterministic work partition for one document
// run: pages grouped into batches, batches grouped into sets bounded by the
// source's maximum query offset.
//
// Worker and batch IDs are fold state threaded through the computation and
// returned with the plan, never package-level counters. A page whose
// checkpoint is already complete is omitted from the output but still
// consumes a worker ID; downstream components rely on the (worker, page)
// correspondence staying stable across replans.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/aaravmat1209/public-comment-analysis/pkg/checkpoint"
	"github.com/aaravmat1209/public-comment-analysis/pkg/regsgov"
)

// ErrInvalidPartition indicates partition input no plan can be derived from.
// Fatal: the document run aborts.
var ErrInvalidPartition = errors.New("invalid partition input")

// WorkItem is one page assignment for one worker.
type WorkItem struct {
	BatchID       int    `json:"batchId"`
	WorkerID      int    `json:"workerId"`
	PageNumber    int    `json:"pageNumber"`
	PageSize      int    `json:"pageSize"`
	ExpectedCount int    `json:"expectedCount"`
	SetNumber     int    `json:"setNumber"`
	ResumeMarker  string `json:"resumeMarker,omitempty"`
}

// Batch is an ordered group of work items dispatched together.
type Batch struct {
	BatchID         int        `json:"batchId"`
	SetNumber       int        `json:"setNumber"`
	Items           []WorkItem `json:"items"`
	ExpectedWorkers int        `json:"expectedWorkers"`
}

// Plan is the full partition for one document run.
type Plan struct {
	DocumentID      string  `json:"documentId"`
	ObjectID        string  `json:"objectId"`
	Batches         []Batch `json:"batches"`
	TotalBatches    int     `json:"totalBatches"`
	TotalWorkers    int     `json:"totalWorkers"`
	WorkersPerBatch int     `json:"workersPerBatch"`
	TotalRecords    int     `json:"totalRecords"`
	PageSize        int     `json:"pageSize"`
	TotalSets       int     `json:"totalSets"`
	RecordsPerSet   int     `json:"recordsPerSet"`
	SkippedPages    int     `json:"skippedPages"`

	// CurrentBatch always starts at 0; the driver advances it.
	CurrentBatch int `json:"currentBatch"`
}

// Input holds the planning parameters.
type Input struct {
	DocumentID   string
	ObjectID     string
	TotalRecords int

	// PageSize is bounded by the source's maximum page size.
	PageSize int

	// MaxPagesPerSet is bounded by the source's maximum query offset.
	MaxPagesPerSet int

	// WorkersPerBatch is sized to the source's rate-limit budget.
	WorkersPerBatch int

	// Checkpoints, when set, lets replanning skip completed pages and carry
	// resume markers into emitted items.
	Checkpoints checkpoint.Store
}

// counters is the fold state for ID assignment.
type counters struct {
	nextWorkerID int
	nextBatchID  int
}

// Build computes the ordered batch list for a document. For fixed input and
// an empty checkpoint set the output is identical on every call.
func Build(ctx context.Context, in Input) (*Plan, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	recordsPerSet := in.MaxPagesPerSet * in.PageSize
	totalSets := ceilDiv(in.TotalRecords, recordsPerSet)

	plan := &Plan{
		DocumentID:      in.DocumentID,
		ObjectID:        in.ObjectID,
		WorkersPerBatch: in.WorkersPerBatch,
		TotalRecords:    in.TotalRecords,
		PageSize:        in.PageSize,
		TotalSets:       totalSets,
		RecordsPerSet:   recordsPerSet,
	}

	var c counters
	for set := 1; set <= totalSets; set++ {
		remaining := min(recordsPerSet, in.TotalRecords-(set-1)*recordsPerSet)
		c = buildSet(ctx, in, plan, set, remaining, c)
	}

	plan.TotalBatches = len(plan.Batches)
	plan.TotalWorkers = c.nextWorkerID

	log.Info().
		Str("document_id", in.DocumentID).
		Int("total_records", in.TotalRecords).
		Int("total_sets", totalSets).
		Int("total_batches", plan.TotalBatches).
		Int("total_workers", plan.TotalWorkers).
		Int("skipped_pages", plan.SkippedPages).
		Msg("Work plan built")

	return plan, nil
}

// buildSet appends the batches for one set and returns the advanced counters.
func buildSet(ctx context.Context, in Input, plan *Plan, set, remaining int, c counters) counters {
	pagesNeeded := ceilDiv(remaining, in.PageSize)
	batchesForSet := ceilDiv(pagesNeeded, in.WorkersPerBatch)

	for local := 0; local < batchesForSet; local++ {
		basePage := local*in.WorkersPerBatch + 1
		workersInBatch := min(in.WorkersPerBatch, pagesNeeded-local*in.WorkersPerBatch)

		var items []WorkItem
		for i := 0; i < workersInBatch; i++ {
			pageNumber := basePage + i
			expected := min(in.PageSize, remaining-(pageNumber-1)*in.PageSize)
			if expected <= 0 {
				continue
			}

			// The worker ID is consumed whether or not the page is emitted.
			workerID := c.nextWorkerID
			c.nextWorkerID++

			resumeMarker := ""
			if in.Checkpoints != nil {
				cp, err := in.Checkpoints.Get(ctx, in.DocumentID, workerID, pageNumber)
				if err != nil {
					// Unreadable checkpoint state means refetching the page,
					// which is always safe.
					log.Warn().Err(err).
						Str("document_id", in.DocumentID).
						Int("worker_id", workerID).
						Int("page", pageNumber).
						Msg("Checkpoint lookup failed, planning full page")
				} else if cp != nil {
					if cp.Completed {
						plan.SkippedPages++
						log.Debug().
							Str("document_id", in.DocumentID).
							Int("worker_id", workerID).
							Int("page", pageNumber).
							Msg("Page already complete, skipping")
						continue
					}
					resumeMarker = cp.ResumeMarker
				}
			}

			items = append(items, WorkItem{
				BatchID:       c.nextBatchID,
				WorkerID:      workerID,
				PageNumber:    pageNumber,
				PageSize:      in.PageSize,
				ExpectedCount: expected,
				SetNumber:     set,
				ResumeMarker:  resumeMarker,
			})
		}

		// A batch whose pages were all skipped is not emitted and does not
		// consume a batch ID.
		if len(items) > 0 {
			plan.Batches = append(plan.Batches, Batch{
				BatchID:         c.nextBatchID,
				SetNumber:       set,
				Items:           items,
				ExpectedWorkers: len(items),
			})
			c.nextBatchID++
		}
	}

	return c
}

// Reprocess emits exactly one batch containing exactly the given items,
// bypassing all planning math. Used to retry only the subset that failed in a
// prior round.
func Reprocess(documentID, objectID string, items []WorkItem) (*Plan, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: reprocess list is empty", ErrInvalidPartition)
	}

	batch := Batch{
		BatchID:         items[0].BatchID,
		SetNumber:       items[0].SetNumber,
		Items:           items,
		ExpectedWorkers: len(items),
	}

	log.Info().
		Str("document_id", documentID).
		Int("items", len(items)).
		Msg("Reprocessing plan built")

	return &Plan{
		DocumentID:   documentID,
		ObjectID:     objectID,
		Batches:      []Batch{batch},
		TotalBatches: 1,
		TotalWorkers: len(items),
	}, nil
}

func validate(in Input) error {
	if in.TotalRecords < 0 {
		return fmt.Errorf("%w: negative record count %d", ErrInvalidPartition, in.TotalRecords)
	}
	if in.PageSize < 1 || in.PageSize > regsgov.MaxPageSize {
		return fmt.Errorf("%w: page size %d outside [1, %d]", ErrInvalidPartition, in.PageSize, regsgov.MaxPageSize)
	}
	if in.MaxPagesPerSet < 1 || in.MaxPagesPerSet > regsgov.MaxPagesPerQuery {
		return fmt.Errorf("%w: max pages per set %d outside [1, %d]", ErrInvalidPartition, in.MaxPagesPerSet, regsgov.MaxPagesPerQuery)
	}
	if in.WorkersPerBatch < 1 {
		return fmt.Errorf("%w: workers per batch %d < 1", ErrInvalidPartition, in.WorkersPerBatch)
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
