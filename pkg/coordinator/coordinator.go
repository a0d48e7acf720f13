// Package coordinator decides, after each batch of workers, whether the run
// reprocesses a subset, advances to the next batch, or finishes.
package coordinator

import (
	"github.com/rs/zerolog/log"

	"github.com/aaravmat1209/public-comment-analysis/pkg/planner"
	"github.com/aaravmat1209/public-comment-analysis/pkg/worker"
)

// Decision is the coordinator's verdict on one batch round.
type Decision struct {
	// HasMoreBatches is true while any work remains, including reprocessing
	// of the current batch.
	HasMoreBatches bool `json:"hasMoreBatches"`

	// NeedsReprocessing is true when the current batch must be re-dispatched
	// before the run may advance.
	NeedsReprocessing bool `json:"needsReprocessing"`

	// IncompleteItems are the work items to feed back into reprocess
	// planning. Resume markers reported by the partial attempts are carried
	// in, so the retry fetches only the unfetched tail of each page.
	IncompleteItems []planner.WorkItem `json:"incompleteItems,omitempty"`

	// CurrentBatch echoes the batch index, unchanged on reprocessing.
	CurrentBatch int `json:"currentBatch"`
}

// Check inspects one batch's worker results. Any incomplete or missing
// result holds the run at the current batch for reprocessing; a clean batch
// advances, and a clean terminal batch ends the dispatch loop.
//
// Rate limiting shows up here as an incomplete result like any other. It is
// the expected steady-state outcome of running near the source's budget and
// never fails the run.
func Check(currentBatch, totalBatches int, batch planner.Batch, results []worker.Result) Decision {
	byWorker := make(map[int]worker.Result, len(results))
	for _, r := range results {
		byWorker[r.WorkerID] = r
	}

	var incomplete []planner.WorkItem
	for _, item := range batch.Items {
		r, ok := byWorker[item.WorkerID]
		if ok && r.IsComplete {
			continue
		}

		retry := item
		if ok && r.ResumeMarker > retry.ResumeMarker {
			retry.ResumeMarker = r.ResumeMarker
		}
		incomplete = append(incomplete, retry)
	}

	if len(incomplete) > 0 {
		log.Info().
			Int("batch", currentBatch).
			Int("incomplete", len(incomplete)).
			Int("total", len(batch.Items)).
			Msg("Batch needs reprocessing")
		return Decision{
			HasMoreBatches:    true,
			NeedsReprocessing: true,
			IncompleteItems:   incomplete,
			CurrentBatch:      currentBatch,
		}
	}

	hasMore := currentBatch+1 < totalBatches
	log.Info().
		Int("batch", currentBatch).
		Int("total_batches", totalBatches).
		Bool("has_more", hasMore).
		Msg("Batch clean")

	return Decision{
		HasMoreBatches: hasMore,
		CurrentBatch:   currentBatch,
	}
}
