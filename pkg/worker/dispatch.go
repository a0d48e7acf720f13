package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aaravmat1209/public-comment-analysis/pkg/planner"
)

// DispatchBatch runs every item of one batch in parallel and collects the
// results in item order. Workers share no mutable state; the shard and
// checkpoint stores are the only synchronization points, and unique
// (document, worker, page) keys keep concurrent writers from colliding.
//
// The returned error is the first fatal storage failure, if any. Fetch
// failures and rate limiting surface inside the results instead.
func (w *Worker) DispatchBatch(ctx context.Context, documentID, objectID, setMarker string, batch planner.Batch) ([]Result, error) {
	results := make([]Result, len(batch.Items))

	g, ctx := errgroup.WithContext(ctx)
	for i, item := range batch.Items {
		i, item := i, item
		g.Go(func() error {
			result, err := w.Process(ctx, Request{
				DocumentID: documentID,
				ObjectID:   objectID,
				SetMarker:  setMarker,
				Item:       item,
			})
			results[i] = result
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}

	w.logger.Info().
		Str("document_id", documentID).
		Int("batch", batch.BatchID).
		Int("workers", len(batch.Items)).
		Msg("Batch dispatched")

	return results, nil
}
