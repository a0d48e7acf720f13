package runstate

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"

	"github.com/aaravmat1209/public-comment-analysis/pkg/logging"
)

const defaultCollection = "document_runs"

// FirestoreStore persists DocumentRun records in a Firestore collection,
// keyed by document ID.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreStore wraps a Firestore client as a run store.
func NewFirestoreStore(client *firestore.Client) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	return &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		logger:     logging.NewLogger("runstate"),
	}, nil
}

// WithCollection overrides the collection name.
func (s *FirestoreStore) WithCollection(name string) *FirestoreStore {
	s.collection = name
	return s
}

// Create writes the initial record for a freshly planned run.
func (s *FirestoreStore) Create(ctx context.Context, run *DocumentRun) error {
	now := time.Now().UTC()
	run.StartedAt = now
	run.UpdatedAt = now
	if run.State == "" {
		run.State = StatePlanned
	}

	_, err := s.client.Collection(s.collection).Doc(run.DocumentID).Set(ctx, run)
	if err != nil {
		return fmt.Errorf("create run record %s: %w", run.DocumentID, err)
	}

	s.logger.Info().
		Str("document_id", run.DocumentID).
		Str("state", string(run.State)).
		Msg("Run record created")
	return nil
}

// Get reads the run record for a document.
func (s *FirestoreStore) Get(ctx context.Context, documentID string) (*DocumentRun, error) {
	doc, err := s.client.Collection(s.collection).Doc(documentID).Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("get run record %s: %w", documentID, err)
	}

	var run DocumentRun
	if err := doc.DataTo(&run); err != nil {
		return nil, fmt.Errorf("decode run record %s: %w", documentID, err)
	}
	return &run, nil
}

// Transition atomically moves a run to a new state, validating the lifecycle
// against the stored record inside a transaction. mutate, when non-nil, may
// adjust other fields (batch counters, error text) in the same write.
func (s *FirestoreStore) Transition(ctx context.Context, documentID string, to State, mutate func(*DocumentRun)) error {
	ref := s.client.Collection(s.collection).Doc(documentID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}

		var run DocumentRun
		if err := doc.DataTo(&run); err != nil {
			return err
		}
		if err := run.Transition(to); err != nil {
			return err
		}
		if mutate != nil {
			mutate(&run)
		}
		return tx.Set(ref, &run)
	})
	if err != nil {
		return fmt.Errorf("transition run %s to %s: %w", documentID, to, err)
	}

	s.logger.Info().
		Str("document_id", documentID).
		Str("state", string(to)).
		Msg("Run state updated")
	return nil
}
