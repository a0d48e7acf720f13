// Package runstate tracks the lifecycle of one document run. The engine only
// implements the transition logic; an external driver owns the loop.
package runstate

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle phase of a document run.
type State string

const (
	// StatePlanned means the work partition exists but nothing dispatched.
	StatePlanned State = "PLANNED"

	// StateDispatching means one batch of workers is in flight.
	StateDispatching State = "DISPATCHING"

	// StateReprocessing means the current batch is being re-dispatched for
	// its incomplete subset. Rate limiting lands here, never in FAILED.
	StateReprocessing State = "REPROCESSING"

	// StateAggregating means all batches are clean and shards are merging.
	StateAggregating State = "AGGREGATING"

	// StateDone is terminal: consolidated artifacts are committed.
	StateDone State = "DONE"

	// StateFailed is terminal: a non-recoverable condition was hit, such as
	// malformed partition input or zero primary shards at aggregation.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition indicates a state change the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid run state transition")

// transitions maps each state to its allowed successors.
var transitions = map[State][]State{
	// PLANNED may jump straight to AGGREGATING when every page was already
	// checkpointed complete and the plan holds no batches.
	StatePlanned:      {StateDispatching, StateAggregating, StateFailed},
	StateDispatching:  {StateDispatching, StateReprocessing, StateAggregating, StateFailed},
	StateReprocessing: {StateReprocessing, StateDispatching, StateAggregating, StateFailed},
	StateAggregating:  {StateDone, StateFailed},
	StateDone:         nil,
	StateFailed:       nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a run in this state can never change again.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// DocumentRun is the durable record of one document run's progress.
type DocumentRun struct {
	DocumentID   string    `firestore:"documentId" json:"documentId"`
	ObjectID     string    `firestore:"objectId" json:"objectId"`
	TotalRecords int       `firestore:"totalRecords" json:"totalRecords"`
	State        State     `firestore:"state" json:"state"`
	CurrentBatch int       `firestore:"currentBatch" json:"currentBatch"`
	TotalBatches int       `firestore:"totalBatches" json:"totalBatches"`
	StartedAt    time.Time `firestore:"startedAt" json:"startedAt"`
	UpdatedAt    time.Time `firestore:"updatedAt" json:"updatedAt"`
	Error        string    `firestore:"error,omitempty" json:"error,omitempty"`
}

// Transition moves the run to a new state after validating the lifecycle.
func (r *DocumentRun) Transition(to State) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	r.UpdatedAt = time.Now().UTC()
	return nil
}
