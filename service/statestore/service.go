// Package statestore defines the persistence contract for state records.
// There is no in-process global lock anywhere in the engine: every lifecycle
// invariant (at-most-one claim, at-most-one unites trigger, monotonic retry
// accounting) rests on the conditional primitives declared here, so any
// implementation must provide them atomically.
package statestore

import (
	"context"
	"time"

	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dao"
)

// ClaimRequest bounds one dispatch scan.
type ClaimRequest struct {
	Namespace string
	GraphName string
	// NodeNames filters claimable states to the node classes the calling
	// runtime serves; empty means any.
	NodeNames []string
	ClaimedBy string
	// Now gates on enqueue_after <= now; deferred re-queues are honored
	// purely by this filter, never by an in-memory timer.
	Now           time.Time
	LeaseDeadline time.Time
	Limit         int
}

// Service is the store contract for state records. Load and List return
// defensive copies; mutations happen only through Save on records the caller
// created, or through the conditional primitives.
type Service interface {
	// Save persists a new record or overwrites one the caller owns.
	Save(ctx context.Context, s *state.State) error

	// Load retrieves a record by id or dao.ErrNotFound.
	Load(ctx context.Context, id string) (*state.State, error)

	// List returns records matching the parameters.
	List(ctx context.Context, parameters ...*dao.Parameter) ([]*state.State, error)

	// ListRun returns every record of a run.
	ListRun(ctx context.Context, runID string) ([]*state.State, error)

	// Transition applies one atomic conditional update: the mutation runs
	// only while the record's status is in from. The returned bool is false
	// when the condition did not hold - the caller lost a concurrent race
	// and must treat the outcome as a silent no-op (dao.ErrConflict
	// semantics without an error).
	Transition(ctx context.Context, id string, from []state.Status, apply func(*state.State)) (*state.State, bool, error)

	// Claim atomically flips up to Limit due, eligible records to QUEUED and
	// returns them. A record claimed by a concurrent call never appears in
	// more than one result set.
	Claim(ctx context.Context, request ClaimRequest) ([]*state.State, error)

	// CreateUnique inserts a uniting state guarded by the uniqueness
	// constraint on (run id, unites fingerprint). The loser of a concurrent
	// insert receives dao.ErrDuplicateFingerprint.
	CreateUnique(ctx context.Context, s *state.State) error

	// ListExpired returns QUEUED records whose lease deadline passed.
	ListExpired(ctx context.Context, now time.Time) ([]*state.State, error)
}
