package state

import (
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/internal/idgen"
)

// State is one execution record for a single node occurrence within a run.
// Records are exclusively owned by the state store; every component mutates
// them only through the store's atomic primitives, so the struct carries no
// in-memory references to other records - parent links are plain id lists.
type State struct {
	ID         string `json:"id"`
	Namespace  string `json:"namespace,omitempty"`
	GraphName  string `json:"graphName"`
	RunID      string `json:"runId"`
	NodeName   string `json:"nodeName"`
	Identifier string `json:"identifier"`
	Status     Status `json:"status"`

	Inputs  map[string]string `json:"inputs,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
	Error   string            `json:"error,omitempty"`

	ParentIDs []string `json:"parentIds,omitempty"`

	RetryCount int `json:"retryCount"`

	// UnitesFingerprint is set only on uniting states; the store enforces a
	// uniqueness constraint on (RunID, UnitesFingerprint).
	UnitesFingerprint string `json:"unitesFingerprint,omitempty"`

	EnqueueAfter  time.Time  `json:"enqueueAfter"`
	LeaseDeadline *time.Time `json:"leaseDeadline,omitempty"`
	ClaimedBy     string     `json:"claimedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates a CREATED state for the given node occurrence.
func New(namespace, graphName, runID, nodeName, identifier string, inputs map[string]string, parentIDs ...string) *State {
	now := clock.Now()
	if inputs == nil {
		inputs = map[string]string{}
	}
	return &State{
		ID:           idgen.New(),
		Namespace:    namespace,
		GraphName:    graphName,
		RunID:        runID,
		NodeName:     nodeName,
		Identifier:   identifier,
		Status:       StatusCreated,
		Inputs:       inputs,
		ParentIDs:    append([]string(nil), parentIDs...),
		EnqueueAfter: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Queue marks the state as claimed until the lease deadline.
func (s *State) Queue(claimedBy string, leaseDeadline time.Time) {
	s.Status = StatusQueued
	s.ClaimedBy = claimedBy
	s.LeaseDeadline = &leaseDeadline
	s.UpdatedAt = clock.Now()
}

// Executed records the attempt outputs.
func (s *State) Executed(outputs map[string]string) {
	s.Status = StatusExecuted
	s.Outputs = outputs
	s.LeaseDeadline = nil
	s.UpdatedAt = clock.Now()
}

// Errored records a worker-reported failure.
func (s *State) Errored(message string) {
	s.Status = StatusErrored
	s.Error = message
	s.LeaseDeadline = nil
	s.UpdatedAt = clock.Now()
}

// TimedOut records a missed lease deadline.
func (s *State) TimedOut() {
	s.Status = StatusTimedOut
	s.Error = "lease deadline exceeded"
	s.LeaseDeadline = nil
	s.UpdatedAt = clock.Now()
}

// RetryClone produces the fresh CREATED record that supersedes a failed
// attempt. The original record is never rewritten back to a non-terminal
// status; a retry is always a new record.
func (s *State) RetryClone(enqueueAfter time.Time) *State {
	clone := s.Clone()
	clone.ID = idgen.New()
	clone.Status = StatusCreated
	clone.Outputs = nil
	clone.Error = ""
	clone.ClaimedBy = ""
	clone.LeaseDeadline = nil
	clone.RetryCount = s.RetryCount + 1
	clone.EnqueueAfter = enqueueAfter
	now := clock.Now()
	clone.CreatedAt = now
	clone.UpdatedAt = now
	return clone
}

// Clone creates a deep copy so that callers can mutate the result without
// affecting the stored instance.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Inputs != nil {
		clone.Inputs = make(map[string]string, len(s.Inputs))
		for k, v := range s.Inputs {
			clone.Inputs[k] = v
		}
	}
	if s.Outputs != nil {
		clone.Outputs = make(map[string]string, len(s.Outputs))
		for k, v := range s.Outputs {
			clone.Outputs[k] = v
		}
	}
	if len(s.ParentIDs) > 0 {
		clone.ParentIDs = append([]string(nil), s.ParentIDs...)
	}
	if s.LeaseDeadline != nil {
		deadline := *s.LeaseDeadline
		clone.LeaseDeadline = &deadline
	}
	return &clone
}

// HasParent reports whether id is a direct parent of the state.
func (s *State) HasParent(id string) bool {
	for _, parentID := range s.ParentIDs {
		if parentID == id {
			return true
		}
	}
	return false
}

// Due reports whether the state is eligible for dispatch at the given time.
func (s *State) Due(now time.Time) bool {
	return s.Status == StatusCreated && !s.EnqueueAfter.After(now)
}
