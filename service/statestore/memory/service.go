package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/dao/criteria"
	"github.com/flowmesh/flowmesh/service/statestore"
)

// Service implements statestore.Service in memory. A single mutex stands in
// for the conditional-write primitives a database provides; all operations
// return clones so callers can never mutate stored records in place.
type Service struct {
	mu           sync.Mutex
	states       map[string]*state.State
	fingerprints map[string]string // runID+"\x00"+fingerprint -> state id
}

var _ statestore.Service = (*Service)(nil)

// New creates an empty in-memory state store.
func New() *Service {
	return &Service{
		states:       map[string]*state.State{},
		fingerprints: map[string]string{},
	}
}

// Save persists a clone of the supplied state.
func (s *Service) Save(_ context.Context, record *state.State) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[record.ID] = record.Clone()
	if record.UnitesFingerprint != "" {
		s.fingerprints[fingerprintKey(record.RunID, record.UnitesFingerprint)] = record.ID
	}
	return nil
}

// Load retrieves a copy of the state or dao.ErrNotFound.
func (s *Service) Load(_ context.Context, id string) (*state.State, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.Lock()
	record, ok := s.states[id]
	s.mu.Unlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return record.Clone(), nil
}

// List returns copies of all states matching the parameters.
func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*state.State, 0, len(s.states))
	for _, record := range s.states {
		if !criteria.Matches(parameters, func(name string) (string, bool) {
			return stateField(record, name)
		}) {
			continue
		}
		out = append(out, record.Clone())
	}
	sortByCreation(out)
	return out, nil
}

// ListRun returns every state of the run.
func (s *Service) ListRun(ctx context.Context, runID string) ([]*state.State, error) {
	if runID == "" {
		return nil, dao.ErrInvalidID
	}
	return s.List(ctx, dao.NewParameter("RunID", runID))
}

// Transition applies the mutation only while the record status is in from.
func (s *Service) Transition(_ context.Context, id string, from []state.Status, apply func(*state.State)) (*state.State, bool, error) {
	if id == "" {
		return nil, false, dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.states[id]
	if !ok {
		return nil, false, dao.ErrNotFound
	}
	if !statusIn(record.Status, from) {
		return record.Clone(), false, nil
	}
	apply(record)
	record.UpdatedAt = clock.Now()
	return record.Clone(), true, nil
}

// Claim flips up to Limit due records to QUEUED under the store lock.
func (s *Service) Claim(_ context.Context, request statestore.ClaimRequest) ([]*state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*state.State, 0)
	for _, record := range s.states {
		if !record.Due(request.Now) {
			continue
		}
		if request.Namespace != "" && record.Namespace != request.Namespace {
			continue
		}
		if request.GraphName != "" && record.GraphName != request.GraphName {
			continue
		}
		if len(request.NodeNames) > 0 && !contains(request.NodeNames, record.NodeName) {
			continue
		}
		candidates = append(candidates, record)
	}
	sortByCreation(candidates)

	limit := request.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	claimed := make([]*state.State, 0, limit)
	for _, record := range candidates[:limit] {
		record.Queue(request.ClaimedBy, request.LeaseDeadline)
		claimed = append(claimed, record.Clone())
	}
	return claimed, nil
}

// CreateUnique inserts the uniting state unless its fingerprint already won.
func (s *Service) CreateUnique(_ context.Context, record *state.State) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" || record.UnitesFingerprint == "" {
		return dao.ErrInvalidID
	}
	key := fingerprintKey(record.RunID, record.UnitesFingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.fingerprints[key]; exists {
		return dao.ErrDuplicateFingerprint
	}
	s.fingerprints[key] = record.ID
	s.states[record.ID] = record.Clone()
	return nil
}

// ListExpired returns QUEUED records whose lease deadline passed.
func (s *Service) ListExpired(_ context.Context, now time.Time) ([]*state.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*state.State
	for _, record := range s.states {
		if record.Status != state.StatusQueued || record.LeaseDeadline == nil {
			continue
		}
		if record.LeaseDeadline.After(now) {
			continue
		}
		out = append(out, record.Clone())
	}
	sortByCreation(out)
	return out, nil
}

func fingerprintKey(runID, fingerprint string) string {
	return runID + "\x00" + fingerprint
}

func stateField(record *state.State, name string) (string, bool) {
	switch name {
	case "RunID":
		return record.RunID, true
	case "GraphName":
		return record.GraphName, true
	case "Namespace":
		return record.Namespace, true
	case "NodeName":
		return record.NodeName, true
	case "Identifier":
		return record.Identifier, true
	case "Status":
		return string(record.Status), true
	}
	return "", false
}

func statusIn(status state.Status, set []state.Status) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if candidate == value {
			return true
		}
	}
	return false
}

func sortByCreation(records []*state.State) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
