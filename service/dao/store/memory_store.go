package store

import (
	"context"
	"sync"

	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/dao/criteria"
)

// MemoryStore is a generic in-memory implementation of dao.Service. It keeps
// entities of type *T mapped by a comparable key K obtained from the supplied
// key selector, and returns clones so that callers can never mutate stored
// records in place.
//
// Concrete DAOs (node registrations, graph templates) embed the store and
// avoid rewriting identical Save/Load/Delete/List logic per entity type.
var _ dao.Service[string, struct{}] = (*MemoryStore[string, struct{}])(nil)

type MemoryStore[K comparable, T any] struct {
	mu          sync.RWMutex
	records     map[K]*T
	keySelector func(*T) K
	clone       func(*T) *T
	fields      func(*T, string) (string, bool)
}

// NewMemoryStore creates a new MemoryStore. keySelector extracts the entity
// key; clone produces the defensive copy handed to callers; fields exposes
// named string fields for List filtering and may be nil.
func NewMemoryStore[K comparable, T any](
	keySelector func(*T) K,
	clone func(*T) *T,
	fields func(*T, string) (string, bool),
) *MemoryStore[K, T] {
	return &MemoryStore[K, T]{
		records:     make(map[K]*T),
		keySelector: keySelector,
		clone:       clone,
		fields:      fields,
	}
}

// Save stores or overwrites a record.
func (s *MemoryStore[K, T]) Save(_ context.Context, v *T) error {
	if v == nil {
		return dao.ErrNilEntity
	}
	key := s.keySelector(v)
	var zero K
	if key == zero {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = s.clone(v)
	return nil
}

// Load returns a clone of the record or dao.ErrNotFound.
func (s *MemoryStore[K, T]) Load(_ context.Context, key K) (*T, error) {
	var zero K
	if key == zero {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, dao.ErrNotFound
	}
	return s.clone(record), nil
}

// Delete removes a record.
func (s *MemoryStore[K, T]) Delete(_ context.Context, key K) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return dao.ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// List returns clones of all records matching the supplied parameters.
func (s *MemoryStore[K, T]) List(_ context.Context, parameters ...*dao.Parameter) ([]*T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*T, 0, len(s.records))
	for _, record := range s.records {
		if s.fields != nil && !criteria.Matches(parameters, func(name string) (string, bool) {
			return s.fields(record, name)
		}) {
			continue
		}
		out = append(out, s.clone(record))
	}
	return out, nil
}
