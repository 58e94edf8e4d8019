// Package fanout turns one executed state's outputs into sibling records and
// materializes their downstream successors. A single output updates the
// original record in place; N outputs produce N siblings sharing node
// identity and parent set, one of which keeps the original id.
package fanout

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/statestore"
)

// Expansion reports what one Apply call produced.
type Expansion struct {
	// Siblings are the EXECUTED records carrying the outputs, original id
	// first.
	Siblings []*state.State
	// Created are the new CREATED successor records.
	Created []*state.State
	// Applied is false when the state was not QUEUED, i.e. the report was a
	// duplicate and nothing changed.
	Applied bool
	// From is the original record's status before the report applied.
	From state.Status
}

// Service expands executed states.
type Service struct {
	store    statestore.Service
	resolver *Resolver
}

// New creates a fanout service.
func New(store statestore.Service) *Service {
	return &Service{store: store, resolver: NewResolver(store)}
}

// Resolver exposes the input resolver for barrier creation.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Apply records the outputs on the state identified by id and materializes
// each sibling's non-barrier successors. The QUEUED condition makes
// duplicate reports silent no-ops.
func (s *Service) Apply(ctx context.Context, template *graph.Template, id string, outputs []map[string]string) (*Expansion, error) {
	if len(outputs) == 0 {
		outputs = []map[string]string{{}}
	}
	expansion := &Expansion{}

	original, applied, err := s.store.Transition(ctx, id, state.Reportable(), func(record *state.State) {
		expansion.From = record.Status
		record.Executed(outputs[0])
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return expansion, nil
	}
	expansion.Applied = true
	expansion.Siblings = append(expansion.Siblings, original)

	// Remaining outputs become fresh sibling records with distinct payloads.
	for _, payload := range outputs[1:] {
		sibling := state.New(original.Namespace, original.GraphName, original.RunID, original.NodeName, original.Identifier, original.Inputs, original.ParentIDs...)
		sibling.RetryCount = original.RetryCount
		sibling.Executed(payload)
		if err := s.store.Save(ctx, sibling); err != nil {
			return nil, err
		}
		expansion.Siblings = append(expansion.Siblings, sibling)
	}

	node := template.Lookup(original.Identifier)
	if node == nil {
		return nil, fmt.Errorf("fanout: template %s/%s has no node %q", template.Namespace, template.Name, original.Identifier)
	}

	for _, sibling := range expansion.Siblings {
		created, err := s.materialize(ctx, template, node, sibling)
		if err != nil {
			return nil, err
		}
		expansion.Created = append(expansion.Created, created...)
	}
	return expansion, nil
}

// materialize creates the sibling's immediate successors and settles the
// sibling to NEXT_CREATED or SUCCESS. Successors guarded by a unites barrier
// are never created here.
func (s *Service) materialize(ctx context.Context, template *graph.Template, node *graph.Node, sibling *state.State) ([]*state.State, error) {
	var created []*state.State
	for _, next := range node.Next {
		successor := template.Lookup(next)
		if successor == nil {
			return nil, fmt.Errorf("fanout: template %s/%s has no node %q", template.Namespace, template.Name, next)
		}
		if successor.Unites != nil {
			continue
		}
		inputs, err := s.resolver.Resolve(ctx, successor, []*state.State{sibling})
		if err != nil {
			return nil, err
		}
		record := state.New(sibling.Namespace, sibling.GraphName, sibling.RunID, successor.Name, successor.Identifier, inputs, sibling.ID)
		if err := s.store.Save(ctx, record); err != nil {
			return nil, err
		}
		created = append(created, record)
	}

	settled := state.StatusSuccess
	if len(created) > 0 {
		settled = state.StatusNextCreated
	}
	updated, _, err := s.store.Transition(ctx, sibling.ID, []state.Status{state.StatusExecuted}, func(record *state.State) {
		record.Status = settled
	})
	if err != nil {
		return nil, err
	}
	if updated != nil {
		*sibling = *updated
	}
	return created, nil
}
