// Package unites implements the synchronization barrier: a node that must
// wait for every branch fanned out at an upstream identifier before
// executing exactly once. Creation is deduplicated by a store-level
// uniqueness constraint on the cohort fingerprint, never by in-process
// locking, so concurrent evaluations are safe across processes.
package unites

import (
	"context"
	"errors"

	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/fanout"
	"github.com/flowmesh/flowmesh/service/statestore"
)

// Service evaluates barrier cohorts and creates uniting states.
type Service struct {
	store    statestore.Service
	resolver *fanout.Resolver
}

// New creates a unites service sharing the fanout input resolver.
func New(store statestore.Service, resolver *fanout.Resolver) *Service {
	if resolver == nil {
		resolver = fanout.NewResolver(store)
	}
	return &Service{store: store, resolver: resolver}
}

// Evaluate re-checks every barrier the settled member feeds and returns the
// uniting states created by this call. Losing a concurrent creation race is
// a silent no-op.
func (s *Service) Evaluate(ctx context.Context, template *graph.Template, member *state.State) ([]*state.State, error) {
	node := template.Lookup(member.Identifier)
	if node == nil {
		return nil, nil
	}
	var created []*state.State
	for _, next := range node.Next {
		barrier := template.Lookup(next)
		if barrier == nil || barrier.Unites == nil {
			continue
		}
		record, err := s.evaluateBarrier(ctx, template, barrier, member)
		if err != nil {
			return created, err
		}
		if record != nil {
			created = append(created, record)
		}
	}
	return created, nil
}

// evaluateBarrier checks one barrier's cohort and creates the uniting state
// when the strategy is satisfied.
func (s *Service) evaluateBarrier(ctx context.Context, template *graph.Template, barrier *graph.Node, member *state.State) (*state.State, error) {
	run, err := s.store.ListRun(ctx, member.RunID)
	if err != nil {
		return nil, err
	}
	index := newRunIndex(run)

	boundary := index.nearestAncestors(member, barrier.Unites.Identifier)
	if len(boundary) == 0 {
		return nil, nil
	}
	boundaryParents := boundary[0].ParentIDs

	siblings := index.siblings(barrier.Unites.Identifier, boundaryParents)
	if len(siblings) == 0 {
		return nil, nil
	}

	feederIdentifiers := map[string]bool{}
	for _, feeder := range template.Feeders(barrier.Identifier) {
		feederIdentifiers[feeder.Identifier] = true
	}

	var parents []*state.State
	for _, sibling := range siblings {
		branch := index.branch(sibling)
		satisfied, branchFeeders := branchStatus(branch, feederIdentifiers, barrier.Unites.Strategy)
		if !satisfied {
			return nil, nil
		}
		parents = append(parents, branchFeeders...)
	}
	if len(parents) == 0 {
		// every branch died before reaching a feeder; the barrier anchors on
		// the fanout siblings themselves
		parents = siblings
	}

	inputs, err := s.resolver.Resolve(ctx, barrier, parents)
	if err != nil {
		return nil, err
	}
	parentIDs := make([]string, 0, len(parents))
	for _, parent := range parents {
		parentIDs = append(parentIDs, parent.ID)
	}

	record := state.New(member.Namespace, member.GraphName, member.RunID, barrier.Name, barrier.Identifier, inputs, parentIDs...)
	record.UnitesFingerprint = Fingerprint(member.RunID, barrier.Identifier, boundaryParents)
	if err := s.store.CreateUnique(ctx, record); err != nil {
		if errors.Is(err, dao.ErrDuplicateFingerprint) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// branchStatus decides whether one fanout branch satisfies the strategy and
// returns the feeder states a created barrier should anchor on.
func branchStatus(branch []*state.State, feederIdentifiers map[string]bool, strategy graph.UniteStrategy) (bool, []*state.State) {
	var feeders []*state.State
	successFeeder := false
	for _, record := range branch {
		if !record.Status.IsTerminal() {
			return false, nil
		}
		if record.Status == state.StatusRetryCreated {
			// superseded by a fresh clone that is also part of the branch
			continue
		}
		if !feederIdentifiers[record.Identifier] {
			continue
		}
		feeders = append(feeders, record)
		switch record.Status {
		case state.StatusSuccess, state.StatusNextCreated:
			successFeeder = true
		default:
			if strategy == graph.UniteAllSuccess {
				return false, nil
			}
		}
	}
	if strategy == graph.UniteAllSuccess && !successFeeder {
		return false, nil
	}
	contributing := make([]*state.State, 0, len(feeders))
	for _, feeder := range feeders {
		if feeder.Status == state.StatusSuccess || feeder.Status == state.StatusNextCreated {
			contributing = append(contributing, feeder)
		}
	}
	return true, contributing
}

// runIndex is a per-evaluation view over all records of one run.
type runIndex struct {
	byID     map[string]*state.State
	children map[string][]*state.State
	all      []*state.State
}

func newRunIndex(run []*state.State) *runIndex {
	index := &runIndex{
		byID:     make(map[string]*state.State, len(run)),
		children: map[string][]*state.State{},
		all:      run,
	}
	for _, record := range run {
		index.byID[record.ID] = record
	}
	for _, record := range run {
		for _, parentID := range record.ParentIDs {
			index.children[parentID] = append(index.children[parentID], record)
		}
	}
	return index
}

// nearestAncestors returns the closest occurrences of identifier at or above
// the given record.
func (x *runIndex) nearestAncestors(record *state.State, identifier string) []*state.State {
	visited := map[string]bool{}
	frontier := []*state.State{record}
	for len(frontier) > 0 {
		var matches []*state.State
		var next []*state.State
		for _, candidate := range frontier {
			if candidate == nil || visited[candidate.ID] {
				continue
			}
			visited[candidate.ID] = true
			if candidate.Identifier == identifier {
				matches = append(matches, candidate)
				continue
			}
			for _, parentID := range candidate.ParentIDs {
				next = append(next, x.byID[parentID])
			}
		}
		if len(matches) > 0 {
			return matches
		}
		frontier = next
	}
	return nil
}

// siblings returns every non-superseded occurrence of identifier sharing the
// boundary parent set.
func (x *runIndex) siblings(identifier string, boundaryParents []string) []*state.State {
	var out []*state.State
	for _, record := range x.all {
		if record.Identifier != identifier || record.Status == state.StatusRetryCreated {
			continue
		}
		if sameIDSet(record.ParentIDs, boundaryParents) {
			out = append(out, record)
		}
	}
	return out
}

// branch returns the record plus every descendant reachable through parent
// links. Uniting states mark where a branch ends: they and their subtrees
// sit downstream of a barrier and are never cohort members, so an already
// created barrier must not gate a second barrier on the same fanout point.
func (x *runIndex) branch(record *state.State) []*state.State {
	visited := map[string]bool{}
	var out []*state.State
	frontier := []*state.State{record}
	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]
		if visited[current.ID] {
			continue
		}
		visited[current.ID] = true
		if current.UnitesFingerprint != "" {
			continue
		}
		out = append(out, current)
		frontier = append(frontier, x.children[current.ID]...)
	}
	return out
}

func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
