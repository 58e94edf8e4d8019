// Package progress keeps aggregated per-run status counters fed by state
// transition events. The tracker is a pure observer: it never feeds back
// into the lifecycle and losing events only skews counters, never
// correctness.
package progress

import (
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/event"
)

// RunProgress is a snapshot of one run's counters.
type RunProgress struct {
	RunID       string               `json:"runId"`
	GraphName   string               `json:"graphName"`
	StartedAt   time.Time            `json:"startedAt"`
	Counts      map[state.Status]int `json:"counts"`
	Transitions int                  `json:"transitions"`
}

// Tracker aggregates transition events per run. It is safe for concurrent
// use.
type Tracker struct {
	mu       sync.Mutex
	runs     map[string]*RunProgress
	onChange func(RunProgress)
}

// NewTracker creates a tracker. The optional onChange callback is invoked
// with a snapshot after every applied event, outside the critical section.
func NewTracker(onChange func(RunProgress)) *Tracker {
	return &Tracker{
		runs:     map[string]*RunProgress{},
		onChange: onChange,
	}
}

// Attach subscribes the tracker to the transition event stream.
func (t *Tracker) Attach(events *event.Service) error {
	return event.SetListenerOf[event.StateTransition](events, t.Apply)
}

// Apply folds one transition event into the run's counters. A record moving
// between statuses decrements its previous bucket; a freshly created record
// only increments.
func (t *Tracker) Apply(e *event.Event[event.StateTransition]) {
	if e == nil {
		return
	}
	transition := e.Data
	t.mu.Lock()
	run, ok := t.runs[transition.RunID]
	if !ok {
		run = &RunProgress{
			RunID:     transition.RunID,
			GraphName: transition.GraphName,
			StartedAt: clock.Now(),
			Counts:    map[state.Status]int{},
		}
		t.runs[transition.RunID] = run
	}
	if transition.From != transition.To && run.Counts[transition.From] > 0 {
		run.Counts[transition.From]--
	}
	run.Counts[transition.To]++
	run.Transitions++
	snapshot := snapshotOf(run)
	cb := t.onChange
	t.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the run's counters; ok is false for runs the
// tracker has not seen.
func (t *Tracker) Snapshot(runID string) (RunProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, ok := t.runs[runID]
	if !ok {
		return RunProgress{}, false
	}
	return snapshotOf(run), true
}

func snapshotOf(run *RunProgress) RunProgress {
	snapshot := *run
	snapshot.Counts = make(map[state.Status]int, len(run.Counts))
	for status, count := range run.Counts {
		snapshot.Counts[status] = count
	}
	return snapshot
}
