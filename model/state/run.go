package state

import "time"

// Run is the derived view over all states sharing one run id. It is never
// persisted; callers rebuild it by query.
type Run struct {
	RunID     string         `json:"runId"`
	GraphName string         `json:"graphName"`
	States    []*State       `json:"states"`
	Progress  map[Status]int `json:"progress"`
}

// NewRun aggregates states into a run view.
func NewRun(runID string, states []*State) *Run {
	run := &Run{RunID: runID, States: states, Progress: map[Status]int{}}
	for _, s := range states {
		run.Progress[s.Status]++
		if run.GraphName == "" {
			run.GraphName = s.GraphName
		}
	}
	return run
}

// Completed reports whether every state in the run reached a terminal status.
func (r *Run) Completed() bool {
	for _, s := range r.States {
		if !s.Status.IsTerminal() {
			return false
		}
	}
	return len(r.States) > 0
}

// Succeeded reports whether the run completed with every state on a
// success-reachable path.
func (r *Run) Succeeded() bool {
	if !r.Completed() {
		return false
	}
	for _, s := range r.States {
		if !s.Status.IsSuccessReachable() && s.Status != StatusRetryCreated {
			return false
		}
	}
	return true
}

// GraphStructure is the node/edge/execution-summary view served to external
// visualization callers.
type GraphStructure struct {
	RunID     string          `json:"runId"`
	GraphName string          `json:"graphName"`
	Nodes     []*StructNode   `json:"nodes"`
	Edges     []*StructEdge   `json:"edges"`
	Summary   []*NodeProgress `json:"summary"`
}

// StructNode is one state vertex of the run DAG.
type StructNode struct {
	StateID    string    `json:"stateId"`
	NodeName   string    `json:"nodeName"`
	Identifier string    `json:"identifier"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retryCount"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StructEdge is one parent->child link of the run DAG.
type StructEdge struct {
	FromStateID string `json:"fromStateId"`
	ToStateID   string `json:"toStateId"`
}

// NodeProgress summarises execution per template identifier.
type NodeProgress struct {
	Identifier string         `json:"identifier"`
	Counts     map[Status]int `json:"counts"`
}

// Structure derives the visualization view from the run's states.
func (r *Run) Structure() *GraphStructure {
	ret := &GraphStructure{RunID: r.RunID, GraphName: r.GraphName}
	perIdentifier := map[string]*NodeProgress{}
	for _, s := range r.States {
		ret.Nodes = append(ret.Nodes, &StructNode{
			StateID:    s.ID,
			NodeName:   s.NodeName,
			Identifier: s.Identifier,
			Status:     s.Status,
			RetryCount: s.RetryCount,
			Error:      s.Error,
			UpdatedAt:  s.UpdatedAt,
		})
		for _, parentID := range s.ParentIDs {
			ret.Edges = append(ret.Edges, &StructEdge{FromStateID: parentID, ToStateID: s.ID})
		}
		progress, ok := perIdentifier[s.Identifier]
		if !ok {
			progress = &NodeProgress{Identifier: s.Identifier, Counts: map[Status]int{}}
			perIdentifier[s.Identifier] = progress
			ret.Summary = append(ret.Summary, progress)
		}
		progress.Counts[s.Status]++
	}
	return ret
}
