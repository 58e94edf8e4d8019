// Package event fans state transition notifications out to observers
// through a messaging queue. Publication is best effort: a full or failing
// queue never blocks or fails an engine operation.
package event

import (
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/state"
)

// Context identifies where an event originated.
type Context struct {
	RunID     string `json:"runId"`
	StateID   string `json:"stateId"`
	GraphName string `json:"graphName"`
	EventType string `json:"eventType"`
}

// Event wraps a typed payload with its origin.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  map[string]interface{}{},
		Data:      data,
	}
}

// StateTransition is the payload published on every lifecycle change.
type StateTransition struct {
	StateID    string       `json:"stateId"`
	RunID      string       `json:"runId"`
	GraphName  string       `json:"graphName"`
	NodeName   string       `json:"nodeName"`
	Identifier string       `json:"identifier"`
	From       state.Status `json:"from"`
	To         state.Status `json:"to"`
	Error      string       `json:"error,omitempty"`
	RetryCount int          `json:"retryCount"`
}

// NewStateTransition builds the payload for a record that just changed.
func NewStateTransition(record *state.State, from state.Status) StateTransition {
	return StateTransition{
		StateID:    record.ID,
		RunID:      record.RunID,
		GraphName:  record.GraphName,
		NodeName:   record.NodeName,
		Identifier: record.Identifier,
		From:       from,
		To:         record.Status,
		Error:      record.Error,
		RetryCount: record.RetryCount,
	}
}
