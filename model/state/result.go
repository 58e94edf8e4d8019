package state

import "time"

// Outcome is the explicit result variant returned by the execution boundary.
// Signal-driven control flow (prune, requeue) travels through this variant
// rather than through errors, and is threaded back via Runtime.Report.
type Outcome string

const (
	OutcomeSuccess      Outcome = "SUCCESS"
	OutcomePrune        Outcome = "PRUNE"
	OutcomeRequeueAfter Outcome = "REQUEUE_AFTER"
	OutcomeFailure      Outcome = "FAILURE"
)

// Result captures a single execution attempt as reported by a node runtime.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// Outputs holds one record per produced output; more than one record
	// triggers fanout expansion.
	Outputs []map[string]string `json:"outputs,omitempty"`

	// Error carries the failure text for OutcomeFailure.
	Error string `json:"error,omitempty"`

	// Delay defers re-dispatch for OutcomeRequeueAfter.
	Delay time.Duration `json:"delay,omitempty"`

	// Data carries optional payload attached to a prune signal.
	Data map[string]string `json:"data,omitempty"`
}

// Succeeded builds a success result from output records.
func Succeeded(outputs ...map[string]string) *Result {
	return &Result{Outcome: OutcomeSuccess, Outputs: outputs}
}

// Failed builds a failure result.
func Failed(message string) *Result {
	return &Result{Outcome: OutcomeFailure, Error: message}
}

// Pruned builds a prune signal result.
func Pruned(data map[string]string) *Result {
	return &Result{Outcome: OutcomePrune, Data: data}
}

// Requeued builds a deferral signal result.
func Requeued(delay time.Duration) *Result {
	return &Result{Outcome: OutcomeRequeueAfter, Delay: delay}
}
