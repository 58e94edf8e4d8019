package flowmesh

import (
	"context"
	"fmt"
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/internal/idgen"
	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/dispatch"
	"github.com/flowmesh/flowmesh/service/event"
	"github.com/flowmesh/flowmesh/service/lifecycle"
	"github.com/flowmesh/flowmesh/service/registry"
	"github.com/flowmesh/flowmesh/service/secret"
	"github.com/flowmesh/flowmesh/service/statestore"
	"github.com/flowmesh/flowmesh/service/template"
	"github.com/flowmesh/flowmesh/tracing"
)

// Runtime is the transport-agnostic operation façade of the engine. Every
// operation is safe for concurrent use from any number of callers; the state
// store's conditional primitives carry all coordination.
type Runtime struct {
	store      statestore.Service
	registry   *registry.Service
	templates  *template.Service
	lifecycle  *lifecycle.Service
	dispatcher *dispatch.Service
	secrets    *secret.Service
	events     *event.Service
}

// InitialState seeds one root state of a run.
type InitialState struct {
	Identifier string            `json:"identifier"`
	Inputs     map[string]string `json:"inputs,omitempty"`
}

// RegisterNodes stores a runtime's node signatures and returns the stored
// registration.
func (r *Runtime) RegisterNodes(ctx context.Context, registration *graph.Registration) (*graph.Registration, error) {
	if err := r.registry.Register(ctx, registration); err != nil {
		return nil, err
	}
	return registration.Clone(), nil
}

// UpsertGraphTemplate validates and stores a template. The returned template
// carries the validation outcome; INVALID and PENDING templates are stored
// but cannot be triggered.
func (r *Runtime) UpsertGraphTemplate(ctx context.Context, tmpl *graph.Template) (*graph.Template, error) {
	return r.templates.Upsert(ctx, tmpl)
}

// LoadGraphTemplate reads a YAML template definition from the given location
// and upserts it.
func (r *Runtime) LoadGraphTemplate(ctx context.Context, location string) (*graph.Template, error) {
	return r.templates.Load(ctx, location)
}

// GetGraphTemplate returns a stored template regardless of its validation
// status.
func (r *Runtime) GetGraphTemplate(ctx context.Context, namespace, name string) (*graph.Template, error) {
	return r.templates.Get(ctx, namespace, name)
}

// TriggerGraph creates the initial states of a fresh run against a VALID
// template. The run id is generated here.
func (r *Runtime) TriggerGraph(ctx context.Context, namespace, graphName string, initial []*InitialState) (run *state.Run, err error) {
	ctx, span := tracing.StartSpan(ctx, "runtime.triggerGraph")
	defer func() { tracing.EndSpan(span, err) }()
	runID := idgen.New()
	states, err := r.CreateStates(ctx, namespace, graphName, runID, initial)
	if err != nil {
		return nil, err
	}
	return state.NewRun(runID, states), nil
}

// CreateStates is the explicit-run-id variant of TriggerGraph, used to append
// states to an existing run or to pin run ids for idempotent triggering.
func (r *Runtime) CreateStates(ctx context.Context, namespace, graphName, runID string, initial []*InitialState) ([]*state.State, error) {
	if runID == "" {
		return nil, fmt.Errorf("runtime: run id is required")
	}
	if len(initial) == 0 {
		return nil, fmt.Errorf("runtime: at least one initial state is required")
	}
	tmpl, err := r.templates.Runnable(ctx, namespace, graphName)
	if err != nil {
		return nil, err
	}
	states := make([]*state.State, 0, len(initial))
	for _, seed := range initial {
		node := tmpl.Lookup(seed.Identifier)
		if node == nil {
			return nil, fmt.Errorf("runtime: template %v/%v has no node %q", namespace, graphName, seed.Identifier)
		}
		if node.Unites != nil {
			return nil, fmt.Errorf("runtime: node %q is a unites barrier and cannot be seeded", seed.Identifier)
		}
		inputs := make(map[string]string, len(node.Inputs)+len(seed.Inputs))
		for k, v := range node.Inputs {
			inputs[k] = v
		}
		for k, v := range seed.Inputs {
			inputs[k] = v
		}
		record := state.New(namespace, graphName, runID, node.Name, seed.Identifier, inputs)
		if err := r.store.Save(ctx, record); err != nil {
			return nil, err
		}
		states = append(states, record)
	}
	return states, nil
}

// Dispatch claims up to the requested batch of due states for a worker
// runtime.
func (r *Runtime) Dispatch(ctx context.Context, request dispatch.Request) (claimed []*state.State, err error) {
	ctx, span := tracing.StartSpan(ctx, "runtime.dispatch")
	defer func() { tracing.EndSpan(span, err) }()
	return r.dispatcher.Dispatch(ctx, request)
}

// ReportExecuted records a successful attempt and advances the run: fanout
// expansion, successor creation, and unites evaluation all happen here. The
// returned states are the newly created successors. Reporting an already
// settled state is a silent no-op.
func (r *Runtime) ReportExecuted(ctx context.Context, stateID string, outputs []map[string]string) (created []*state.State, err error) {
	ctx, span := tracing.StartSpan(ctx, "runtime.reportExecuted")
	defer func() { tracing.EndSpan(span, err) }()
	return r.lifecycle.ReportExecuted(ctx, stateID, outputs)
}

// ReportErrored records a failed attempt and applies the retry policy. The
// returned state is the retry clone, or nil when retries are exhausted or the
// report lost a race.
func (r *Runtime) ReportErrored(ctx context.Context, stateID, message string) (retry *state.State, err error) {
	ctx, span := tracing.StartSpan(ctx, "runtime.reportErrored")
	defer func() { tracing.EndSpan(span, err) }()
	return r.lifecycle.ReportErrored(ctx, stateID, message)
}

// Prune terminates a state without consuming a retry; data is recorded as
// the state's outputs for observability.
func (r *Runtime) Prune(ctx context.Context, stateID string, data map[string]string) (*state.State, error) {
	return r.lifecycle.Prune(ctx, stateID, data)
}

// RequeueAfter defers a state's next dispatch without counting an error or a
// retry.
func (r *Runtime) RequeueAfter(ctx context.Context, stateID string, delay time.Duration) (*state.State, error) {
	return r.lifecycle.RequeueAfter(ctx, stateID, delay)
}

// Cancel cooperatively stops further propagation from a state. Work already
// executing remotely cannot be recalled.
func (r *Runtime) Cancel(ctx context.Context, stateID string) (*state.State, error) {
	return r.lifecycle.Cancel(ctx, stateID)
}

// Report threads a worker's execution result back through the matching
// lifecycle operation.
func (r *Runtime) Report(ctx context.Context, stateID string, result *state.Result) error {
	if result == nil {
		return fmt.Errorf("runtime: result is required")
	}
	switch result.Outcome {
	case state.OutcomeSuccess:
		_, err := r.ReportExecuted(ctx, stateID, result.Outputs)
		return err
	case state.OutcomeFailure:
		_, err := r.ReportErrored(ctx, stateID, result.Error)
		return err
	case state.OutcomePrune:
		_, err := r.Prune(ctx, stateID, result.Data)
		return err
	case state.OutcomeRequeueAfter:
		_, err := r.RequeueAfter(ctx, stateID, result.Delay)
		return err
	}
	return fmt.Errorf("runtime: unsupported outcome %q", result.Outcome)
}

// GetSecrets resolves the template secret set declared by the state's node.
func (r *Runtime) GetSecrets(ctx context.Context, stateID string) (map[string]*secret.Secret, error) {
	return r.secrets.GetSecrets(ctx, stateID)
}

// GetState returns a single state record.
func (r *Runtime) GetState(ctx context.Context, stateID string) (*state.State, error) {
	return r.store.Load(ctx, stateID)
}

// GetRun returns the derived view over all states of a run.
func (r *Runtime) GetRun(ctx context.Context, runID string) (*state.Run, error) {
	states, err := r.store.ListRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, dao.ErrNotFound
	}
	return state.NewRun(runID, states), nil
}

// GetGraphStructure returns the node/edge/execution-summary view of a run
// for external visualization.
func (r *Runtime) GetGraphStructure(ctx context.Context, runID string) (*state.GraphStructure, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Structure(), nil
}

// WaitForRun polls until every state of the run reached a terminal status or
// the timeout elapses. The run view is returned either way.
func (r *Runtime) WaitForRun(ctx context.Context, runID string, timeout time.Duration) (*state.Run, error) {
	deadline := clock.Now().Add(timeout)
	for {
		run, err := r.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Completed() {
			return run, nil
		}
		if !clock.Now().Before(deadline) {
			return run, fmt.Errorf("runtime: timeout waiting for run %q", runID)
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Start launches the background lease sweep.
func (r *Runtime) Start(ctx context.Context) error {
	go func() {
		_ = r.dispatcher.Start(ctx)
	}()
	return nil
}

// Shutdown stops the background lease sweep.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.dispatcher.Shutdown()
	return nil
}
