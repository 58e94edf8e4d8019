// Package lifecycle advances state records through their transitions:
// worker reports, retry accounting, prune and cancel signals, deferrals and
// lease timeout sweeps. Every mutation goes through the store's conditional
// primitives, so duplicate and out-of-order reports settle as silent no-ops
// rather than errors.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/policy/retry"
	"github.com/flowmesh/flowmesh/service/event"
	"github.com/flowmesh/flowmesh/service/fanout"
	"github.com/flowmesh/flowmesh/service/statestore"
	"github.com/flowmesh/flowmesh/service/template"
	"github.com/flowmesh/flowmesh/service/unites"
)

// Service applies worker outcomes to state records.
type Service struct {
	store     statestore.Service
	templates *template.Service
	fanout    *fanout.Service
	unites    *unites.Service
	events    *event.Publisher[event.StateTransition]

	randMu sync.Mutex
	random *rand.Rand
}

// Option customizes the lifecycle service.
type Option func(*Service)

// WithPublisher attaches the transition event publisher.
func WithPublisher(publisher *event.Publisher[event.StateTransition]) Option {
	return func(s *Service) {
		s.events = publisher
	}
}

// WithRandom injects the backoff jitter source; tests seed it for
// deterministic delays.
func WithRandom(random *rand.Rand) Option {
	return func(s *Service) {
		s.random = random
	}
}

// New creates a lifecycle service.
func New(store statestore.Service, templates *template.Service, opts ...Option) *Service {
	fanoutService := fanout.New(store)
	ret := &Service{
		store:     store,
		templates: templates,
		fanout:    fanoutService,
		unites:    unites.New(store, fanoutService.Resolver()),
		random:    rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// ReportExecuted applies a success report: outputs are recorded, fanout
// expands them, successors materialize and every barrier the node feeds is
// re-evaluated. A report against an already-terminal record changes
// nothing.
func (s *Service) ReportExecuted(ctx context.Context, id string, outputs []map[string]string) ([]*state.State, error) {
	record, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.templateOf(ctx, record)
	if err != nil {
		return nil, err
	}

	expansion, err := s.fanout.Apply(ctx, tmpl, id, outputs)
	if err != nil {
		return nil, err
	}
	if !expansion.Applied {
		return nil, nil
	}

	created := append([]*state.State(nil), expansion.Created...)
	for i, sibling := range expansion.Siblings {
		from := expansion.From
		if i > 0 {
			// fresh sibling records never had a prior status; they surface
			// as creation events (from == to)
			from = sibling.Status
		}
		s.publish(ctx, sibling, from)
		barriers, err := s.unites.Evaluate(ctx, tmpl, sibling)
		if err != nil {
			return created, err
		}
		for _, barrier := range barriers {
			s.publish(ctx, barrier, state.StatusCreated)
			created = append(created, barrier)
		}
	}
	return created, nil
}

// ReportErrored applies a failure report. While retry budget remains the
// record is superseded by a fresh clone scheduled after the policy backoff;
// otherwise it stays terminal ERRORED and the barriers it feeds are
// re-evaluated.
func (s *Service) ReportErrored(ctx context.Context, id, message string) (*state.State, error) {
	var from state.Status
	record, applied, err := s.store.Transition(ctx, id, state.Reportable(), func(r *state.State) {
		from = r.Status
		r.Errored(message)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}
	s.publish(ctx, record, from)
	return s.settleFailure(ctx, record)
}

// SweepExpired flips QUEUED records whose lease deadline passed to TIMEDOUT
// and runs the same retry accounting as a reported failure. It returns the
// records swept by this call; concurrent sweepers split the set cleanly
// because each flip is conditional.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) ([]*state.State, error) {
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	var swept []*state.State
	for _, candidate := range expired {
		record, applied, err := s.store.Transition(ctx, candidate.ID, []state.Status{state.StatusQueued}, func(r *state.State) {
			r.TimedOut()
		})
		if err != nil {
			return swept, err
		}
		if !applied {
			continue
		}
		s.publish(ctx, record, state.StatusQueued)
		if _, err := s.settleFailure(ctx, record); err != nil {
			return swept, err
		}
		swept = append(swept, record)
	}
	return swept, nil
}

// Prune terminates the record immediately, bypassing retry accounting.
func (s *Service) Prune(ctx context.Context, id string, data map[string]string) (*state.State, error) {
	var from state.Status
	record, applied, err := s.store.Transition(ctx, id, state.Reportable(), func(r *state.State) {
		from = r.Status
		r.Status = state.StatusPruned
		if len(data) > 0 {
			r.Outputs = data
		}
		r.LeaseDeadline = nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}
	s.publish(ctx, record, from)
	return record, s.evaluateBarriers(ctx, record)
}

// Cancel stops further propagation of the record. Work already executing
// remotely cannot be recalled; a late report against the cancelled record is
// a no-op.
func (s *Service) Cancel(ctx context.Context, id string) (*state.State, error) {
	var from state.Status
	record, applied, err := s.store.Transition(ctx, id, state.Reportable(), func(r *state.State) {
		from = r.Status
		r.Status = state.StatusCancelled
		r.LeaseDeadline = nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}
	s.publish(ctx, record, from)
	return record, s.evaluateBarriers(ctx, record)
}

// RequeueAfter defers the record without consuming a retry slot: it returns
// to CREATED with a future enqueue gate and keeps its retry count.
func (s *Service) RequeueAfter(ctx context.Context, id string, delay time.Duration) (*state.State, error) {
	var from state.Status
	record, applied, err := s.store.Transition(ctx, id, state.Reportable(), func(r *state.State) {
		from = r.Status
		r.Status = state.StatusCreated
		r.EnqueueAfter = clock.Now().Add(delay)
		r.ClaimedBy = ""
		r.LeaseDeadline = nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}
	s.publish(ctx, record, from)
	return record, nil
}

// settleFailure runs retry accounting for a record that just reached ERRORED
// or TIMEDOUT. It returns the retry clone when one was created.
func (s *Service) settleFailure(ctx context.Context, record *state.State) (*state.State, error) {
	tmpl, err := s.templateOf(ctx, record)
	if err != nil {
		return nil, err
	}
	policy := tmpl.Retry
	if policy == nil {
		policy = retry.Default()
	}

	if record.RetryCount < policy.MaxRetries {
		delay := s.backoff(policy, record.RetryCount+1)
		clone := record.RetryClone(clock.Now().Add(delay))
		if err := s.store.Save(ctx, clone); err != nil {
			return nil, err
		}
		from := record.Status
		superseded, applied, err := s.store.Transition(ctx, record.ID, []state.Status{state.StatusErrored, state.StatusTimedOut}, func(r *state.State) {
			r.Status = state.StatusRetryCreated
		})
		if err != nil {
			return nil, err
		}
		if applied {
			s.publish(ctx, superseded, from)
		}
		// the clone never had a prior status; creation event (from == to)
		s.publish(ctx, clone, clone.Status)
		return clone, nil
	}

	// retries exhausted, the failure is terminal; barriers fed by this node
	// may still complete under ALL_DONE
	return nil, s.evaluateBarriers(ctx, record)
}

func (s *Service) evaluateBarriers(ctx context.Context, record *state.State) error {
	tmpl, err := s.templateOf(ctx, record)
	if err != nil {
		return err
	}
	barriers, err := s.unites.Evaluate(ctx, tmpl, record)
	if err != nil {
		return err
	}
	for _, barrier := range barriers {
		s.publish(ctx, barrier, state.StatusCreated)
	}
	return nil
}

func (s *Service) templateOf(ctx context.Context, record *state.State) (*graph.Template, error) {
	tmpl, err := s.templates.Get(ctx, record.Namespace, record.GraphName)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: template %s/%s: %w", record.Namespace, record.GraphName, err)
	}
	return tmpl, nil
}

func (s *Service) backoff(policy *retry.Policy, attempt int) time.Duration {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return policy.Delay(attempt, s.random)
}

// publish emits a transition event; failures are logged, never propagated.
func (s *Service) publish(ctx context.Context, record *state.State, from state.Status) {
	if s.events == nil {
		return
	}
	payload := event.NewStateTransition(record, from)
	evt := event.NewEvent(&event.Context{
		RunID:     record.RunID,
		StateID:   record.ID,
		GraphName: record.GraphName,
		EventType: "state.transition",
	}, payload)
	if err := s.events.Publish(ctx, evt); err != nil {
		slog.Warn("transition event publish failed", "stateId", record.ID, "error", err)
	}
}
