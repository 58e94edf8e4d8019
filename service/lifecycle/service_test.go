package lifecycle

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/policy/retry"
	"github.com/flowmesh/flowmesh/service/event"
	"github.com/flowmesh/flowmesh/service/messaging/memory"
	"github.com/flowmesh/flowmesh/service/registry"
	statememory "github.com/flowmesh/flowmesh/service/statestore/memory"
	"github.com/flowmesh/flowmesh/service/template"
)

type fixture struct {
	store     *statememory.Service
	templates *template.Service
	service   *Service
	events    *event.Publisher[event.StateTransition]
}

func newFixture(t *testing.T, policy *retry.Policy) *fixture {
	t.Helper()
	ctx := context.Background()

	registryService := registry.New(nil)
	require.NoError(t, registryService.Register(ctx, &graph.Registration{
		Namespace:   "orders",
		RuntimeName: "test-runtime",
		Nodes: []*graph.NodeSignature{
			{Name: "first", Outputs: map[string]string{"value": "string"}},
			{Name: "second"},
		},
	}))

	templates := template.New(registryService, nil, template.Config{Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	tmpl := graph.NewTemplate("orders", "pipeline")
	tmpl.NewNode("first", "first").WithNext("second")
	tmpl.NewNode("second", "second").WithInput("value", "${first.value}")
	if policy != nil {
		tmpl.WithRetry(policy)
	}
	stored, err := templates.Upsert(ctx, tmpl)
	require.NoError(t, err)
	require.Equal(t, graph.ValidationValid, stored.Validation.Status)

	store := statememory.New()
	publisher := event.NewPublisher[event.StateTransition](memory.NewQueue[event.Event[event.StateTransition]](memory.DefaultConfig()))
	service := New(store, templates,
		WithPublisher(publisher),
		WithRandom(rand.New(rand.NewSource(1))),
	)
	return &fixture{store: store, templates: templates, service: service, events: publisher}
}

func (f *fixture) queued(t *testing.T, identifier string, retryCount int) *state.State {
	t.Helper()
	record := state.New("orders", "pipeline", "run-1", identifier, identifier, nil)
	record.RetryCount = retryCount
	record.Status = state.StatusQueued
	require.NoError(t, f.store.Save(context.Background(), record))
	return record
}

func TestService_ReportExecutedAdvancesChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	claimed := f.queued(t, "first", 0)

	created, err := f.service.ReportExecuted(ctx, claimed.ID, []map[string]string{{"value": "v"}})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "second", created[0].Identifier)
	assert.Equal(t, "v", created[0].Inputs["value"])

	stored, err := f.store.Load(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusNextCreated, stored.Status)

	evt, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, claimed.ID, evt.Data.StateID)
}

func TestService_DuplicateReportIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	claimed := f.queued(t, "first", 0)

	_, err := f.service.ReportExecuted(ctx, claimed.ID, []map[string]string{{"value": "v"}})
	require.NoError(t, err)

	again, err := f.service.ReportExecuted(ctx, claimed.ID, []map[string]string{{"value": "other"}})
	require.NoError(t, err)
	assert.Nil(t, again, "second report against a terminal record is silent")

	failed, err := f.service.ReportErrored(ctx, claimed.ID, "late failure")
	require.NoError(t, err)
	assert.Nil(t, failed)

	stored, err := f.store.Load(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusNextCreated, stored.Status)
	assert.Empty(t, stored.Error)
}

func TestService_ReportErroredCreatesRetryClone(t *testing.T) {
	ctx := context.Background()
	policy := &retry.Policy{MaxRetries: 2, Strategy: retry.StrategyFixed, BackoffFactor: time.Minute}
	f := newFixture(t, policy)
	claimed := f.queued(t, "first", 0)

	before := time.Now()
	clone, err := f.service.ReportErrored(ctx, claimed.ID, "boom")
	require.NoError(t, err)
	require.NotNil(t, clone)

	assert.NotEqual(t, claimed.ID, clone.ID, "a retry is always a new record")
	assert.Equal(t, 1, clone.RetryCount)
	assert.Equal(t, state.StatusCreated, clone.Status)
	assert.Empty(t, clone.Error)
	assert.GreaterOrEqual(t, clone.EnqueueAfter.Sub(before), time.Minute, "fixed backoff gates the clone")

	original, err := f.store.Load(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRetryCreated, original.Status)
	assert.Equal(t, "boom", original.Error)
}

func TestService_ReportErroredExhaustedStaysTerminal(t *testing.T) {
	ctx := context.Background()
	policy := &retry.Policy{MaxRetries: 1, Strategy: retry.StrategyFixed, BackoffFactor: time.Second}
	f := newFixture(t, policy)
	claimed := f.queued(t, "first", 1)

	clone, err := f.service.ReportErrored(ctx, claimed.ID, "still broken")
	require.NoError(t, err)
	assert.Nil(t, clone, "retry budget exhausted")

	stored, err := f.store.Load(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusErrored, stored.Status)
	assert.Equal(t, "still broken", stored.Error)
}

func TestService_RequeueAfterKeepsRetryCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	claimed := f.queued(t, "first", 2)

	before := time.Now()
	record, err := f.service.RequeueAfter(ctx, claimed.ID, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, claimed.ID, record.ID, "deferral keeps the record id")
	assert.Equal(t, 2, record.RetryCount, "a deferral is not a retry")
	assert.Equal(t, state.StatusCreated, record.Status)
	assert.Empty(t, record.ClaimedBy)
	assert.GreaterOrEqual(t, record.EnqueueAfter.Sub(before), time.Hour-time.Second)
}

func TestService_TransitionEventsCarryPriorStatus(t *testing.T) {
	ctx := context.Background()
	policy := &retry.Policy{MaxRetries: 1, Strategy: retry.StrategyFixed, BackoffFactor: time.Second}
	f := newFixture(t, policy)

	// deferral of a never-claimed record
	fresh := state.New("orders", "pipeline", "run-1", "first", "first", nil)
	require.NoError(t, f.store.Save(ctx, fresh))
	_, err := f.service.RequeueAfter(ctx, fresh.ID, time.Hour)
	require.NoError(t, err)

	deferred, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCreated, deferred.Data.From)
	assert.Equal(t, state.StatusCreated, deferred.Data.To)

	// failure of a claimed record, its supersession and the retry clone
	claimed := f.queued(t, "first", 0)
	clone, err := f.service.ReportErrored(ctx, claimed.ID, "boom")
	require.NoError(t, err)
	require.NotNil(t, clone)

	failed, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, failed.Data.From)
	assert.Equal(t, state.StatusErrored, failed.Data.To)

	superseded, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StatusErrored, superseded.Data.From)
	assert.Equal(t, state.StatusRetryCreated, superseded.Data.To)

	cloneEvt, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, clone.ID, cloneEvt.Data.StateID)
	assert.Equal(t, state.StatusCreated, cloneEvt.Data.From, "creation events carry from == to")
	assert.Equal(t, state.StatusCreated, cloneEvt.Data.To)

	// fanout: the original reports from QUEUED, fresh siblings as creations
	reported := f.queued(t, "first", 0)
	_, err = f.service.ReportExecuted(ctx, reported.ID, []map[string]string{{"value": "a"}, {"value": "b"}})
	require.NoError(t, err)

	originalEvt, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, reported.ID, originalEvt.Data.StateID)
	assert.Equal(t, state.StatusQueued, originalEvt.Data.From)
	assert.Equal(t, state.StatusNextCreated, originalEvt.Data.To)

	siblingEvt, err := f.events.Consume(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, reported.ID, siblingEvt.Data.StateID)
	assert.Equal(t, siblingEvt.Data.To, siblingEvt.Data.From, "fresh siblings surface as creation events")
}

func TestService_PruneAndCancelAreTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	pruned := f.queued(t, "first", 0)
	record, err := f.service.Prune(ctx, pruned.ID, map[string]string{"reason": "stale"})
	require.NoError(t, err)
	assert.Equal(t, state.StatusPruned, record.Status)
	assert.Equal(t, "stale", record.Outputs["reason"])

	late, err := f.service.ReportExecuted(ctx, pruned.ID, []map[string]string{{"value": "v"}})
	require.NoError(t, err)
	assert.Nil(t, late, "report after prune is silent")

	cancelled := f.queued(t, "first", 0)
	record, err = f.service.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, record.Status)

	repeat, err := f.service.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Nil(t, repeat)
}

func TestService_SweepExpired(t *testing.T) {
	ctx := context.Background()
	policy := &retry.Policy{MaxRetries: 1, Strategy: retry.StrategyFixed, BackoffFactor: time.Second}
	f := newFixture(t, policy)

	expired := state.New("orders", "pipeline", "run-1", "first", "first", nil)
	expired.Queue("runtime-a", time.Now().Add(-time.Minute))
	require.NoError(t, f.store.Save(ctx, expired))

	healthy := state.New("orders", "pipeline", "run-1", "first", "first", nil)
	healthy.Queue("runtime-b", time.Now().Add(time.Hour))
	require.NoError(t, f.store.Save(ctx, healthy))

	swept, err := f.service.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, expired.ID, swept[0].ID)

	stored, err := f.store.Load(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRetryCreated, stored.Status, "timeout runs the same retry path as a failure")

	untouched, err := f.store.Load(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, untouched.Status)

	run, err := f.store.ListRun(ctx, "run-1")
	require.NoError(t, err)
	retries := 0
	for _, record := range run {
		if record.Status == state.StatusCreated && record.RetryCount == 1 {
			retries++
		}
	}
	assert.Equal(t, 1, retries)
}
