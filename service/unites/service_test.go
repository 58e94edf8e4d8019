package unites

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/statestore/memory"
)

func fanTemplate(strategy graph.UniteStrategy) *graph.Template {
	template := graph.NewTemplate("orders", "fan")
	template.NewNode("split", "split").WithNext("work")
	template.NewNode("work", "work").WithNext("merge")
	template.NewNode("merge", "merge").
		WithUnites("split", strategy).
		WithInput("results", "${work.result}")
	return template
}

// seedFanout stores a settled split state plus its three work siblings in
// the given statuses and returns the work records.
func seedFanout(t *testing.T, store *memory.Service, statuses ...state.Status) []*state.State {
	t.Helper()
	ctx := context.Background()

	split := state.New("orders", "fan", "run-1", "split", "split", nil)
	split.Status = state.StatusNextCreated
	require.NoError(t, store.Save(ctx, split))

	var workers []*state.State
	for i, status := range statuses {
		work := state.New("orders", "fan", "run-1", "work", "work", nil, split.ID)
		work.Status = status
		if status == state.StatusSuccess || status == state.StatusNextCreated {
			work.Outputs = map[string]string{"result": "r-" + string(rune('1'+i))}
		}
		require.NoError(t, store.Save(ctx, work))
		workers = append(workers, work)
	}
	return workers
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("run-1", "merge", []string{"p1", "p2"})
	b := Fingerprint("run-1", "merge", []string{"p2", "p1"})
	assert.Equal(t, a, b, "ancestor order must not matter")

	assert.NotEqual(t, a, Fingerprint("run-2", "merge", []string{"p1", "p2"}))
	assert.NotEqual(t, a, Fingerprint("run-1", "other", []string{"p1", "p2"}))
	assert.NotEqual(t, a, Fingerprint("run-1", "merge", []string{"p1"}))
	assert.NotEmpty(t, Fingerprint("run-1", "merge", nil), "empty boundary set is legal for a root fanout")
}

func TestService_AllSuccessCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := New(store, nil)
	template := fanTemplate(graph.UniteAllSuccess)

	// hold one branch back
	workers := seedFanout(t, store, state.StatusSuccess, state.StatusSuccess, state.StatusQueued)

	created, err := service.Evaluate(ctx, template, workers[0])
	require.NoError(t, err)
	assert.Empty(t, created, "no uniting state while a branch is non-terminal")

	// last branch completes
	last, _, err := store.Transition(ctx, workers[2].ID, []state.Status{state.StatusQueued}, func(record *state.State) {
		record.Executed(map[string]string{"result": "r-3"})
		record.Status = state.StatusSuccess
	})
	require.NoError(t, err)

	created, err = service.Evaluate(ctx, template, last)
	require.NoError(t, err)
	require.Len(t, created, 1)

	barrier := created[0]
	assert.Equal(t, "merge", barrier.Identifier)
	assert.Equal(t, state.StatusCreated, barrier.Status)
	assert.NotEmpty(t, barrier.UnitesFingerprint)
	assert.Len(t, barrier.ParentIDs, 3)
	assert.JSONEq(t, `["r-1","r-2","r-3"]`, barrier.Inputs["results"])

	// re-evaluation is a silent no-op
	created, err = service.Evaluate(ctx, template, last)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestService_AllSuccessWithheldByErroredMember(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := New(store, nil)
	template := fanTemplate(graph.UniteAllSuccess)

	workers := seedFanout(t, store, state.StatusSuccess, state.StatusSuccess, state.StatusErrored)

	created, err := service.Evaluate(ctx, template, workers[1])
	require.NoError(t, err)
	assert.Empty(t, created, "a terminal errored member withholds creation")
}

func TestService_AllDoneToleratesFailures(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := New(store, nil)
	template := fanTemplate(graph.UniteAllDone)

	workers := seedFanout(t, store, state.StatusSuccess, state.StatusErrored, state.StatusSuccess)

	created, err := service.Evaluate(ctx, template, workers[0])
	require.NoError(t, err)
	require.Len(t, created, 1)

	barrier := created[0]
	// only the successful members anchor the barrier and feed aggregation
	assert.Len(t, barrier.ParentIDs, 2)
	assert.JSONEq(t, `["r-1","r-3"]`, barrier.Inputs["results"])
}

func TestService_RetriedMemberDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := New(store, nil)
	template := fanTemplate(graph.UniteAllSuccess)

	workers := seedFanout(t, store, state.StatusSuccess, state.StatusRetryCreated)

	// the superseding retry clone succeeded
	retry := workers[1].RetryClone(workers[1].EnqueueAfter)
	retry.Status = state.StatusSuccess
	retry.Outputs = map[string]string{"result": "r-retry"}
	require.NoError(t, store.Save(ctx, retry))

	created, err := service.Evaluate(ctx, template, retry)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.JSONEq(t, `["r-1","r-retry"]`, created[0].Inputs["results"])
}

func TestService_TwoBarriersOnOneFanoutPoint(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := New(store, nil)

	template := graph.NewTemplate("orders", "fan")
	template.NewNode("split", "split").WithNext("work")
	template.NewNode("work", "work").WithNext("merge1", "merge2")
	template.NewNode("merge1", "merge1").
		WithUnites("split", graph.UniteAllSuccess).
		WithInput("results", "${work.result}")
	template.NewNode("merge2", "merge2").
		WithUnites("split", graph.UniteAllSuccess).
		WithInput("results", "${work.result}")

	workers := seedFanout(t, store, state.StatusSuccess, state.StatusSuccess)

	created, err := service.Evaluate(ctx, template, workers[1])
	require.NoError(t, err)
	require.Len(t, created, 2, "both barriers must exist once the cohort settles")

	identifiers := []string{created[0].Identifier, created[1].Identifier}
	assert.ElementsMatch(t, []string{"merge1", "merge2"}, identifiers)
	assert.NotEqual(t, created[0].UnitesFingerprint, created[1].UnitesFingerprint)
	for _, barrier := range created {
		assert.Len(t, barrier.ParentIDs, 2)
		assert.JSONEq(t, `["r-1","r-2"]`, barrier.Inputs["results"])
	}

	// existing uniting states never gate a re-evaluation either
	created, err = service.Evaluate(ctx, template, workers[0])
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestService_ConcurrentLastTwoMembersCreateExactlyOne(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	template := fanTemplate(graph.UniteAllSuccess)

	workers := seedFanout(t, store, state.StatusSuccess, state.StatusSuccess, state.StatusSuccess)

	const evaluators = 8
	results := make([][]*state.State, evaluators)
	var wg sync.WaitGroup
	for i := 0; i < evaluators; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			service := New(store, nil)
			created, err := service.Evaluate(ctx, template, workers[slot%len(workers)])
			assert.NoError(t, err)
			results[slot] = created
		}(i)
	}
	wg.Wait()

	total := 0
	for _, created := range results {
		total += len(created)
	}
	assert.Equal(t, 1, total, "fingerprint uniqueness admits exactly one winner")

	barriers, err := store.List(ctx)
	require.NoError(t, err)
	count := 0
	for _, record := range barriers {
		if record.Identifier == "merge" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
