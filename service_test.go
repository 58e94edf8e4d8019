package flowmesh_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh"
	"github.com/flowmesh/flowmesh/model/graph"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dispatch"
)

func newRuntime(t *testing.T) *flowmesh.Runtime {
	t.Helper()
	ctx := context.Background()
	srv := flowmesh.New()
	rt := srv.Runtime()

	_, err := rt.RegisterNodes(ctx, &graph.Registration{
		Namespace:   "orders",
		RuntimeName: "test-runtime",
		Nodes: []*graph.NodeSignature{
			{Name: "split", Outputs: map[string]string{"item": "string"}},
			{Name: "work", Outputs: map[string]string{"result": "string"}},
			{Name: "merge"},
		},
	})
	require.NoError(t, err)
	return rt
}

func claimOne(t *testing.T, rt *flowmesh.Runtime, nodeName string) *state.State {
	t.Helper()
	claimed, err := rt.Dispatch(context.Background(), dispatch.Request{
		Namespace: "orders",
		NodeNames: []string{nodeName},
		BatchSize: 1,
		ClaimedBy: "worker-1",
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestRuntime_LinearChain(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	tmpl := graph.NewTemplate("orders", "linear")
	tmpl.NewNode("split", "split").WithNext("work")
	tmpl.NewNode("work", "work").WithInput("item", "${split.item}").WithNext("merge")
	tmpl.NewNode("merge", "merge").WithInput("result", "${work.result}")
	stored, err := rt.UpsertGraphTemplate(ctx, tmpl)
	require.NoError(t, err)
	require.Equal(t, graph.ValidationValid, stored.Validation.Status)

	run, err := rt.TriggerGraph(ctx, "orders", "linear", []*flowmesh.InitialState{{Identifier: "split"}})
	require.NoError(t, err)
	require.Len(t, run.States, 1)

	first := claimOne(t, rt, "split")
	_, err = rt.ReportExecuted(ctx, first.ID, []map[string]string{{"item": "a"}})
	require.NoError(t, err)

	second := claimOne(t, rt, "work")
	assert.Equal(t, "a", second.Inputs["item"])
	require.NoError(t, rt.Report(ctx, second.ID, state.Succeeded(map[string]string{"result": "done-a"})))

	third := claimOne(t, rt, "merge")
	assert.Equal(t, "done-a", third.Inputs["result"])
	_, err = rt.ReportExecuted(ctx, third.ID, nil)
	require.NoError(t, err)

	final, err := rt.WaitForRun(ctx, run.RunID, time.Second)
	require.NoError(t, err)
	assert.True(t, final.Completed())
	assert.True(t, final.Succeeded())
	assert.Equal(t, 1, final.Progress[state.StatusSuccess])
}

func TestRuntime_FanoutAndUnites(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	tmpl := graph.NewTemplate("orders", "fan")
	tmpl.NewNode("split", "split").WithNext("work")
	tmpl.NewNode("work", "work").WithInput("item", "${split.item}").WithNext("merge")
	tmpl.NewNode("merge", "merge").
		WithInput("results", "${work.result}").
		WithUnites("split", graph.UniteAllSuccess)
	stored, err := rt.UpsertGraphTemplate(ctx, tmpl)
	require.NoError(t, err)
	require.Equal(t, graph.ValidationValid, stored.Validation.Status)

	run, err := rt.TriggerGraph(ctx, "orders", "fan", []*flowmesh.InitialState{{Identifier: "split"}})
	require.NoError(t, err)

	first := claimOne(t, rt, "split")
	created, err := rt.ReportExecuted(ctx, first.ID, []map[string]string{
		{"item": "a"}, {"item": "b"}, {"item": "c"},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)

	workers, err := rt.Dispatch(ctx, dispatch.Request{Namespace: "orders", NodeNames: []string{"work"}, BatchSize: 10})
	require.NoError(t, err)
	require.Len(t, workers, 3)

	for _, worker := range workers {
		_, err = rt.ReportExecuted(ctx, worker.ID, []map[string]string{
			{"result": "done-" + worker.Inputs["item"]},
		})
		require.NoError(t, err)
	}

	barrier := claimOne(t, rt, "merge")
	assert.Len(t, barrier.ParentIDs, 3)
	var results []string
	require.NoError(t, json.Unmarshal([]byte(barrier.Inputs["results"]), &results))
	assert.ElementsMatch(t, []string{"done-a", "done-b", "done-c"}, results)

	_, err = rt.ReportExecuted(ctx, barrier.ID, nil)
	require.NoError(t, err)

	final, err := rt.WaitForRun(ctx, run.RunID, time.Second)
	require.NoError(t, err)
	assert.True(t, final.Succeeded())

	structure, err := rt.GetGraphStructure(ctx, run.RunID)
	require.NoError(t, err)
	// 3 split records, 3 work records, 1 barrier.
	assert.Len(t, structure.Nodes, 7)
	assert.NotEmpty(t, structure.Edges)

	var mergeSummary *state.NodeProgress
	for _, summary := range structure.Summary {
		if summary.Identifier == "merge" {
			mergeSummary = summary
		}
	}
	require.NotNil(t, mergeSummary)
	assert.Equal(t, 1, mergeSummary.Counts[state.StatusSuccess])
}

func TestRuntime_RequeueAfter(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	tmpl := graph.NewTemplate("orders", "single")
	tmpl.NewNode("split", "split")
	stored, err := rt.UpsertGraphTemplate(ctx, tmpl)
	require.NoError(t, err)
	require.Equal(t, graph.ValidationValid, stored.Validation.Status)

	_, err = rt.TriggerGraph(ctx, "orders", "single", []*flowmesh.InitialState{{Identifier: "split"}})
	require.NoError(t, err)

	claimed := claimOne(t, rt, "split")
	require.NoError(t, rt.Report(ctx, claimed.ID, state.Requeued(time.Hour)))

	deferred, err := rt.GetState(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCreated, deferred.Status)
	assert.Equal(t, 0, deferred.RetryCount)

	empty, err := rt.Dispatch(ctx, dispatch.Request{Namespace: "orders", BatchSize: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRuntime_TriggerRejectsInvalidSeeds(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	tmpl := graph.NewTemplate("orders", "fan")
	tmpl.NewNode("split", "split").WithNext("merge")
	tmpl.NewNode("merge", "merge").WithUnites("split", graph.UniteAllDone)
	_, err := rt.UpsertGraphTemplate(ctx, tmpl)
	require.NoError(t, err)

	_, err = rt.TriggerGraph(ctx, "orders", "fan", []*flowmesh.InitialState{{Identifier: "merge"}})
	assert.Error(t, err)
	_, err = rt.TriggerGraph(ctx, "orders", "fan", []*flowmesh.InitialState{{Identifier: "missing"}})
	assert.Error(t, err)
	_, err = rt.TriggerGraph(ctx, "orders", "fan", nil)
	assert.Error(t, err)
	_, err = rt.TriggerGraph(ctx, "orders", "unknown", []*flowmesh.InitialState{{Identifier: "split"}})
	assert.Error(t, err)
}
