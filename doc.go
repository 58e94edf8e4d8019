// Package flowmesh orchestrates multi-step distributed computations
// expressed as graphs of typed processing nodes. Each step executes on an
// independently scaled, polling worker process; the engine creates,
// schedules, and advances execution records through a lifecycle, expanding
// branching outputs (fanout) and synchronizing parallel branches at join
// points (unites) while tolerating worker failure, timeout, and duplicate
// reporting.
//
// End users interact with the engine via the Runtime façade exposed by the
// root package:
//
//	srv := flowmesh.New()
//	rt := srv.Runtime()
//	rt.RegisterNodes(ctx, registration)
//	rt.UpsertGraphTemplate(ctx, tmpl)
//	run, _ := rt.TriggerGraph(ctx, "orders", "pipeline", initial)
//	batch, _ := rt.Dispatch(ctx, dispatch.Request{Namespace: "orders"})
//	rt.ReportExecuted(ctx, batch[0].ID, outputs)
//
// Any number of engine instances may serve the same store concurrently; all
// coordination rests on the store's atomic conditional primitives rather
// than in-process locks. See the individual sub-packages for details.
package flowmesh
