package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/dao"
	"github.com/flowmesh/flowmesh/service/statestore"
)

func newState(t *testing.T, svc *Service, nodeName string) *state.State {
	t.Helper()
	record := state.New("default", "graph", "run-1", nodeName, nodeName, map[string]string{"x": "1"})
	require.NoError(t, svc.Save(context.Background(), record))
	return record
}

func TestService_SaveLoadReturnsClone(t *testing.T) {
	svc := New()
	record := newState(t, svc, "a")

	loaded, err := svc.Load(context.Background(), record.ID)
	require.NoError(t, err)
	loaded.Inputs["x"] = "mutated"

	again, err := svc.Load(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", again.Inputs["x"])
}

func TestService_Transition_ConditionHolds(t *testing.T) {
	svc := New()
	record := newState(t, svc, "a")

	updated, applied, err := svc.Transition(context.Background(), record.ID, state.Reportable(), func(s *state.State) {
		s.Executed(map[string]string{"out": "v"})
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, state.StatusExecuted, updated.Status)
}

func TestService_Transition_TerminalIsNoOp(t *testing.T) {
	svc := New()
	record := newState(t, svc, "a")
	_, applied, err := svc.Transition(context.Background(), record.ID, state.Reportable(), func(s *state.State) {
		s.Executed(nil)
	})
	require.NoError(t, err)
	require.True(t, applied)

	// a duplicate report must lose the condition, not error
	current, applied, err := svc.Transition(context.Background(), record.ID, state.Reportable(), func(s *state.State) {
		s.Errored("late duplicate")
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, state.StatusExecuted, current.Status)
	assert.Empty(t, current.Error)
}

func TestService_Claim_AtMostOnce(t *testing.T) {
	svc := New()
	for i := 0; i < 20; i++ {
		newState(t, svc, "worker")
	}

	now := time.Now()
	request := statestore.ClaimRequest{
		Namespace:     "default",
		NodeNames:     []string{"worker"},
		Now:           now,
		LeaseDeadline: now.Add(time.Minute),
		Limit:         5,
	}

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := svc.Claim(context.Background(), request)
			require.NoError(t, err)
			mu.Lock()
			for _, record := range claimed {
				seen[record.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for id, count := range seen {
		assert.Equal(t, 1, count, "state %s claimed more than once", id)
	}
}

func TestService_Claim_HonorsEnqueueAfterAndBatchSize(t *testing.T) {
	svc := New()
	now := time.Now()

	due := newState(t, svc, "a")
	deferred := state.New("default", "graph", "run-1", "a", "a2", nil)
	deferred.EnqueueAfter = now.Add(time.Hour)
	require.NoError(t, svc.Save(context.Background(), deferred))

	claimed, err := svc.Claim(context.Background(), statestore.ClaimRequest{
		Now:           now,
		LeaseDeadline: now.Add(time.Minute),
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, state.StatusQueued, claimed[0].Status)
}

func TestService_CreateUnique_FingerprintCollision(t *testing.T) {
	svc := New()
	first := state.New("default", "graph", "run-1", "join", "join", nil)
	first.UnitesFingerprint = "fp-1"
	require.NoError(t, svc.CreateUnique(context.Background(), first))

	second := state.New("default", "graph", "run-1", "join", "join", nil)
	second.UnitesFingerprint = "fp-1"
	err := svc.CreateUnique(context.Background(), second)
	assert.ErrorIs(t, err, dao.ErrDuplicateFingerprint)

	// the same fingerprint in another run is a different cohort
	other := state.New("default", "graph", "run-2", "join", "join", nil)
	other.RunID = "run-2"
	other.UnitesFingerprint = "fp-1"
	assert.NoError(t, svc.CreateUnique(context.Background(), other))
}

func TestService_ListExpired(t *testing.T) {
	svc := New()
	now := time.Now()

	claimed, err := svc.Claim(context.Background(), statestore.ClaimRequest{
		Now: now, LeaseDeadline: now.Add(-time.Second), Limit: 1,
	})
	require.NoError(t, err)
	require.Empty(t, claimed)

	record := newState(t, svc, "a")
	_, err = svc.Claim(context.Background(), statestore.ClaimRequest{
		Now: now, LeaseDeadline: now.Add(-time.Second), Limit: 1,
	})
	require.NoError(t, err)

	expired, err := svc.ListExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, record.ID, expired[0].ID)
}
