package taskmatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planscope/plan"
	"planscope/storage"
)

func newTestStore(t *testing.T) *storage.Manager {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func saveTaskRecord(t *testing.T, store *storage.Manager, flowID, query string, success bool, createdAt time.Time) {
	t.Helper()
	record := plan.TaskRecord{
		Plan: plan.Plan{FlowID: flowID, OriginalQuery: query, CreatedAt: createdAt},
		Success: success,
	}
	require.NoError(t, store.SaveJSON(store.TaskPath(flowID), record))
	require.NoError(t, store.SaveJSON(store.PlanPath(flowID), record.Plan))
}

func TestFindExactPlanMatchesNormalizedDescription(t *testing.T) {
	store := newTestStore(t)
	saveTaskRecord(t, store, "flow-1", "Summarize the Quarterly Report", true, time.Now())

	matcher := New(store, nil, nil, nil)
	record, found, err := matcher.FindExactPlan("  summarize   the quarterly report  ")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "flow-1", record.Plan.FlowID)
}

func TestFindExactPlanSkipsUnsuccessfulTasks(t *testing.T) {
	store := newTestStore(t)
	saveTaskRecord(t, store, "flow-1", "summarize the report", false, time.Now())

	matcher := New(store, nil, nil, nil)
	_, found, err := matcher.FindExactPlan("summarize the report")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFindExactPlanReturnsFalseWhenNoneMatch(t *testing.T) {
	store := newTestStore(t)
	saveTaskRecord(t, store, "flow-1", "summarize the report", true, time.Now())

	matcher := New(store, nil, nil, nil)
	_, found, err := matcher.FindExactPlan("an unrelated task")
	require.NoError(t, err)
	require.False(t, found)
}

func TestFindExactPlanPrefersLivePlanFileOverSnapshot(t *testing.T) {
	store := newTestStore(t)
	saveTaskRecord(t, store, "flow-1", "summarize the report", true, time.Now())

	// Overwrite the live plan file with extra steps, simulating an external edit.
	updated := plan.Plan{FlowID: "flow-1", OriginalQuery: "summarize the report", Steps: []plan.Step{{StepID: 1}}}
	require.NoError(t, store.SaveJSON(store.PlanPath("flow-1"), updated))

	matcher := New(store, nil, nil, nil)
	record, found, err := matcher.FindExactPlan("summarize the report")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, record.Plan.Steps, 1)
}

func TestListTaskHistoryOrdersByMostRecentFirst(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	saveTaskRecord(t, store, "flow-old", "task a", true, now.Add(-time.Hour))
	saveTaskRecord(t, store, "flow-new", "task b", true, now)

	matcher := New(store, nil, nil, nil)
	records, err := matcher.ListTaskHistory(0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "flow-new", records[0].Plan.FlowID)
	require.Equal(t, "flow-old", records[1].Plan.FlowID)
}

func TestListTaskHistoryRespectsLimit(t *testing.T) {
	store := newTestStore(t)
	now := time.Now()
	saveTaskRecord(t, store, "flow-1", "a", true, now.Add(-2*time.Hour))
	saveTaskRecord(t, store, "flow-2", "b", true, now.Add(-time.Hour))
	saveTaskRecord(t, store, "flow-3", "c", true, now)

	matcher := New(store, nil, nil, nil)
	records, err := matcher.ListTaskHistory(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "flow-3", records[0].Plan.FlowID)
}

func TestListTaskHistoryOnEmptyStoreReturnsEmptyNotError(t *testing.T) {
	store := newTestStore(t)
	matcher := New(store, nil, nil, nil)
	records, err := matcher.ListTaskHistory(0)
	require.NoError(t, err)
	require.Empty(t, records)
}
