package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"planscope/errs"
	"planscope/plan"
	"planscope/progress"
	"planscope/storage"
	"planscope/tools"
)

func newTestExecutor(t *testing.T) (*Executor, *tools.Pool, *tools.Registry) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	pool := tools.NewPool()
	registry := tools.NewRegistry(pool)
	bus := progress.New(progress.Options{})
	return New(registry, store, bus), pool, registry
}

func addTool(t *testing.T, pool *tools.Pool, registry *tools.Registry, name string, kind tools.Kind, handle tools.Handle) {
	t.Helper()
	meta := tools.Metadata{Name: name, Description: "test tool", Kind: kind}
	if kind == tools.KindLLM || kind == tools.KindVL {
		meta.OutputSchema = []byte(`{"type":"object","properties":{"content":{"type":"string"}}}`)
	}
	require.NoError(t, pool.Add(meta, handle))
	require.NoError(t, registry.Enable(name))
}

func TestExecutePlanRunsStepsInOrderAndResolvesVariables(t *testing.T) {
	exec, pool, registry := newTestExecutor(t)

	addTool(t, pool, registry, "fetch", tools.KindFunction, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"value": "raw-data"}, nil
	})
	addTool(t, pool, registry, "process", tools.KindFunction, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"value": "processed:" + input["upstream"].(string)}, nil
	})

	p := plan.Plan{
		FlowID: "flow-1",
		Steps: []plan.Step{
			{StepID: 1, Tool: "fetch", ToolInput: map[string]any{}},
			{StepID: 2, Tool: "process", ToolInput: map[string]any{"upstream": "{{steps.1.value}}"}, Dependencies: []int{1}},
		},
	}

	trace, err := exec.ExecutePlan(context.Background(), "session-1", "do the thing", p)
	require.NoError(t, err)
	require.True(t, trace.ExecutionResult.Success)
	require.Equal(t, []int{1, 2}, trace.ExecutionResult.ExecutedSteps)
	require.Equal(t, "processed:raw-data", trace.StepDetails[1].ToolOutput["value"])
}

func TestExecutePlanFailsWhenToolNotRegistered(t *testing.T) {
	exec, _, _ := newTestExecutor(t)
	p := plan.Plan{FlowID: "flow-2", Steps: []plan.Step{{StepID: 1, Tool: "missing"}}}

	_, err := exec.ExecutePlan(context.Background(), "session-2", "task", p)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.ToolNotFound, kind)
}

func TestExecutePlanFailsWhenToolReturnsNonMappingOutput(t *testing.T) {
	exec, pool, registry := newTestExecutor(t)
	addTool(t, pool, registry, "broken", tools.KindFunction, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, nil
	})
	p := plan.Plan{FlowID: "flow-3", Steps: []plan.Step{{StepID: 1, Tool: "broken"}}}

	trace, err := exec.ExecutePlan(context.Background(), "session-3", "task", p)
	require.Error(t, err)
	require.False(t, trace.ExecutionResult.Success)
	require.Equal(t, 1, trace.ExecutionResult.FailureInfo.StepID)
}

func TestExecutePlanFailsWhenLLMToolOutputMissingContent(t *testing.T) {
	exec, pool, registry := newTestExecutor(t)
	addTool(t, pool, registry, "summarize", tools.KindLLM, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"not_content": "oops"}, nil
	})
	p := plan.Plan{FlowID: "flow-4", Steps: []plan.Step{{StepID: 1, Tool: "summarize"}}}

	_, err := exec.ExecutePlan(context.Background(), "session-4", "task", p)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	require.Equal(t, errs.PlanExecution, kind)
}

func TestExecutePlanStopsAtTheFirstFailingStep(t *testing.T) {
	exec, pool, registry := newTestExecutor(t)
	var ranSecond bool
	addTool(t, pool, registry, "fails", tools.KindFunction, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, require.AnError
	})
	addTool(t, pool, registry, "never", tools.KindFunction, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		ranSecond = true
		return map[string]any{}, nil
	})
	p := plan.Plan{
		FlowID: "flow-5",
		Steps: []plan.Step{
			{StepID: 1, Tool: "fails"},
			{StepID: 2, Tool: "never", Dependencies: []int{1}},
		},
	}

	trace, err := exec.ExecutePlan(context.Background(), "session-5", "task", p)
	require.Error(t, err)
	require.False(t, ranSecond)
	require.Empty(t, trace.ExecutionResult.ExecutedSteps)
}
