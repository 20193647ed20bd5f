// Package executor implements PlanExecutor: topological, sequential
// execution of a Plan's steps, resolving `{{steps.N.field}}` references
// against prior outputs, recording an execution trace, and publishing
// progress events. Grounded on the teacher's runtime/agent/runtime
// package for the step-by-step tool-call loop shape (ExecuteToolActivity
// et al.), generalized from Goa's tool-call protocol to this system's
// DAG-of-steps model.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planscope/errs"
	"planscope/plan"
	"planscope/progress"
	"planscope/storage"
	"planscope/tools"
	"planscope/variable"
)

// ExecutionContext carries prior step outputs plus a free-form scratch
// area tool authors may carry across steps, without the core interpreting
// its contents (e.g. a viewport offset for a screen-automation tool). A
// step reads it through the reserved `tool_input["_scratch"]` passthrough
// and updates it by returning a `_scratch` map in its result.
type ExecutionContext struct {
	Steps   map[int]any
	Scratch map[string]any
}

// Executor runs a parsed Plan against a tool registry.
type Executor struct {
	registry *tools.Registry
	store    *storage.Manager
	bus      *progress.Bus
}

// New returns an Executor.
func New(registry *tools.Registry, store *storage.Manager, bus *progress.Bus) *Executor {
	return &Executor{registry: registry, store: store, bus: bus}
}

const scratchKey = "_scratch"
const currentSchemaToken = "{{current_tool_schema}}"

// ExecutePlan runs every step of p in dependency order, publishing
// progress under sessionID, and returns the finalized trace and result.
// Cancellation via ctx is honored between steps, never mid-tool-call.
func (e *Executor) ExecutePlan(ctx context.Context, sessionID, taskDescription string, p plan.Plan) (*Trace, error) {
	execCtx := ExecutionContext{Steps: make(map[int]any), Scratch: make(map[string]any)}
	trace := &Trace{
		TraceID:         uuid.New().String(),
		FlowID:          p.FlowID,
		TaskDescription: taskDescription,
		PlanJSON:        p,
	}

	for _, step := range p.Steps {
		if _, ok := e.registry.Get(step.Tool); !ok {
			err := errs.Newf(errs.ToolNotFound, "step %d: tool %q has no registered handle", step.StepID, step.Tool).WithStep(step.StepID)
			return e.finalizeFailure(trace, []int{}, execCtx, time.Now(), step.StepID, err)
		}
	}

	parsed, err := plan.Parse(p)
	if err != nil {
		return nil, err
	}

	e.bus.Publish(sessionID, progress.Event{Kind: progress.KindTaskStart, Status: "starting execution"})

	start := time.Now()
	executed := make([]int, 0, len(parsed.ExecutionOrder))

	for _, stepID := range parsed.ExecutionOrder {
		select {
		case <-ctx.Done():
			return e.finalizeCancelled(trace, executed, execCtx, start)
		default:
		}

		step := parsed.StepMap[stepID]
		e.bus.Publish(sessionID, progress.Event{Kind: progress.KindStepStart, Status: "running step", StepID: &stepID, Tool: step.Tool, Description: step.Description})

		entry, _ := e.registry.Get(step.Tool)
		detail, output, stepErr := e.runStep(ctx, step, entry, execCtx)
		trace.StepDetails = append(trace.StepDetails, detail)
		trace.ToolsUsed = appendUnique(trace.ToolsUsed, step.Tool)

		if stepErr != nil {
			e.bus.Publish(sessionID, progress.Event{Kind: progress.KindStepError, Status: "step failed", StepID: &stepID, Tool: step.Tool, Error: stepErr.Error()})
			return e.finalizeFailure(trace, executed, execCtx, start, stepID, stepErr)
		}

		execCtx.Steps[stepID] = output
		executed = append(executed, stepID)
		e.bus.Publish(sessionID, progress.Event{Kind: progress.KindStepDone, Status: "step complete", StepID: &stepID, Tool: step.Tool})
	}

	trace.ExecutionResult = Result{
		Success:       true,
		ExecutedSteps: executed,
		StepResults:   execCtx.Steps,
		ExecutionTime: time.Since(start),
	}
	if err := e.store.SaveJSON(e.store.TracePath(trace.TraceID), trace); err != nil {
		return trace, err
	}
	e.bus.Close(sessionID)
	return trace, nil
}

func (e *Executor) runStep(ctx context.Context, step plan.Step, entry tools.Entry, execCtx ExecutionContext) (StepDetail, map[string]any, error) {
	resolver := variable.New()
	input, err := e.resolveInput(resolver, step, entry, execCtx)
	if err != nil {
		return StepDetail{StepID: step.StepID, ToolInput: step.ToolInput, Error: err.Error(), ToolMetadataSnapshot: entry.Metadata}, nil, err
	}

	started := time.Now()
	raw, err := entry.Handle(ctx, input)
	duration := time.Since(started)
	if err != nil {
		wrapped := errs.Wrap(errs.PlanExecution, fmt.Sprintf("step %d: tool %q failed", step.StepID, step.Tool), err).WithStep(step.StepID)
		return StepDetail{StepID: step.StepID, ToolInput: input, Duration: duration, Error: wrapped.Error(), ToolMetadataSnapshot: entry.Metadata}, nil, wrapped
	}

	if err := validateOutput(step, entry, raw); err != nil {
		return StepDetail{StepID: step.StepID, ToolInput: input, ToolOutput: raw, Duration: duration, Error: err.Error(), ToolMetadataSnapshot: entry.Metadata}, nil, err
	}

	if scratch, ok := raw[scratchKey].(map[string]any); ok {
		for k, v := range scratch {
			execCtx.Scratch[k] = v
		}
	}

	return StepDetail{StepID: step.StepID, ToolInput: input, ToolOutput: raw, Duration: duration, ToolMetadataSnapshot: entry.Metadata}, raw, nil
}

func (e *Executor) resolveInput(resolver *variable.Resolver, step plan.Step, entry tools.Entry, execCtx ExecutionContext) (map[string]any, error) {
	varCtx := variable.ExecutionContext{Steps: execCtx.Steps}

	input := step.ToolInput
	if entry.Metadata.Kind == tools.KindLLM || entry.Metadata.Kind == tools.KindVL {
		input = injectCurrentToolSchema(input, entry.Metadata.OutputSchema)
	}
	if len(execCtx.Scratch) > 0 {
		clone := make(map[string]any, len(input)+1)
		for k, v := range input {
			clone[k] = v
		}
		clone[scratchKey] = execCtx.Scratch
		input = clone
	}

	resolved, _, err := resolver.Resolve(step.StepID, map[string]any(input), varCtx)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func injectCurrentToolSchema(input map[string]any, schema json.RawMessage) map[string]any {
	if len(schema) == 0 {
		return input
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		if s, ok := v.(string); ok {
			out[k] = replaceToken(s, currentSchemaToken, string(schema))
			continue
		}
		out[k] = v
	}
	return out
}

func replaceToken(s, token, value string) string {
	for {
		idx := indexOf(s, token)
		if idx < 0 {
			return s
		}
		s = s[:idx] + value + s[idx+len(token):]
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func validateOutput(step plan.Step, entry tools.Entry, raw map[string]any) error {
	if raw == nil {
		return errs.Newf(errs.PlanExecution, "step %d: tool %q returned a nil result", step.StepID, step.Tool).WithStep(step.StepID)
	}
	needsContent := entry.Metadata.Kind == tools.KindLLM || entry.Metadata.Kind == tools.KindVL || len(entry.Metadata.OutputSchema) > 0
	if !needsContent {
		return nil
	}
	content, ok := raw["content"].(string)
	if !ok || content == "" {
		return errs.Newf(errs.PlanExecution, "step %d: tool %q result missing string content field", step.StepID, step.Tool).WithStep(step.StepID)
	}
	if err := entry.Metadata.ValidateOutput(raw); err != nil {
		return errs.Wrap(errs.PlanExecution, fmt.Sprintf("step %d: tool %q", step.StepID, step.Tool), err).WithStep(step.StepID)
	}
	return nil
}

func (e *Executor) finalizeFailure(trace *Trace, executed []int, execCtx ExecutionContext, start time.Time, failedStep int, stepErr error) (*Trace, error) {
	kind, _ := errs.KindOf(stepErr)
	var planErr *errs.Error
	if errors.As(stepErr, &planErr) && planErr.Kind == errs.PlanExecution {
		planErr.WithExecuted(executed)
	}
	trace.ExecutionResult = Result{
		Success:       false,
		ExecutedSteps: executed,
		StepResults:   execCtx.Steps,
		ExecutionTime: time.Since(start),
		FailureInfo: &FailureInfo{
			StepID:    failedStep,
			Error:     stepErr.Error(),
			ErrorKind: kind,
		},
	}
	_ = e.store.SaveJSON(e.store.TracePath(trace.TraceID), trace)
	return trace, stepErr
}

func (e *Executor) finalizeCancelled(trace *Trace, executed []int, execCtx ExecutionContext, start time.Time) (*Trace, error) {
	cancelErr := errs.New(errs.Cancelled, "execution cancelled between steps").WithExecuted(executed)
	trace.ExecutionResult = Result{
		Success:       false,
		ExecutedSteps: executed,
		StepResults:   execCtx.Steps,
		ExecutionTime: time.Since(start),
		FailureInfo: &FailureInfo{
			Error:     cancelErr.Error(),
			ErrorKind: errs.Cancelled,
		},
	}
	_ = e.store.SaveJSON(e.store.TracePath(trace.TraceID), trace)
	return trace, cancelErr
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
