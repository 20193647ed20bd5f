package executor

import (
	"time"

	"planscope/errs"
	"planscope/plan"
	"planscope/tools"
)

// StepDetail is one step's contribution to an execution trace.
type StepDetail struct {
	StepID              int            `json:"step_id"`
	ToolInput           map[string]any `json:"tool_input"`
	ToolOutput          map[string]any `json:"tool_output,omitempty"`
	Duration            time.Duration  `json:"duration"`
	Error               string         `json:"error,omitempty"`
	ToolMetadataSnapshot tools.Metadata `json:"tool_metadata_snapshot"`
}

// FailureInfo describes the first step failure in a run.
type FailureInfo struct {
	StepID    int    `json:"step_id"`
	Error     string `json:"error"`
	ErrorKind errs.Kind `json:"error_kind"`
	Traceback string `json:"traceback,omitempty"`
}

// Result is the outcome of one ExecutePlan call.
type Result struct {
	Success       bool           `json:"success"`
	ExecutedSteps []int          `json:"executed_steps"`
	StepResults   map[int]any    `json:"step_results"`
	ExecutionTime time.Duration  `json:"execution_time"`
	FailureInfo   *FailureInfo   `json:"failure_info,omitempty"`
}

// Trace records a complete execution for later reflection.
type Trace struct {
	TraceID         string       `json:"trace_id"`
	FlowID          string       `json:"flow_id"`
	TaskDescription string       `json:"task_description"`
	PlanJSON        plan.Plan    `json:"plan_json"`
	ToolsUsed       []string     `json:"tools_used"`
	StepDetails     []StepDetail `json:"step_details"`
	ExecutionResult Result       `json:"execution_result"`
}
