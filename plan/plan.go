// Package plan defines the Plan/Step/TaskRecord data model and the parser
// that validates a plan's shape, builds its dependency graph, and produces
// a deterministic execution order. Grounded on the teacher's
// runtime/agent/planner package for the DAG-over-JSON shape, generalized
// from Goa's tool-call plan result to this system's step/dependency model.
package plan

import "time"

// Step is one node of a Plan's DAG.
type Step struct {
	StepID       int            `json:"step_id"`
	Description  string         `json:"description"`
	Tool         string         `json:"tool"`
	ToolInput    map[string]any `json:"tool_input"`
	Dependencies []int          `json:"dependencies"`
	Reasoning    string         `json:"reasoning,omitempty"`
}

// Plan is the persisted unit PlanGenerator produces and PlanExecutor runs.
type Plan struct {
	FlowID             string    `json:"flow_id"`
	OriginalQuery      string    `json:"original_query"`
	CreatedAt          time.Time `json:"created_at"`
	Steps              []Step    `json:"steps"`
	OverallStrategy    string    `json:"overall_strategy,omitempty"`
	ComplexityLevel    string    `json:"complexity_level,omitempty"`
	ReflectionChainID  string    `json:"reflection_chain_id,omitempty"`
}

// TaskRecord mirrors a Plan plus execution/reuse bookkeeping. One-to-one
// with a Plan by FlowID.
type TaskRecord struct {
	Plan           Plan      `json:"plan"`
	Success        bool      `json:"success"`
	LastExecutedAt time.Time `json:"last_executed_at"`
	Keywords       []string  `json:"keywords"`
	ReusedFrom     string    `json:"reused_from,omitempty"`
}
