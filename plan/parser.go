package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"planscope/errs"
	"planscope/variable"
)

// Parsed is the validated, indexed view of a Plan that PlanExecutor and
// PlanGenerator's prompt-injection passes operate on.
type Parsed struct {
	Plan             Plan
	StepMap          map[int]Step
	DependencyGraph  map[int][]int // step_id -> predecessor step_ids
	ExecutionOrder   []int
}

// Parse validates p's shape and returns its indexed, topologically ordered
// view. Validation order: dense step IDs from 1, no self-dependencies, no
// dependency on a missing step, no reference cycles, then Kahn's algorithm
// for a deterministic execution order (ties broken by step_id ascending).
func Parse(p Plan) (*Parsed, error) {
	if len(p.Steps) == 0 {
		return nil, errs.New(errs.PlanValidation, "plan has no steps")
	}

	stepMap := make(map[int]Step, len(p.Steps))
	for _, s := range p.Steps {
		if _, dup := stepMap[s.StepID]; dup {
			return nil, errs.Newf(errs.PlanValidation, "duplicate step_id %d", s.StepID)
		}
		stepMap[s.StepID] = s
	}
	for i := 1; i <= len(p.Steps); i++ {
		if _, ok := stepMap[i]; !ok {
			return nil, errs.Newf(errs.PlanValidation, "step_ids must be dense starting at 1; missing %d", i)
		}
	}

	depGraph := make(map[int][]int, len(stepMap))
	for id, s := range stepMap {
		for _, dep := range s.Dependencies {
			if dep == id {
				return nil, errs.Newf(errs.DependencyError, "step %d depends on itself", id).WithStep(id)
			}
			if _, ok := stepMap[dep]; !ok {
				return nil, errs.Newf(errs.DependencyError, "step %d depends on missing step %d", id, dep).WithStep(id)
			}
		}
		depGraph[id] = append([]int(nil), s.Dependencies...)
	}

	if err := detectCycle(depGraph); err != nil {
		return nil, err
	}

	for id, s := range stepMap {
		if err := validateVariableReferences(id, s.ToolInput); err != nil {
			return nil, err
		}
	}

	order, err := topologicalOrder(depGraph)
	if err != nil {
		return nil, err
	}

	return &Parsed{Plan: p, StepMap: stepMap, DependencyGraph: depGraph, ExecutionOrder: order}, nil
}

// detectCycle runs DFS with a recursion-stack set over the dependency
// graph (edges point from a step to its predecessors).
func detectCycle(depGraph map[int][]int) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[int]int, len(depGraph))

	ids := make([]int, 0, len(depGraph))
	for id := range depGraph {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var visit func(id int, stack []int) error
	visit = func(id int, stack []int) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return errs.Newf(errs.DependencyError, "cycle: %s", formatCycle(append(stack, id))).WithStep(id)
		}
		state[id] = visiting
		for _, dep := range depGraph[id] {
			if err := visit(dep, append(stack, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, id := range ids {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// formatCycle renders a step-id path as "1 -> 2 -> 1" for DependencyError
// messages.
func formatCycle(path []int) string {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " -> ")
}

// topologicalOrder runs Kahn's algorithm over depGraph, breaking ties
// among simultaneously-ready steps by step_id ascending for determinism.
func topologicalOrder(depGraph map[int][]int) ([]int, error) {
	// successors[id] = steps that depend on id; indegree[id] = len(predecessors)
	successors := make(map[int][]int, len(depGraph))
	indegree := make(map[int]int, len(depGraph))
	for id, preds := range depGraph {
		indegree[id] = len(preds)
		for _, p := range preds {
			successors[p] = append(successors[p], id)
		}
	}

	var ready []int
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(depGraph))
	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, succ := range successors[id] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}

	if len(order) != len(depGraph) {
		return nil, errs.New(errs.DependencyError, "dependency graph has a cycle: topological sort could not order all steps")
	}
	return order, nil
}

// validateVariableReferences recursively walks a step's tool_input,
// rejecting self- and forward-references at parse time.
func validateVariableReferences(stepID int, input map[string]any) error {
	for key, v := range input {
		if err := validateValueReferences(stepID, v); err != nil {
			return fmt.Errorf("step %d, parameter %q: %w", stepID, key, err)
		}
	}
	return nil
}

func validateValueReferences(stepID int, v any) error {
	switch x := v.(type) {
	case string:
		refs, err := variable.ParseReferences(x)
		if err != nil {
			return err
		}
		return variable.ValidateStructure(stepID, refs)
	case map[string]any:
		for _, elem := range x {
			if err := validateValueReferences(stepID, elem); err != nil {
				return err
			}
		}
	case []any:
		for _, elem := range x {
			if err := validateValueReferences(stepID, elem); err != nil {
				return err
			}
		}
	}
	return nil
}
