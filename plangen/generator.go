// Package plangen implements PlanGenerator: the end-to-end path from a
// natural-language task description to a validated, prompt-enriched Plan,
// reusing an exact or similar past plan wherever one exists before
// resorting to a fresh model call. Grounded on the teacher's
// runtime/agent/planner.go (the tool-catalogue-plus-context prompt
// assembly shape) and runtime/agent/runtime.go (the generate-then-
// validate-then-persist call sequence), generalized from Goa's tool-call
// planning loop to this system's DAG-of-steps model.
package plangen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"planscope/ace"
	contextmgr "planscope/context"
	"planscope/errs"
	"planscope/llmanalyzer"
	"planscope/modelclient"
	"planscope/plan"
	"planscope/progress"
	"planscope/promptcache"
	"planscope/recommender"
	"planscope/storage"
	"planscope/taskmatcher"
	"planscope/telemetry"
	"planscope/tools"
)

// similarityReuseThreshold is the minimum cosine similarity a past plan
// must clear to be reused wholesale instead of generating a fresh one.
const similarityReuseThreshold = 0.85

// contextTopK bounds how many context entries are folded into the
// generation prompt.
const contextTopK = 5

// promptField is the tool_input key whose presence marks a step as
// prompt-bearing; steps without it (pure function calls with structured
// parameters only) are skipped by both prompt-injection passes.
const promptField = "prompt"

// Generator assembles Plans from a task description.
type Generator struct {
	matcher     *taskmatcher.Matcher
	recommender *recommender.Recommender
	context     *contextmgr.Manager
	client      modelclient.Client
	analyzer    *llmanalyzer.Analyzer
	prompts     *promptcache.Manager
	pool        *tools.Pool
	registry    *tools.Registry
	store       *storage.Manager
	bus         *progress.Bus
	logger      telemetry.Logger
}

// New returns a Generator wiring every component PlanGenerator's
// algorithm depends on.
func New(
	matcher *taskmatcher.Matcher,
	recommender *recommender.Recommender,
	ctxMgr *contextmgr.Manager,
	client modelclient.Client,
	analyzer *llmanalyzer.Analyzer,
	prompts *promptcache.Manager,
	pool *tools.Pool,
	registry *tools.Registry,
	store *storage.Manager,
	bus *progress.Bus,
	logger telemetry.Logger,
) *Generator {
	return &Generator{
		matcher: matcher, recommender: recommender, context: ctxMgr,
		client: client, analyzer: analyzer, prompts: prompts,
		pool: pool, registry: registry, store: store, bus: bus, logger: logger,
	}
}

// Result is what GeneratePlan produces: the plan, whether it was reused
// from a past run rather than freshly generated, and the flow_id it was
// reused from (empty when freshly generated).
type Result struct {
	Plan       plan.Plan
	Reused     bool
	ReusedFrom string
}

// GeneratePlan implements the eleven-step generation algorithm: exact
// reuse, then similarity reuse, then fresh generation (recommend tools,
// retrieve context, assemble prompt, call the model, validate, run two
// prompt-injection passes, apply heuristic fix-ups, persist).
func (g *Generator) GeneratePlan(ctx context.Context, sessionID, description string) (*Result, error) {
	if record, ok, err := g.matcher.FindExactPlan(description); err != nil {
		return nil, errs.Wrap(errs.PlanGeneration, "exact match lookup", err)
	} else if ok {
		if err := g.enableStepTools(record.Plan); err != nil {
			return nil, err
		}
		reused := cloneForReuse(record.Plan, description)
		g.bus.Publish(sessionID, progress.Event{Kind: progress.KindPlanReady, Status: "reusing exact match"})
		if err := g.persist(ctx, reused, record.Plan.FlowID); err != nil {
			return nil, err
		}
		return &Result{Plan: reused, Reused: true, ReusedFrom: record.Plan.FlowID}, nil
	}

	if matches, err := g.matcher.FindSimilarPlans(ctx, description, similarityReuseThreshold, 3); err != nil {
		return nil, errs.Wrap(errs.PlanGeneration, "similarity match lookup", err)
	} else if len(matches) > 0 {
		best := matches[0]
		if err := g.enableStepTools(best.Record.Plan); err != nil {
			return nil, err
		}
		reused := cloneForReuse(best.Record.Plan, description)
		g.bus.Publish(sessionID, progress.Event{Kind: progress.KindPlanReady, Status: "reusing similar plan"})
		if err := g.persist(ctx, reused, best.Record.Plan.FlowID); err != nil {
			return nil, err
		}
		return &Result{Plan: reused, Reused: true, ReusedFrom: best.Record.Plan.FlowID}, nil
	}

	return g.generateFresh(ctx, sessionID, description)
}

// enableStepTools pulls every distinct tool a reused plan's steps
// reference from the pool into the registry, the way generateFresh's
// recommendation loop does for a freshly generated plan: a reused plan
// must be just as executable as one produced this turn.
func (g *Generator) enableStepTools(p plan.Plan) error {
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if seen[step.Tool] {
			continue
		}
		seen[step.Tool] = true
		if err := g.registry.Enable(step.Tool); err != nil {
			return errs.Wrap(errs.PlanGeneration, "enabling reused plan's tool", err)
		}
	}
	return nil
}

func (g *Generator) generateFresh(ctx context.Context, sessionID, description string) (*Result, error) {
	g.bus.Publish(sessionID, progress.Event{Kind: progress.KindToolSelection, Status: "selecting tools"})
	recommendation, err := g.recommender.Recommend(ctx, description, g.pool)
	if err != nil {
		return nil, errs.Wrap(errs.PlanGeneration, "tool recommendation", err)
	}
	for _, name := range recommendation.Tools {
		if err := g.registry.Enable(name); err != nil {
			return nil, errs.Wrap(errs.PlanGeneration, "enabling recommended tool", err)
		}
	}

	entries, err := g.context.RetrieveRelevant(ctx, description, contextTopK)
	if err != nil {
		return nil, errs.Wrap(errs.PlanGeneration, "context retrieval", err)
	}

	prompt := buildPrompt(description, entries, g.registry)
	answer, err := g.client.CompleteJSON(ctx, prompt, planGenerationSystemPrompt, modelclient.Options{})
	if err != nil {
		return nil, errs.Wrap(errs.PlanGeneration, "model call", err)
	}

	p, err := planFromAnswer(answer, description)
	if err != nil {
		return nil, err
	}
	if _, err := plan.Parse(p); err != nil {
		return nil, err
	}

	taskClass, err := g.context.DeriveTaskClass(ctx, description)
	if err == nil {
		g.applyACEPrompts(p, taskClass, entries)
	}
	if err := g.applyDefaultPrompts(ctx, p); err != nil {
		return nil, err
	}
	applyHeuristicFixups(p)

	p.ReflectionChainID = uuid.New().String()
	chain := ace.NewChain(g.store, p.ReflectionChainID)
	_ = chain.Append(ace.ChainEntry{Kind: ace.ChainPlanGeneration, InputData: description, ModelInfo: recommendation.Reasoning})
	_ = chain.Append(ace.ChainEntry{Kind: ace.ChainPlanGenerationResult, OutputData: p})

	if err := g.persist(ctx, p, ""); err != nil {
		return nil, err
	}
	g.bus.Publish(sessionID, progress.Event{Kind: progress.KindPlanReady, Status: "plan generated"})
	return &Result{Plan: p}, nil
}

// cloneForReuse copies source's steps under a fresh flow_id so the reused
// plan and the original remain independently addressable and executable.
func cloneForReuse(source plan.Plan, description string) plan.Plan {
	clone := source
	clone.FlowID = uuid.New().String()
	clone.OriginalQuery = description
	clone.CreatedAt = time.Now()
	steps := make([]plan.Step, len(source.Steps))
	copy(steps, source.Steps)
	clone.Steps = steps
	return clone
}

func (g *Generator) persist(ctx context.Context, p plan.Plan, reusedFrom string) error {
	if err := g.store.SaveJSON(g.store.PlanPath(p.FlowID), p); err != nil {
		return errs.Wrap(errs.PlanGeneration, "persisting plan", err)
	}
	record := plan.TaskRecord{Plan: p, ReusedFrom: reusedFrom}
	if err := g.matcher.SaveTaskMapping(ctx, record); err != nil {
		return errs.Wrap(errs.PlanGeneration, "persisting task record", err)
	}
	return nil
}

const planGenerationSystemPrompt = "You are a task planner. Decompose the request into a minimal sequence " +
	"of tool-calling steps forming a DAG. Respond with a single JSON object: " +
	"{\"steps\": [{\"step_id\": 1, \"description\": \"...\", \"tool\": \"...\", \"tool_input\": {...}, " +
	"\"dependencies\": [], \"reasoning\": \"...\"}], \"overall_strategy\": \"...\", \"complexity_level\": \"simple|moderate|complex\"}. " +
	"Use `{{steps.N.field}}` to reference a prior step's output field."

func buildPrompt(description string, entries []contextmgr.Scored, registry *tools.Registry) string {
	var b strings.Builder
	if len(entries) > 0 {
		b.WriteString("Relevant prior experience:\n")
		for _, s := range entries {
			fmt.Fprintf(&b, "- [%s] %s\n", s.Entry.Type, s.Entry.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString("Available tools:\n")
	for _, entry := range registry.All() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", entry.Metadata.Name, entry.Metadata.Kind, entry.Metadata.Description)
		for paramName, param := range entry.Metadata.InputParameters {
			fmt.Fprintf(&b, "    %s (%s, required=%v): %s\n", paramName, param.Type, param.Required, param.Description)
		}
		if len(entry.Metadata.OutputSchema) > 0 {
			fmt.Fprintf(&b, "    output_schema: %s\n", entry.Metadata.OutputSchema)
		}
	}
	fmt.Fprintf(&b, "\nRequest: %s\n", description)
	return b.String()
}

func planFromAnswer(answer map[string]any, description string) (plan.Plan, error) {
	raw, err := json.Marshal(answer)
	if err != nil {
		return plan.Plan{}, errs.Wrap(errs.PlanParsing, "re-marshaling model answer", err)
	}
	var body struct {
		Steps           []plan.Step `json:"steps"`
		OverallStrategy string      `json:"overall_strategy"`
		ComplexityLevel string      `json:"complexity_level"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return plan.Plan{}, errs.Wrap(errs.PlanParsing, "decoding plan steps from model answer", err)
	}
	if len(body.Steps) == 0 {
		return plan.Plan{}, errs.New(errs.PlanParsing, "model answer contained no steps")
	}
	return plan.Plan{
		FlowID:          uuid.New().String(),
		OriginalQuery:   description,
		CreatedAt:       time.Now(),
		Steps:           body.Steps,
		OverallStrategy: body.OverallStrategy,
		ComplexityLevel: body.ComplexityLevel,
	}, nil
}

// applyACEPrompts is prompt-injection pass one: any step whose tool has a
// tool_usage context entry carrying an optimized_prompt has its prompt
// field overwritten, skipping steps with no prompt field at all.
func (g *Generator) applyACEPrompts(p plan.Plan, taskClass string, entries []contextmgr.Scored) {
	optimized := make(map[string]string, len(entries))
	for _, s := range entries {
		if s.Entry.Type != contextmgr.TypeToolUsage || s.Entry.Metadata.OptimizedPrompt == "" {
			continue
		}
		for _, toolName := range s.Entry.Metadata.RelatedTools {
			optimized[toolName] = s.Entry.Metadata.OptimizedPrompt
		}
	}
	for i := range p.Steps {
		step := &p.Steps[i]
		if _, has := step.ToolInput[promptField]; !has {
			continue
		}
		if rewrite, ok := optimized[step.Tool]; ok {
			step.ToolInput[promptField] = rewrite
		}
	}
}

// applyDefaultPrompts is prompt-injection pass two: a prompt-bearing step
// still lacking a prompt after pass one gets the flow's previously cached
// prompt for that tool, or (on a cold cache) a prompt synthesized by the
// model and cached for next time.
func (g *Generator) applyDefaultPrompts(ctx context.Context, p plan.Plan) error {
	for i := range p.Steps {
		step := &p.Steps[i]
		current, has := step.ToolInput[promptField]
		if !has {
			continue
		}
		if s, ok := current.(string); ok && s != "" {
			continue
		}

		if cached, ok, err := g.prompts.GetCached(p.FlowID, step.Tool); err != nil {
			return errs.Wrap(errs.PlanGeneration, "prompt cache lookup", err)
		} else if ok {
			step.ToolInput[promptField] = cached.Prompt
			continue
		}

		synthesized, err := g.analyzer.CompleteJSON(ctx,
			"default_prompt:"+step.Tool,
			fmt.Sprintf("Write a default instruction prompt for the tool %q performing: %s", step.Tool, step.Description),
			"Respond with JSON: {\"prompt\": \"...\"}.",
			modelclient.Options{}, llmanalyzer.SemanticOptions{Enabled: true})
		if err != nil {
			return errs.Wrap(errs.PlanGeneration, "synthesizing default prompt", err)
		}
		prompt, _ := synthesized["prompt"].(string)
		step.ToolInput[promptField] = prompt
		if err := g.prompts.Save(p.FlowID, step.Tool, prompt, promptcache.GeneratorLLM, false); err != nil {
			return errs.Wrap(errs.PlanGeneration, "caching synthesized prompt", err)
		}
	}
	return nil
}

// generalLLMProcessorTool is the catch-all text-processing tool whose
// prompt commonly references a prior step's content without declaring an
// explicit `content` input parameter; applyHeuristicFixups backfills it
// so the variable resolver has something to substitute into.
const generalLLMProcessorTool = "general_llm_processor"

// applyHeuristicFixups auto-injects a `content` parameter for
// general_llm_processor steps whose prompt references a prior step's
// content but whose tool_input omits the parameter outright.
func applyHeuristicFixups(p plan.Plan) {
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.Tool != generalLLMProcessorTool {
			continue
		}
		if _, has := step.ToolInput["content"]; has {
			continue
		}
		prompt, _ := step.ToolInput[promptField].(string)
		for _, dep := range step.Dependencies {
			ref := fmt.Sprintf("{{steps.%d.content}}", dep)
			if strings.Contains(prompt, ref) {
				step.ToolInput["content"] = ref
				break
			}
		}
	}
}
