// Package orchestrator assembles every planscope component behind a
// small façade: generate a plan, execute it, reflect on the result
// through the ACE pipeline, and expose the maintenance operations a host
// application needs (marking context entries useful/harmful, listing
// task history, quality re-analysis). Grounded on the teacher's
// runtime/registry/manager.go (top-level component wiring) and
// runtime/agent/runtime/runtime.go (the generate-execute-reflect call
// sequence as a single top-level entry point).
package orchestrator

import (
	"context"

	"planscope/ace"
	contextmgr "planscope/context"
	"planscope/errs"
	"planscope/executor"
	"planscope/llmanalyzer"
	"planscope/modelclient"
	"planscope/plan"
	"planscope/plangen"
	"planscope/progress"
	"planscope/promptcache"
	"planscope/recommender"
	"planscope/storage"
	"planscope/taskmatcher"
	"planscope/telemetry"
	"planscope/tools"
)

// Orchestrator is the single entry point a host application drives: one
// call each to generate, execute, and (always, regardless of outcome)
// reflect.
type Orchestrator struct {
	Pool     *tools.Pool
	Registry *tools.Registry
	Bus      *progress.Bus

	store     *storage.Manager
	generator *plangen.Generator
	executor  *executor.Executor
	context   *contextmgr.Manager
	reflector *ace.Reflector
	curator   *ace.Curator
	matcher   *taskmatcher.Matcher
	logger    telemetry.Logger
}

// Deps bundles every component the orchestrator wires together, already
// constructed by the caller's composition root (typically cmd/planscopectl).
type Deps struct {
	Store       *storage.Manager
	Client      modelclient.Client
	Analyzer    *llmanalyzer.Analyzer
	Context     *contextmgr.Manager
	Matcher     *taskmatcher.Matcher
	Recommender *recommender.Recommender
	Prompts     *promptcache.Manager
	Pool        *tools.Pool
	Registry    *tools.Registry
	Bus         *progress.Bus
	Logger      telemetry.Logger
}

// New wires Deps into an Orchestrator.
func New(d Deps) *Orchestrator {
	generator := plangen.New(d.Matcher, d.Recommender, d.Context, d.Client, d.Analyzer, d.Prompts, d.Pool, d.Registry, d.Store, d.Bus, d.Logger)
	exec := executor.New(d.Registry, d.Store, d.Bus)
	return &Orchestrator{
		Pool: d.Pool, Registry: d.Registry, Bus: d.Bus,
		store: d.Store, generator: generator, executor: exec, context: d.Context,
		reflector: ace.NewReflector(d.Analyzer), curator: ace.NewCurator(d.Context),
		matcher: d.Matcher, logger: d.Logger,
	}
}

// GeneratePlan produces (or reuses) a plan for description under sessionID.
func (o *Orchestrator) GeneratePlan(ctx context.Context, sessionID, description string) (*plangen.Result, error) {
	return o.generator.GeneratePlan(ctx, sessionID, description)
}

// Run executes p end to end and always runs the ACE reflect-then-curate
// pipeline afterward, whether p succeeded or failed. The original
// execution error (if any) is returned to the caller only after
// reflection has completed, so a failure never costs the system the
// learning opportunity it represents.
func (o *Orchestrator) Run(ctx context.Context, sessionID, taskDescription string, p plan.Plan) (*executor.Trace, error) {
	trace, execErr := o.executor.ExecutePlan(ctx, sessionID, taskDescription, p)

	o.reflect(ctx, trace, taskDescription)
	o.recordOutcome(ctx, p, execErr == nil)

	return trace, execErr
}

func (o *Orchestrator) reflect(ctx context.Context, trace *executor.Trace, taskDescription string) {
	if trace == nil {
		return
	}
	taskClass, err := o.context.DeriveTaskClass(ctx, taskDescription)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn(ctx, "ace: task class derivation failed, skipping reflection", "error", err)
		}
		return
	}

	class, insights, err := o.reflector.Reflect(ctx, trace, taskClass)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn(ctx, "ace: reflection failed", "error", err)
		}
		return
	}
	if err := o.curator.Curate(taskClass, class, insights); err != nil && o.logger != nil {
		o.logger.Warn(ctx, "ace: curation failed", "error", err)
	}
}

func (o *Orchestrator) recordOutcome(ctx context.Context, p plan.Plan, success bool) {
	record := plan.TaskRecord{Plan: p, Success: success}
	if err := o.matcher.SaveTaskMapping(ctx, record); err != nil && o.logger != nil {
		o.logger.Warn(ctx, "recording task outcome failed", "flow_id", p.FlowID, "error", err)
	}
}

// ReflectQuality runs an explicit quality-issue reflection pass against a
// trace step, independent of the success/failure pipeline Run already
// triggers, and immediately curates the resulting insight.
func (o *Orchestrator) ReflectQuality(ctx context.Context, trace *executor.Trace, stepID int, complaint string) error {
	taskClass, err := o.context.DeriveTaskClass(ctx, trace.TaskDescription)
	if err != nil {
		return errs.Wrap(errs.ACEReflection, "deriving task class for quality analysis", err)
	}
	insight, err := o.reflector.ReflectQuality(ctx, trace, stepID, taskClass, complaint)
	if err != nil {
		return err
	}
	return o.curator.Curate(taskClass, ace.ClassQualityIssue, []ace.Insight{insight})
}

// MarkEntry records user/quality feedback on a context entry.
func (o *Orchestrator) MarkEntry(taskClass, entryID string, useful bool) error {
	if useful {
		return o.context.MarkUseful(taskClass, entryID)
	}
	return o.context.MarkHarmful(taskClass, entryID)
}

// ChainSummary returns a display-ready view of a plan's reflection chain.
func (o *Orchestrator) ChainSummary(chainID string) ([]ace.Summary, error) {
	return ace.ChainSummary(o.store, chainID)
}

// ListTaskHistory returns up to limit past task records, most recent first.
func (o *Orchestrator) ListTaskHistory(limit int) ([]plan.TaskRecord, error) {
	return o.matcher.ListTaskHistory(limit)
}
