// Package ace implements the Adaptive Context Engine: the Reflector
// turns a finished execution trace into insights, and the Curator turns
// insights into deduplicated contextmgr.Entry values. Grounded on the
// original_source reference's reflection/curation split (reflection.py
// / curation.py), re-expressed as two small Go types sharing a
// modelclient.Client through llmanalyzer's cache the way the rest of
// this codebase shares the model boundary.
package ace

import (
	"context"
	"encoding/json"
	"fmt"

	"planscope/errs"
	"planscope/executor"
	"planscope/llmanalyzer"
	"planscope/modelclient"
)

// Classification buckets a finished trace for reflection purposes.
type Classification string

const (
	ClassWorkflowFailure Classification = "workflow_failure"
	ClassToolFailure     Classification = "tool_failure"
	ClassMixed           Classification = "mixed"
	ClassSuccess         Classification = "success"
	ClassQualityIssue    Classification = "quality_issue"
)

// structuralKinds are error kinds that indicate the plan itself was
// malformed or unexecutable, as opposed to a tool misbehaving at
// runtime.
var structuralKinds = map[errs.Kind]bool{
	errs.ToolNotFound:       true,
	errs.VariableResolution: true,
	errs.DependencyError:    true,
	errs.PlanParsing:        true,
	errs.PlanValidation:     true,
}

// Classify buckets trace into a Classification. A failed run whose error
// kind is structural (bad plan shape, dangling dependency, unresolved
// variable, unregistered tool) is a workflow failure; a failed run whose
// error kind is PlanExecution is a tool failure; anything else failing
// is mixed, since the cause could not be cleanly attributed to either.
func Classify(trace *executor.Trace) Classification {
	if trace.ExecutionResult.Success {
		return ClassSuccess
	}
	fi := trace.ExecutionResult.FailureInfo
	if fi == nil {
		return ClassMixed
	}
	if structuralKinds[fi.ErrorKind] {
		return ClassWorkflowFailure
	}
	if fi.ErrorKind == errs.PlanExecution {
		return ClassToolFailure
	}
	return ClassMixed
}

// Insight is one distilled observation the Curator will turn into a
// context entry.
type Insight struct {
	Content         string
	RelatedTools    []string
	OptimizedPrompt string
	Example         string
}

// Reflector extracts insights from traces via a cached model call, one
// prompt per classification so the model is always asked the question
// that matches what actually happened.
type Reflector struct {
	analyzer *llmanalyzer.Analyzer
}

// NewReflector returns a Reflector.
func NewReflector(analyzer *llmanalyzer.Analyzer) *Reflector {
	return &Reflector{analyzer: analyzer}
}

// Reflect classifies trace and extracts the insights it yields for
// taskClass. A successful trace with no explicit quality concern raised
// yields at most one reusable-strategy insight (none when the model
// returns an empty strategy); ReflectQuality is the
// separate entry point for quality analysis requested after the fact.
func (r *Reflector) Reflect(ctx context.Context, trace *executor.Trace, taskClass string) (Classification, []Insight, error) {
	class := Classify(trace)
	switch class {
	case ClassSuccess:
		insight, err := r.reflectSuccess(ctx, trace, taskClass)
		return class, insight, err
	case ClassWorkflowFailure, ClassToolFailure, ClassMixed:
		insight, err := r.reflectFailure(ctx, trace, taskClass, class)
		return class, insight, err
	default:
		return class, nil, nil
	}
}

func (r *Reflector) reflectSuccess(ctx context.Context, trace *executor.Trace, taskClass string) ([]Insight, error) {
	prompt := fmt.Sprintf(
		"Task class: %s\nTask: %s\nTools used in order: %v\nSteps executed: %d\n\n"+
			"Describe, in one or two sentences, the reusable strategy that made this "+
			"plan succeed (which tool sequencing or decomposition worked). Respond with "+
			"JSON: {\"strategy\": \"...\"}.",
		taskClass, trace.TaskDescription, trace.ToolsUsed, len(trace.ExecutionResult.ExecutedSteps),
	)
	answer, err := r.analyzer.CompleteJSON(ctx,
		"reflect:success:"+trace.TraceID, prompt, reflectionSystemPrompt,
		modelclient.Options{}, llmanalyzer.SemanticOptions{})
	if err != nil {
		return nil, errs.Wrap(errs.ACEReflection, "reflecting on successful trace", err)
	}
	strategy, _ := answer["strategy"].(string)
	if strategy == "" {
		return nil, nil
	}
	return []Insight{{
		Content:      strategy,
		RelatedTools: trace.ToolsUsed,
		Example:      trace.TaskDescription,
	}}, nil
}

func (r *Reflector) reflectFailure(ctx context.Context, trace *executor.Trace, taskClass string, class Classification) ([]Insight, error) {
	fi := trace.ExecutionResult.FailureInfo
	var failingTool string
	for _, sd := range trace.StepDetails {
		if fi != nil && sd.StepID == fi.StepID {
			failingTool = sd.ToolMetadataSnapshot.Name
			break
		}
	}

	prompt := fmt.Sprintf(
		"Task class: %s\nTask: %s\nClassification: %s\nFailing step: %d\nFailing tool: %s\nError: %s\n\n"+
			"Describe, in one or two sentences, the error pattern to avoid so a future "+
			"plan for this task class does not repeat it. Respond with JSON: "+
			"{\"pattern\": \"...\"}.",
		taskClass, trace.TaskDescription, class, fi.StepID, failingTool, fi.Error,
	)
	answer, err := r.analyzer.CompleteJSON(ctx,
		"reflect:"+string(class)+":"+trace.TraceID, prompt, reflectionSystemPrompt,
		modelclient.Options{}, llmanalyzer.SemanticOptions{})
	if err != nil {
		return nil, errs.Wrap(errs.ACEReflection, "reflecting on failed trace", err)
	}
	pattern, _ := answer["pattern"].(string)
	if pattern == "" {
		pattern = fmt.Sprintf("%s at step %d (%s): %s", class, fi.StepID, failingTool, fi.Error)
	}
	related := trace.ToolsUsed
	if failingTool != "" {
		related = appendUnique(related, failingTool)
	}
	return []Insight{{
		Content:      pattern,
		RelatedTools: related,
		Example:      fi.Error,
	}}, nil
}

// ReflectQuality analyzes a successful trace's output quality for the
// step at stepID against an externally supplied complaint (e.g. user
// feedback that the result was wrong shaped or unhelpful), and proposes
// a rewritten prompt for that step's tool. The rewritten prompt is
// instructed never to introduce a new JSON shape: any output_schema the
// tool declares is the only contract the prompt may describe.
func (r *Reflector) ReflectQuality(ctx context.Context, trace *executor.Trace, stepID int, taskClass, complaint string) (Insight, error) {
	var detail *executor.StepDetail
	for i := range trace.StepDetails {
		if trace.StepDetails[i].StepID == stepID {
			detail = &trace.StepDetails[i]
			break
		}
	}
	if detail == nil {
		return Insight{}, errs.Newf(errs.ACEReflection, "quality analysis: step %d not found in trace %s", stepID, trace.TraceID).WithStep(stepID)
	}

	schema := "(tool declares no output schema)"
	if len(detail.ToolMetadataSnapshot.OutputSchema) > 0 {
		var pretty any
		if err := json.Unmarshal(detail.ToolMetadataSnapshot.OutputSchema, &pretty); err == nil {
			if b, err := json.MarshalIndent(pretty, "", "  "); err == nil {
				schema = string(b)
			}
		}
	}

	prompt := fmt.Sprintf(
		"Task class: %s\nTool: %s\nCurrent tool input: %v\nComplaint about the output: %s\n\n"+
			"The tool's declared output schema is:\n%s\n\n"+
			"Rewrite the instructions given to this tool so future runs address the "+
			"complaint. The rewritten prompt must not describe or imply any JSON shape "+
			"other than the schema above; it only adjusts tone, content, or emphasis. "+
			"Respond with JSON: {\"optimized_prompt\": \"...\", \"summary\": \"...\"}.",
		taskClass, detail.ToolMetadataSnapshot.Name, detail.ToolInput, complaint, schema,
	)
	answer, err := r.analyzer.CompleteJSON(ctx,
		"reflect:quality:"+trace.TraceID+":"+fmt.Sprint(stepID), prompt, reflectionSystemPrompt,
		modelclient.Options{}, llmanalyzer.SemanticOptions{})
	if err != nil {
		return Insight{}, errs.Wrap(errs.ACEReflection, "reflecting on quality issue", err)
	}
	optimized, _ := answer["optimized_prompt"].(string)
	summary, _ := answer["summary"].(string)
	if summary == "" {
		summary = fmt.Sprintf("prompt for %s adjusted in response to quality feedback", detail.ToolMetadataSnapshot.Name)
	}
	return Insight{
		Content:         summary,
		RelatedTools:    []string{detail.ToolMetadataSnapshot.Name},
		OptimizedPrompt: optimized,
		Example:         complaint,
	}, nil
}

const reflectionSystemPrompt = "You analyze workflow execution traces and respond only with the requested JSON object, no other text."

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
