package ace

import (
	"time"

	contextmgr "planscope/context"
	"planscope/errs"
)

func touchNow(e *contextmgr.Entry) {
	e.Metadata.LastUsed = time.Now()
}

// dedupeThreshold is the character-ratio similarity above which a new
// insight is considered a restatement of an existing entry rather than
// a distinct one.
const dedupeThreshold = 0.85

// Curator turns Reflector insights into persisted contextmgr.Entry
// values, deduplicating against what is already on file for the task
// class before writing.
type Curator struct {
	ctx *contextmgr.Manager
}

// NewCurator returns a Curator.
func NewCurator(ctx *contextmgr.Manager) *Curator {
	return &Curator{ctx: ctx}
}

// Curate folds insights (as produced by Reflector.Reflect for the given
// classification) into taskClass's entries and persists the result.
// Failures yield error_pattern entries, successes yield strategy
// entries, both also recording a tool_usage entry per related tool so
// future tool recommendation can weigh by track record. Quality-issue
// insights instead update or create a tool_usage entry carrying the
// rewritten prompt.
func (c *Curator) Curate(taskClass string, class Classification, insights []Insight) error {
	if len(insights) == 0 {
		return nil
	}

	existing, err := c.ctx.Load(taskClass)
	if err != nil {
		return errs.Wrap(errs.ACECuration, "loading existing entries for curation", err)
	}

	for _, insight := range insights {
		switch class {
		case ClassWorkflowFailure, ClassToolFailure, ClassMixed:
			existing = mergeInsight(existing, insight, contextmgr.TypeErrorPattern, -1, 1, 0)
			for _, toolName := range insight.RelatedTools {
				existing = mergeInsight(existing, toolInsight(toolName, insight.Content), contextmgr.TypeToolUsage, -1, 1, 0)
			}
		case ClassSuccess:
			existing = mergeInsight(existing, insight, contextmgr.TypeStrategy, 1, 0, 1)
			for _, toolName := range insight.RelatedTools {
				existing = mergeInsight(existing, toolInsight(toolName, insight.Content), contextmgr.TypeToolUsage, 1, 0, 1)
			}
		case ClassQualityIssue:
			existing = mergeOptimizedPrompt(existing, insight)
		}
	}

	if err := c.ctx.Save(taskClass, existing); err != nil {
		return errs.Wrap(errs.ACECuration, "saving curated entries", err)
	}
	return nil
}

func toolInsight(toolName, content string) Insight {
	return Insight{Content: toolName + ": " + content, RelatedTools: []string{toolName}}
}

// mergeInsight dedupes insight.Content against existing entries of
// entryType using ratioSimilarity; a match at or above dedupeThreshold
// bumps that entry's usage counters and last_used instead of cloning a
// near-duplicate. A tool_usage insight only merges into an entry for the
// same tool. No match appends a freshly minted entry.
func mergeInsight(existing []contextmgr.Entry, insight Insight, entryType contextmgr.EntryType, scoreDelta, harmfulDelta, usefulDelta int) []contextmgr.Entry {
	for i := range existing {
		e := &existing[i]
		if e.Type != entryType {
			continue
		}
		if entryType == contextmgr.TypeToolUsage && len(insight.RelatedTools) > 0 && !containsTool(e.Metadata.RelatedTools, insight.RelatedTools[0]) {
			continue
		}
		if ratioSimilarity(e.Content, insight.Content) >= dedupeThreshold {
			e.Metadata.UsefulCount += usefulDelta
			e.Metadata.HarmfulCount += harmfulDelta
			e.Metadata.Score += scoreDelta
			e.Metadata.RelatedTools = mergeUnique(e.Metadata.RelatedTools, insight.RelatedTools)
			touchNow(e)
			return existing
		}
	}

	entry := contextmgr.NewEntry(entryType, insight.Content, contextmgr.SourceAuto)
	entry.Metadata.RelatedTools = insight.RelatedTools
	entry.Metadata.Score = scoreDelta
	entry.Metadata.UsefulCount = usefulDelta
	entry.Metadata.HarmfulCount = harmfulDelta
	if insight.Example != "" {
		entry.Examples = []string{insight.Example}
	}
	return append(existing, entry)
}

// mergeOptimizedPrompt dedupes a quality-issue insight against existing
// tool_usage entries for the same tool, overwriting the optimized prompt
// on a match rather than appending a second entry for the same tool.
func mergeOptimizedPrompt(existing []contextmgr.Entry, insight Insight) []contextmgr.Entry {
	toolName := ""
	if len(insight.RelatedTools) > 0 {
		toolName = insight.RelatedTools[0]
	}
	for i := range existing {
		e := &existing[i]
		if e.Type != contextmgr.TypeToolUsage {
			continue
		}
		if containsTool(e.Metadata.RelatedTools, toolName) {
			e.Metadata.OptimizedPrompt = insight.OptimizedPrompt
			e.Metadata.Source = contextmgr.SourceQualityFeedback
			e.Content = insight.Content
			touchNow(e)
			return existing
		}
	}

	entry := contextmgr.NewEntry(contextmgr.TypeToolUsage, insight.Content, contextmgr.SourceQualityFeedback)
	entry.Metadata.RelatedTools = insight.RelatedTools
	entry.Metadata.OptimizedPrompt = insight.OptimizedPrompt
	if insight.Example != "" {
		entry.Examples = []string{insight.Example}
	}
	return append(existing, entry)
}

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}

func mergeUnique(base, add []string) []string {
	for _, a := range add {
		found := false
		for _, b := range base {
			if b == a {
				found = true
				break
			}
		}
		if !found {
			base = append(base, a)
		}
	}
	return base
}
