package ace

import (
	"testing"

	"github.com/stretchr/testify/require"

	contextmgr "planscope/context"
)

func newTestManager(t *testing.T) *contextmgr.Manager {
	t.Helper()
	return contextmgr.New(newTestStore(t), nil, nil, contextmgr.Options{})
}

func TestCurateSuccessAddsStrategyAndToolUsageEntries(t *testing.T) {
	mgr := newTestManager(t)
	curator := NewCurator(mgr)

	insight := Insight{Content: "run search before summarize", RelatedTools: []string{"search", "summarize"}}
	require.NoError(t, curator.Curate("research-general", ClassSuccess, []Insight{insight}))

	entries, err := mgr.Load("research-general")
	require.NoError(t, err)

	var strategies, toolUsages int
	for _, e := range entries {
		switch e.Type {
		case contextmgr.TypeStrategy:
			strategies++
			require.Equal(t, 1, e.Metadata.Score)
			require.Equal(t, 1, e.Metadata.UsefulCount)
		case contextmgr.TypeToolUsage:
			toolUsages++
		}
	}
	require.Equal(t, 1, strategies)
	require.Equal(t, 2, toolUsages)
}

func TestCurateFailureAddsErrorPatternWithNegativeScore(t *testing.T) {
	mgr := newTestManager(t)
	curator := NewCurator(mgr)

	insight := Insight{Content: "tool times out on large inputs", RelatedTools: []string{"fetch"}}
	require.NoError(t, curator.Curate("ingest-csv", ClassToolFailure, []Insight{insight}))

	entries, err := mgr.Load("ingest-csv")
	require.NoError(t, err)
	require.Len(t, entries, 2) // error_pattern + tool_usage

	for _, e := range entries {
		if e.Type == contextmgr.TypeErrorPattern {
			require.Equal(t, -1, e.Metadata.Score)
			require.Equal(t, 1, e.Metadata.HarmfulCount)
		}
	}
}

func TestCurateDedupesNearDuplicateInsights(t *testing.T) {
	mgr := newTestManager(t)
	curator := NewCurator(mgr)

	first := Insight{Content: "always validate tool output before the next step"}
	second := Insight{Content: "always validate the tool's output before the next step"}

	require.NoError(t, curator.Curate("general-uncategorized", ClassSuccess, []Insight{first}))
	require.NoError(t, curator.Curate("general-uncategorized", ClassSuccess, []Insight{second}))

	entries, err := mgr.Load("general-uncategorized")
	require.NoError(t, err)

	var strategies int
	for _, e := range entries {
		if e.Type == contextmgr.TypeStrategy {
			strategies++
		}
	}
	require.Equal(t, 1, strategies, "near-duplicate insight should merge into the existing entry, not create a second one")
}

func TestCurateQualityIssueUpdatesOptimizedPrompt(t *testing.T) {
	mgr := newTestManager(t)
	curator := NewCurator(mgr)

	// Seed a tool_usage entry the quality-issue insight should attach to.
	require.NoError(t, curator.Curate("summarize-report", ClassSuccess, []Insight{
		{Content: "summarize worked well", RelatedTools: []string{"summarize"}},
	}))

	require.NoError(t, curator.Curate("summarize-report", ClassQualityIssue, []Insight{
		{Content: "output was too verbose", RelatedTools: []string{"summarize"}, OptimizedPrompt: "Summarize in under 3 sentences."},
	}))

	entries, err := mgr.Load("summarize-report")
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Type == contextmgr.TypeToolUsage && e.Metadata.OptimizedPrompt != "" {
			found = true
			require.Equal(t, "Summarize in under 3 sentences.", e.Metadata.OptimizedPrompt)
			require.Equal(t, contextmgr.SourceQualityFeedback, e.Metadata.Source)
		}
	}
	require.True(t, found)
}

func TestCurateNoInsightsIsNoop(t *testing.T) {
	mgr := newTestManager(t)
	curator := NewCurator(mgr)
	require.NoError(t, curator.Curate("empty-class", ClassSuccess, nil))

	entries, err := mgr.Load("empty-class")
	require.NoError(t, err)
	require.Empty(t, entries)
}
