package ace

import (
	"time"

	"planscope/storage"
)

// ChainEntryKind enumerates the reflection chain's typed entries.
type ChainEntryKind string

const (
	ChainPlanGeneration       ChainEntryKind = "plan_generation"
	ChainPlanGenerationResult ChainEntryKind = "plan_generation_result"
	ChainToolExecution        ChainEntryKind = "tool_execution"
	ChainToolExecutionResult  ChainEntryKind = "tool_execution_result"
	ChainQualityAnalysis      ChainEntryKind = "quality_analysis"
	ChainQualityAnalysisResult ChainEntryKind = "quality_analysis_result"
	ChainPromptOptimization   ChainEntryKind = "prompt_optimization"
)

// ChainEntry is one append-only record in a reflection chain.
type ChainEntry struct {
	Kind      ChainEntryKind `json:"kind"`
	InputData any            `json:"input_data,omitempty"`
	OutputData any           `json:"output_data,omitempty"`
	ModelInfo string         `json:"model_info,omitempty"`
	Analysis  string         `json:"analysis,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type chainFile struct {
	Entries []ChainEntry `json:"entries"`
}

// Chain manages one plan's append-only reflection chain, co-terminous
// with the plan that owns it.
type Chain struct {
	store *storage.Manager
	id    string
}

// NewChain returns a Chain handle for chainID.
func NewChain(store *storage.Manager, chainID string) *Chain {
	return &Chain{store: store, id: chainID}
}

// Append adds entry to the chain, persisting immediately.
func (c *Chain) Append(entry ChainEntry) error {
	entry.Timestamp = time.Now()
	var f chainFile
	if err := c.store.LoadJSON(c.store.ReflectionChainPath(c.id), &f); err != nil && err != storage.ErrNotFound {
		return err
	}
	f.Entries = append(f.Entries, entry)
	return c.store.SaveJSON(c.store.ReflectionChainPath(c.id), f)
}

// Entries returns every entry appended to the chain so far.
func (c *Chain) Entries() ([]ChainEntry, error) {
	var f chainFile
	if err := c.store.LoadJSON(c.store.ReflectionChainPath(c.id), &f); err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return f.Entries, nil
}

// Summary is a flattened, display-ready view of one chain entry for an
// external renderer. The core does not render reflection chains itself
// (Non-goal); this is the stable data contract a renderer builds on.
type Summary struct {
	Kind      ChainEntryKind `json:"kind"`
	Short     string         `json:"short"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChainSummary returns a flattened, display-ready summary of chainID's
// entries: type, a short human-readable description, and timestamp.
func ChainSummary(store *storage.Manager, chainID string) ([]Summary, error) {
	c := NewChain(store, chainID)
	entries, err := c.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		short := e.Analysis
		if short == "" {
			short = string(e.Kind)
		}
		out = append(out, Summary{Kind: e.Kind, Short: short, Timestamp: e.Timestamp})
	}
	return out, nil
}
