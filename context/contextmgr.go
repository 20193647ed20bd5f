// Package context (directory "context", package name contextmgr to avoid
// shadowing the standard library's context package at import sites)
// implements the ACE context store: typed entries persisted per task
// class, retrieval scored by similarity and feedback weight, and
// maintenance operations (MarkUseful/MarkHarmful, pruning). Grounded on
// the teacher's runtime/registry/search.go for the filter-then-rank-then-
// truncate retrieval shape.
package contextmgr

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"planscope/embedding"
	"planscope/llmanalyzer"
	"planscope/modelclient"
	"planscope/storage"
)

// EntryType classifies a context entry's role in future planning.
type EntryType string

const (
	TypeStrategy     EntryType = "strategy"
	TypeKnowledge    EntryType = "knowledge"
	TypeErrorPattern EntryType = "error_pattern"
	TypeToolUsage    EntryType = "tool_usage"
)

// Source records how an entry came to exist.
type Source string

const (
	SourceAuto           Source = "auto"
	SourceUserMemory     Source = "user_memory"
	SourceQualityFeedback Source = "quality_feedback"
)

// Metadata is an entry's bookkeeping: usage counts, derived score, and
// the tools/tasks it relates to.
type Metadata struct {
	CreatedAt      time.Time `json:"created_at"`
	LastUsed       time.Time `json:"last_used"`
	UsefulCount    int       `json:"useful_count"`
	HarmfulCount   int       `json:"harmful_count"`
	Score          int       `json:"score"`
	RelatedTools   []string  `json:"related_tools,omitempty"`
	RelatedTasks   []string  `json:"related_tasks,omitempty"`
	Source         Source    `json:"source"`
	OptimizedPrompt string   `json:"optimized_prompt,omitempty"`
}

// Entry is one unit of distilled experience fed back into planning.
type Entry struct {
	EntryID  string    `json:"entry_id"`
	Type     EntryType `json:"type"`
	Content  string    `json:"content"`
	Metadata Metadata  `json:"metadata"`
	Examples []string  `json:"examples,omitempty"`
}

// Options configures retention and retrieval defaults.
type Options struct {
	TopK                int
	MaxEntriesPerClass  int
	PruneScoreThreshold int
}

// Manager owns the per-task-class entry files.
type Manager struct {
	store    *storage.Manager
	embed    *embedding.Cache
	analyzer *llmanalyzer.Analyzer
	opts     Options
}

// New returns a Manager.
func New(store *storage.Manager, embed *embedding.Cache, analyzer *llmanalyzer.Analyzer, opts Options) *Manager {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.MaxEntriesPerClass <= 0 {
		opts.MaxEntriesPerClass = 100
	}
	if opts.PruneScoreThreshold == 0 {
		opts.PruneScoreThreshold = -3
	}
	return &Manager{store: store, embed: embed, analyzer: analyzer, opts: opts}
}

type classFile struct {
	Entries []Entry `json:"entries"`
}

// DeriveTaskClass classifies description into a task class string (e.g.
// "chat_analysis-wechat_extraction"), caching the model call by the
// normalized description so repeated requests for the same task reuse the
// classification.
func (m *Manager) DeriveTaskClass(ctx context.Context, description string) (string, error) {
	normalized := storage.NormalizeTaskDescription(description)
	answer, err := m.analyzer.CompleteJSON(ctx,
		"task_class:"+normalized,
		taskClassPrompt(description),
		taskClassSystemPrompt,
		modelclient.Options{},
		llmanalyzer.SemanticOptions{},
	)
	if err != nil {
		return "", err
	}
	class, _ := answer["task_class"].(string)
	if class == "" {
		return "general-uncategorized", nil
	}
	return class, nil
}

const taskClassSystemPrompt = "Classify the task into a `category-subcategory` task class string. " +
	"Respond with a single JSON object: {\"task_class\": \"category-subcategory\"}."

func taskClassPrompt(description string) string {
	return "Task description:\n" + description
}

// NewEntry returns an Entry with a fresh ID and CreatedAt/LastUsed set to
// now, ready for the Curator to persist via Save.
func NewEntry(entryType EntryType, content string, source Source) Entry {
	now := time.Now()
	return Entry{
		EntryID: uuid.New().String(),
		Type:    entryType,
		Content: content,
		Metadata: Metadata{
			CreatedAt: now,
			LastUsed:  now,
			Source:    source,
		},
	}
}

// Load returns every entry persisted for taskClass.
func (m *Manager) Load(taskClass string) ([]Entry, error) {
	var f classFile
	if err := m.store.LoadJSON(m.store.ContextPath(taskClass), &f); err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return f.Entries, nil
}

// Save persists entries for taskClass, applying the retention cap
// (highest score first) before writing.
func (m *Manager) Save(taskClass string, entries []Entry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Metadata.Score > entries[j].Metadata.Score })
	if len(entries) > m.opts.MaxEntriesPerClass {
		entries = entries[:m.opts.MaxEntriesPerClass]
	}
	return m.store.SaveJSON(m.store.ContextPath(taskClass), classFile{Entries: entries})
}

// Scored pairs a retrieved entry with the score that ranked it.
type Scored struct {
	Entry Entry
	Score float64
}

// RetrieveRelevant derives description's task class, scores every entry
// in that class by 0.7*similarity + 0.3*feedback_weight, and returns the
// top_k highest-scoring entries.
func (m *Manager) RetrieveRelevant(ctx context.Context, description string, topK int) ([]Scored, error) {
	if topK <= 0 {
		topK = m.opts.TopK
	}
	taskClass, err := m.DeriveTaskClass(ctx, description)
	if err != nil {
		return nil, err
	}
	entries, err := m.Load(taskClass)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	queryVec, err := m.embed.Embed(ctx, description)
	if err != nil {
		return nil, err
	}

	// Embedding each entry's content can mean a cache miss round-trip to
	// the model; scoring bounds this fan-out to entryFetchConcurrency
	// workers instead of paying the latency of len(entries) calls
	// sequentially, mirroring the worker-pool shape spec's concurrency
	// section calls for.
	var (
		mu     sync.Mutex
		scored = make([]Scored, 0, len(entries))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(entryFetchConcurrency)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			entryVec, err := m.embed.Embed(gctx, contentPrefix(e.Content))
			if err != nil {
				return nil // a single entry's embedding failure doesn't abort retrieval
			}
			similarity := embedding.CosineSimilarity(queryVec, entryVec)
			weight := feedbackWeight(e.Metadata.UsefulCount, e.Metadata.HarmfulCount)
			score := 0.7*similarity + 0.3*weight
			mu.Lock()
			scored = append(scored, Scored{Entry: e, Score: score})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// entryFetchConcurrency bounds concurrent embedding lookups during
// RetrieveRelevant's scoring pass.
const entryFetchConcurrency = 8

const contentPrefixLen = 200

func contentPrefix(content string) string {
	r := []rune(content)
	if len(r) <= contentPrefixLen {
		return content
	}
	return string(r[:contentPrefixLen])
}

// feedbackWeight maps (useful, harmful) counts to [0, 1], defaulting to
// 0.5 when there is no feedback yet.
func feedbackWeight(useful, harmful int) float64 {
	if useful+harmful == 0 {
		return 0.5
	}
	raw := float64(useful-harmful) / float64(useful+harmful+1)
	return (raw + 1) / 2
}

// MarkUseful increments an entry's useful count and recomputes its score.
func (m *Manager) MarkUseful(taskClass, entryID string) error {
	return m.adjust(taskClass, entryID, func(e *Entry) { e.Metadata.UsefulCount++ })
}

// MarkHarmful increments an entry's harmful count and recomputes its score.
func (m *Manager) MarkHarmful(taskClass, entryID string) error {
	return m.adjust(taskClass, entryID, func(e *Entry) { e.Metadata.HarmfulCount++ })
}

func (m *Manager) adjust(taskClass, entryID string, apply func(*Entry)) error {
	entries, err := m.Load(taskClass)
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].EntryID == entryID {
			apply(&entries[i])
			entries[i].Metadata.Score = entries[i].Metadata.UsefulCount - entries[i].Metadata.HarmfulCount
			entries[i].Metadata.LastUsed = time.Now()
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("context: entry %q not found in class %q", entryID, taskClass)
	}
	return m.Save(taskClass, entries)
}

// Prune removes entries scoring below the configured threshold from every
// persisted task class. Callers run this as periodic maintenance.
func (m *Manager) Prune() error {
	pattern := filepath.Join(m.store.Root(), "persistent", "ace_knowledge", "contexts", "*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, path := range paths {
		var f classFile
		if err := m.store.LoadJSON(path, &f); err != nil {
			continue
		}
		kept := f.Entries[:0]
		for _, e := range f.Entries {
			if e.Metadata.Score >= m.opts.PruneScoreThreshold {
				kept = append(kept, e)
			}
		}
		if err := m.store.SaveJSON(path, classFile{Entries: kept}); err != nil {
			return err
		}
	}
	return nil
}
