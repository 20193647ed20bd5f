// Package taskmatcher implements exact and semantic lookup of reusable
// historical plans: TaskMatcher.FindExactPlan for a normalized-description
// match, FindSimilarPlans for vector-index-backed nearest neighbors, and
// SaveTaskMapping to persist a task record and upsert its vector index
// entry. Grounded on the teacher's runtime/registry/search.go SearchClient
// (filter-then-sort-by-relevance shape) adapted from registry search to
// task-record reuse.
package taskmatcher

import (
	"context"
	"path/filepath"
	"sort"

	"planscope/embedding"
	"planscope/plan"
	"planscope/storage"
	"planscope/telemetry"
)

// Matcher resolves past plans for reuse.
type Matcher struct {
	store  *storage.Manager
	embed  *embedding.Cache
	index  *embedding.VectorIndex
	logger telemetry.Logger
}

// New returns a Matcher.
func New(store *storage.Manager, embed *embedding.Cache, index *embedding.VectorIndex, logger telemetry.Logger) *Matcher {
	return &Matcher{store: store, embed: embed, index: index, logger: logger}
}

// FindExactPlan returns the task record whose normalized original query
// exactly matches description, preferring the live plan file over the
// task record's snapshot so external edits are honored. Only successful
// tasks are eligible for silent reuse.
func (m *Matcher) FindExactPlan(description string) (*plan.TaskRecord, bool, error) {
	normalized := storage.NormalizeTaskDescription(description)

	pattern := filepath.Join(m.store.Root(), "persistent", "tasks", "*.json")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, false, err
	}

	for _, path := range paths {
		var record plan.TaskRecord
		if err := m.store.LoadJSON(path, &record); err != nil {
			continue
		}
		if !record.Success {
			continue
		}
		if storage.NormalizeTaskDescription(record.Plan.OriginalQuery) != normalized {
			continue
		}
		if p, ok := m.freshestPlan(record); ok {
			record.Plan = p
		}
		return &record, true, nil
	}
	return nil, false, nil
}

func (m *Matcher) freshestPlan(record plan.TaskRecord) (plan.Plan, bool) {
	var p plan.Plan
	if err := m.store.LoadJSON(m.store.PlanPath(record.Plan.FlowID), &p); err != nil {
		return plan.Plan{}, false
	}
	return p, true
}

// SimilarMatch pairs a loaded task record with the similarity score that
// surfaced it.
type SimilarMatch struct {
	Record     plan.TaskRecord
	Similarity float64
}

// FindSimilarPlans embeds description, queries the vector index for up to
// topK candidates, filters by similarity >= threshold, and loads each
// candidate's full task record. Candidates whose backing file has gone
// missing are logged and skipped rather than failing the whole call.
func (m *Matcher) FindSimilarPlans(ctx context.Context, description string, threshold float64, topK int) ([]SimilarMatch, error) {
	vec, err := m.embed.Embed(ctx, description)
	if err != nil {
		return nil, err
	}
	matches, err := m.index.SearchSimilarTasks(ctx, vec, topK)
	if err != nil {
		return nil, err
	}

	out := make([]SimilarMatch, 0, len(matches))
	for _, candidate := range matches {
		if candidate.Similarity < threshold {
			continue
		}
		var record plan.TaskRecord
		if err := m.store.LoadJSON(m.store.TaskPath(candidate.TaskID), &record); err != nil {
			if m.logger != nil {
				m.logger.Warn(ctx, "task record missing for indexed flow", "flow_id", candidate.TaskID)
			}
			continue
		}
		out = append(out, SimilarMatch{Record: record, Similarity: candidate.Similarity})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// ListTaskHistory returns up to limit persisted task records, most recently
// created first. limit <= 0 returns every record on file.
func (m *Matcher) ListTaskHistory(limit int) ([]plan.TaskRecord, error) {
	paths, err := m.store.ListFiles(m.store.TasksDir(), "*.json")
	if err != nil {
		return nil, err
	}

	records := make([]plan.TaskRecord, 0, len(paths))
	for _, path := range paths {
		var record plan.TaskRecord
		if err := m.store.LoadJSON(path, &record); err != nil {
			if m.logger != nil {
				m.logger.Warn(context.Background(), "skipping unreadable task record", "path", path, "error", err)
			}
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Plan.CreatedAt.After(records[j].Plan.CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// SaveTaskMapping persists the task record and asynchronously upserts the
// vector index entry with a small metadata envelope.
func (m *Matcher) SaveTaskMapping(ctx context.Context, record plan.TaskRecord) error {
	if err := m.store.SaveJSON(m.store.TaskPath(record.Plan.FlowID), record); err != nil {
		return err
	}

	// The background upsert must outlive the calling request: ctx is
	// typically a per-session context the caller cancels once the request
	// completes, which would otherwise race the goroutine's first network
	// call.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		vec, err := m.embed.Embed(bgCtx, record.Plan.OriginalQuery)
		if err != nil {
			if m.logger != nil {
				m.logger.Warn(bgCtx, "embedding task for vector index failed", "flow_id", record.Plan.FlowID, "error", err)
			}
			return
		}
		metadata := map[string]any{
			"success":          record.Success,
			"created_at":       record.Plan.CreatedAt,
			"steps_count":      len(record.Plan.Steps),
			"complexity_level": record.Plan.ComplexityLevel,
		}
		if err := m.index.AddTask(bgCtx, record.Plan.FlowID, vec, metadata); err != nil && m.logger != nil {
			m.logger.Warn(bgCtx, "vector index upsert failed", "flow_id", record.Plan.FlowID, "error", err)
		}
	}()
	return nil
}
