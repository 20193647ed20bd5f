// Package promptcache implements per-flow_id prompt memoization: which
// prompt was used for a tool, who generated it, and how well it performed,
// so PlanGenerator's prompt-injection passes can reuse a prior prompt
// instead of asking the model again. Grounded on the teacher's
// runtime/registry/cache.go for the persisted-map-with-hygiene shape.
package promptcache

import (
	"path/filepath"
	"time"

	"planscope/storage"
)

// Generator identifies who produced a cached prompt.
type Generator string

const (
	GeneratorLLM    Generator = "llm"
	GeneratorACE    Generator = "ace"
	GeneratorManual Generator = "manual"
)

// Record is one tool's cached prompt within a flow.
type Record struct {
	Prompt         string    `json:"prompt"`
	Generator      Generator `json:"generator"`
	GeneratedAt    time.Time `json:"generated_at"`
	LastUsed       time.Time `json:"last_used"`
	UsageCount     int       `json:"usage_count"`
	QualityScore   float64   `json:"quality_score"`
	OptimizedByACE bool      `json:"optimized_by_ace"`
}

type flowFile struct {
	Tools map[string]Record `json:"tools"`
}

// Manager scopes prompt records by flow_id.
type Manager struct {
	store             *storage.Manager
	inactivityWindow  time.Duration
}

// Options configures garbage collection.
type Options struct {
	// InactivityWindow is how long a flow's prompt cache may go untouched
	// before GC removes it.
	InactivityWindow time.Duration
}

// New returns a Manager.
func New(store *storage.Manager, opts Options) *Manager {
	window := opts.InactivityWindow
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	return &Manager{store: store, inactivityWindow: window}
}

func (m *Manager) path(flowID string) string {
	return filepath.Join(m.store.PromptDir(flowID), "prompts.json")
}

func (m *Manager) load(flowID string) (flowFile, error) {
	var f flowFile
	if err := m.store.LoadJSON(m.path(flowID), &f); err != nil {
		if err == storage.ErrNotFound {
			return flowFile{Tools: make(map[string]Record)}, nil
		}
		return flowFile{}, err
	}
	if f.Tools == nil {
		f.Tools = make(map[string]Record)
	}
	return f, nil
}

// GetCached returns the cached prompt for tool within flowID, if any.
func (m *Manager) GetCached(flowID, tool string) (Record, bool, error) {
	f, err := m.load(flowID)
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := f.Tools[tool]
	return rec, ok, nil
}

// Save stores (or overwrites) the prompt cached for tool within flowID.
func (m *Manager) Save(flowID, tool, prompt string, generator Generator, optimizedByACE bool) error {
	f, err := m.load(flowID)
	if err != nil {
		return err
	}
	now := time.Now()
	f.Tools[tool] = Record{
		Prompt:         prompt,
		Generator:      generator,
		GeneratedAt:    now,
		LastUsed:       now,
		OptimizedByACE: optimizedByACE,
	}
	return m.store.SaveJSON(m.path(flowID), f)
}

// UpdateUsage records one more use of tool's cached prompt within flowID.
// duration is accepted for parity with the usage-stat shape but is not
// itself persisted per entry; callers wanting duration history should
// route it through the execution trace instead.
func (m *Manager) UpdateUsage(flowID, tool string, success bool, duration time.Duration) error {
	f, err := m.load(flowID)
	if err != nil {
		return err
	}
	rec, ok := f.Tools[tool]
	if !ok {
		return nil
	}
	rec.UsageCount++
	rec.LastUsed = time.Now()
	f.Tools[tool] = rec
	return m.store.SaveJSON(m.path(flowID), f)
}

// UpdatePrompt overwrites tool's cached prompt, attributing the change to
// a manual edit.
func (m *Manager) UpdatePrompt(flowID, tool, newPrompt string) error {
	return m.Save(flowID, tool, newPrompt, GeneratorManual, false)
}

// UpdateQualityScore records a quality score against tool's cached prompt,
// e.g. after a Reflector quality_issue pass proposes a rewrite.
func (m *Manager) UpdateQualityScore(flowID, tool string, score float64) error {
	f, err := m.load(flowID)
	if err != nil {
		return err
	}
	rec, ok := f.Tools[tool]
	if !ok {
		return nil
	}
	rec.QualityScore = score
	f.Tools[tool] = rec
	return m.store.SaveJSON(m.path(flowID), f)
}

// GC deletes the prompts.json file of every per-flow prompt cache whose
// newest record is older than the configured inactivity window; the
// emptied flow directory itself is left in place.
func (m *Manager) GC() error {
	pattern := filepath.Join(m.store.Root(), "cache", "prompts", "*")
	dirs, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-m.inactivityWindow)
	for _, dir := range dirs {
		flowID := filepath.Base(dir)
		f, err := m.load(flowID)
		if err != nil {
			continue
		}
		if newestUse(f) != nil && newestUse(f).After(cutoff) {
			continue
		}
		if err := m.store.Delete(m.path(flowID)); err != nil {
			return err
		}
	}
	return nil
}

func newestUse(f flowFile) *time.Time {
	var latest time.Time
	found := false
	for _, rec := range f.Tools {
		if !found || rec.LastUsed.After(latest) {
			latest, found = rec.LastUsed, true
		}
	}
	if !found {
		return nil
	}
	return &latest
}
