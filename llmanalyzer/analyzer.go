// Package llmanalyzer wraps modelclient.Client.CompleteJSON with a
// two-level cache: an exact cache keyed by a caller-supplied key, and an
// opt-in semantic cache that reuses a prior answer when the incoming
// prompt is close enough, by cosine distance, to one already answered.
// Grounded on the teacher's runtime/registry/cache.go MemoryCache for the
// mutex-guarded map and age/size hygiene shape.
package llmanalyzer

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"planscope/embedding"
	"planscope/modelclient"
	"planscope/storage"
)

// Options configures cache hygiene and semantic-cache behavior.
type Options struct {
	// MaxAge evicts an entry once it has not been accessed for this long.
	MaxAge time.Duration
	// MaxEntries bounds the exact cache; past this size, least-recently
	// accessed entries are evicted first.
	MaxEntries int
	// SemanticThreshold is the default cosine-similarity threshold for
	// semantic cache hits when a call does not override it.
	SemanticThreshold float64
}

// SemanticOptions configures a single CompleteJSON call's semantic reuse.
type SemanticOptions struct {
	// Enabled turns on semantic cache lookup for this call.
	Enabled bool
	// Threshold overrides Options.SemanticThreshold when non-zero.
	Threshold float64
}

type entry struct {
	CacheKey   string         `json:"cache_key"`
	Prompt     string         `json:"prompt"`
	Answer     map[string]any `json:"answer"`
	CreatedAt  time.Time      `json:"created_at"`
	LastAccess time.Time      `json:"last_access"`
}

// Analyzer is the two-level cache wrapping a modelclient.Client.
type Analyzer struct {
	mu      sync.Mutex
	client  modelclient.Client
	store   *storage.Manager
	embed   *embedding.Cache
	opts    Options
	entries map[string]*entry // cache_key -> entry, in-memory mirror of disk
}

// New builds an Analyzer, loading any previously persisted cache entries
// from store so warm restarts keep their hit rate.
func New(client modelclient.Client, store *storage.Manager, embed *embedding.Cache, opts Options) (*Analyzer, error) {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * 24 * time.Hour
	}
	if opts.SemanticThreshold <= 0 {
		opts.SemanticThreshold = 0.95
	}
	a := &Analyzer{client: client, store: store, embed: embed, opts: opts, entries: make(map[string]*entry)}
	if err := a.loadAll(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Analyzer) loadAll() error {
	pattern := filepath.Join(a.store.Root(), "cache", "llm", "*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	for _, path := range matches {
		if filepath.Base(path) == "embeddings.json" {
			continue
		}
		var e entry
		if err := a.store.LoadJSON(path, &e); err != nil {
			continue // corrupt or transient entry, skip rather than fail startup
		}
		a.entries[e.CacheKey] = &e
	}
	return nil
}

// CompleteJSON resolves cacheKey against the exact cache, then (if sem is
// enabled) the semantic cache, calling the model only on a double miss.
func (a *Analyzer) CompleteJSON(ctx context.Context, cacheKey, prompt, systemPrompt string, modelOpts modelclient.Options, sem SemanticOptions) (map[string]any, error) {
	if v, ok := a.getExact(cacheKey); ok {
		return v, nil
	}

	if sem.Enabled {
		threshold := sem.Threshold
		if threshold <= 0 {
			threshold = a.opts.SemanticThreshold
		}
		if v, ok, err := a.lookupSemantic(ctx, prompt, threshold); err != nil {
			return nil, err
		} else if ok {
			a.put(cacheKey, prompt, v)
			return v, nil
		}
	}

	answer, err := a.client.CompleteJSON(ctx, prompt, systemPrompt, modelOpts)
	if err != nil {
		return nil, err
	}
	a.put(cacheKey, prompt, answer)

	if _, err := a.embed.Embed(ctx, prompt); err != nil {
		// The answer is already cached under cacheKey; losing the
		// embedding only degrades future semantic reuse, not this call.
		return answer, nil
	}
	return answer, nil
}

func (a *Analyzer) getExact(cacheKey string) (map[string]any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[cacheKey]
	if !ok {
		return nil, false
	}
	e.LastAccess = time.Now()
	go a.store.SaveJSON(a.store.LLMCachePath(cacheKey), e) //nolint:errcheck
	return e.Answer, true
}

func (a *Analyzer) lookupSemantic(ctx context.Context, prompt string, threshold float64) (map[string]any, bool, error) {
	vec, err := a.embed.Embed(ctx, prompt)
	if err != nil {
		return nil, false, err
	}

	a.mu.Lock()
	candidates := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		candidates = append(candidates, e)
	}
	a.mu.Unlock()

	var best *entry
	var bestScore float64
	for _, e := range candidates {
		cvec, err := a.embed.Embed(ctx, e.Prompt)
		if err != nil {
			continue
		}
		score := embedding.CosineSimilarity(vec, cvec)
		if score >= threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best.Answer, true, nil
}

func (a *Analyzer) put(cacheKey, prompt string, answer map[string]any) {
	now := time.Now()
	e := &entry{CacheKey: cacheKey, Prompt: prompt, Answer: answer, CreatedAt: now, LastAccess: now}

	a.mu.Lock()
	a.entries[cacheKey] = e
	a.mu.Unlock()

	a.store.SaveJSON(a.store.LLMCachePath(cacheKey), e) //nolint:errcheck
}

// Evict removes entries untouched for longer than MaxAge, then trims the
// remainder to MaxEntries by least-recently-accessed order. Callers run
// this periodically; it is not invoked automatically.
func (a *Analyzer) Evict() {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	for key, e := range a.entries {
		if now.Sub(e.LastAccess) > a.opts.MaxAge {
			delete(a.entries, key)
			a.store.Delete(a.store.LLMCachePath(key)) //nolint:errcheck
		}
	}

	if a.opts.MaxEntries <= 0 || len(a.entries) <= a.opts.MaxEntries {
		return
	}
	ordered := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].LastAccess.Before(ordered[j].LastAccess) })
	overflow := len(ordered) - a.opts.MaxEntries
	for _, e := range ordered[:overflow] {
		delete(a.entries, e.CacheKey)
		a.store.Delete(a.store.LLMCachePath(e.CacheKey)) //nolint:errcheck
	}
}
