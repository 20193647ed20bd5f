package tools

import (
	"context"
	"sync"

	"planscope/errs"
)

// Handle is the callable a registry entry exposes for tool execution.
type Handle func(ctx context.Context, input map[string]any) (map[string]any, error)

// Entry pairs immutable metadata with its callable handle.
type Entry struct {
	Metadata Metadata
	Handle   Handle
}

// Pool holds every tool the host has advertised, validated at insertion.
// The pool survives across sessions; only the Registry subset is cleared.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewPool returns an empty Pool.
func NewPool() *Pool {
	return &Pool{entries: make(map[string]Entry)}
}

// Add validates metadata and registers the tool under its name. Validation
// failures are returned, never silently tolerated: a tool with incomplete
// metadata is a programming error upstream.
func (p *Pool) Add(metadata Metadata, handle Handle) error {
	if err := metadata.Validate(); err != nil {
		return err
	}
	if handle == nil {
		return errs.Newf(errs.ToolNotFound, "tool %q: handle is required", metadata.Name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[metadata.Name] = Entry{Metadata: metadata, Handle: handle}
	return nil
}

// Get returns the pool entry for name.
func (p *Pool) Get(name string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[name]
	return e, ok
}

// All returns every pool entry, in no particular order.
func (p *Pool) All() []Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}

// Registry is the subset of the pool currently eligible for planning and
// execution. A tool enters the registry either when recommended for a
// specific request or when required by a reused plan.
type Registry struct {
	mu      sync.RWMutex
	pool    *Pool
	entries map[string]Entry
}

// NewRegistry returns an empty Registry backed by pool.
func NewRegistry(pool *Pool) *Registry {
	return &Registry{pool: pool, entries: make(map[string]Entry)}
}

// Enable copies the named pool entry into the registry, failing if the
// tool was never added to the pool.
func (r *Registry) Enable(name string) error {
	entry, ok := r.pool.Get(name)
	if !ok {
		return errs.Newf(errs.ToolNotFound, "tool %q is not in the pool", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry
	return nil
}

// Get returns the registry entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// All returns every registry entry, in no particular order.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Clear empties the registry. The pool is unaffected.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
}
