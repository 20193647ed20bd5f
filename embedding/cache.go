// Package embedding provides the embedding cache and similarity substrate
// shared by the context manager, the task matcher, and the LLM analyzer:
// a persisted text->vector cache plus a Redis-backed vector index searched
// by client-side cosine distance.
package embedding

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"

	"planscope/modelclient"
	"planscope/storage"
)

// Cache memoizes Embed calls by the exact text embedded, persisting the
// map to disk so restarts do not re-pay embedding cost for previously seen
// text. Grounded on the teacher's registry.MemoryCache: an RWMutex-guarded
// map with a dedicated load/flush path, simplified here since embeddings
// never expire (only cache hygiene, driven by the caller, removes entries).
type Cache struct {
	mu      sync.RWMutex
	store   *storage.Manager
	client  modelclient.Client
	vectors map[string][]float32 // keyed by md5(text)
	dirty   bool
}

type diskFormat struct {
	Vectors map[string][]float32 `json:"vectors"`
}

// NewCache loads any persisted vectors from store and returns a Cache that
// embeds cache misses via client.
func NewCache(store *storage.Manager, client modelclient.Client) (*Cache, error) {
	c := &Cache{store: store, client: client, vectors: make(map[string][]float32)}
	var disk diskFormat
	if err := store.LoadJSON(store.EmbeddingsPath(), &disk); err != nil {
		if err != storage.ErrNotFound {
			return nil, err
		}
	} else if disk.Vectors != nil {
		c.vectors = disk.Vectors
	}
	return c, nil
}

func keyFor(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached vector for text, embedding and caching it via
// the underlying model client on a miss.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := keyFor(text)

	c.mu.RLock()
	if v, ok := c.vectors[key]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	vec, err := c.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.vectors[key] = vec
	c.dirty = true
	c.mu.Unlock()
	return vec, nil
}

// Flush persists the in-memory vector map if it has changed since the last
// Flush. Callers invoke this after batches of Embed calls, not per call.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := c.store.SaveJSON(c.store.EmbeddingsPath(), diskFormat{Vectors: c.vectors}); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Len reports how many distinct texts have been embedded.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}
