package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"

	"planscope/errs"
)

// VectorIndex stores task description embeddings in Redis and answers
// nearest-neighbor queries by client-side cosine distance. Grounded on the
// teacher's registry.resultStreamManager: a thin wrapper over *redis.Client
// using a namespaced key per entity plus a set for enumeration, rather than
// an external ANN service — acceptable at the scale this system targets.
type VectorIndex struct {
	rdb       *redis.Client
	keyPrefix string
}

// Match is one nearest-neighbor result.
type Match struct {
	TaskID     string
	Similarity float64
	Metadata   map[string]any
}

type vectorRecord struct {
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

const indexSetKey = "planscope:vectors:index"

// NewVectorIndex returns a VectorIndex backed by rdb, failing fast if Redis
// is unreachable so startup surfaces the dependency rather than every
// later call.
func NewVectorIndex(ctx context.Context, rdb *redis.Client) (*VectorIndex, error) {
	if rdb == nil {
		return nil, errors.New("embedding: redis client is required")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(errs.ModelClientErr, "embedding: redis unavailable", err)
	}
	return &VectorIndex{rdb: rdb, keyPrefix: "planscope:vector:"}, nil
}

func (v *VectorIndex) keyFor(taskID string) string {
	return v.keyPrefix + taskID
}

// AddTask upserts a task's embedding vector and metadata envelope into the
// index.
func (v *VectorIndex) AddTask(ctx context.Context, taskID string, vector []float32, metadata map[string]any) error {
	data, err := json.Marshal(vectorRecord{Vector: vector, Metadata: metadata})
	if err != nil {
		return fmt.Errorf("embedding: marshal vector: %w", err)
	}
	if err := v.rdb.Set(ctx, v.keyFor(taskID), data, 0).Err(); err != nil {
		return errs.Wrap(errs.ModelClientErr, "embedding: store vector", err)
	}
	if err := v.rdb.SAdd(ctx, indexSetKey, taskID).Err(); err != nil {
		return errs.Wrap(errs.ModelClientErr, "embedding: index vector", err)
	}
	return nil
}

// RemoveTask deletes a task's vector from the index.
func (v *VectorIndex) RemoveTask(ctx context.Context, taskID string) error {
	if err := v.rdb.Del(ctx, v.keyFor(taskID)).Err(); err != nil {
		return errs.Wrap(errs.ModelClientErr, "embedding: delete vector", err)
	}
	return v.rdb.SRem(ctx, indexSetKey, taskID).Err()
}

// SearchSimilarTasks returns up to topK task IDs whose vectors are most
// cosine-similar to query, sorted by descending similarity.
func (v *VectorIndex) SearchSimilarTasks(ctx context.Context, query []float32, topK int) ([]Match, error) {
	ids, err := v.rdb.SMembers(ctx, indexSetKey).Result()
	if err != nil {
		return nil, errs.Wrap(errs.ModelClientErr, "embedding: list indexed tasks", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = v.keyFor(id)
	}
	raws, err := v.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errs.Wrap(errs.ModelClientErr, "embedding: fetch vectors", err)
	}

	matches := make([]Match, 0, len(ids))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok || s == "" {
			continue // vector expired or removed between SMembers and MGet
		}
		var rec vectorRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		matches = append(matches, Match{TaskID: ids[i], Similarity: CosineSimilarity(query, rec.Vector), Metadata: rec.Metadata})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 if either
// is a zero vector or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
