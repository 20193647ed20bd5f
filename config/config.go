// Package config loads planscope's component options from a TOML file with
// environment variable overrides, following the Options-struct-with-defaults
// pattern used throughout the teacher's provider adapters.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config aggregates the options every planscope component needs. Load
// populates it from a TOML file and environment overrides; callers
// typically pass the relevant sub-struct to each component constructor.
type Config struct {
	// WorkDir is the root of the four-layer storage tree
	// (persistent/cache/runtime/config). Overridden by PLANSCOPE_WORKDIR.
	WorkDir string `toml:"work_dir"`

	Model      ModelConfig      `toml:"model"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Cache      CacheConfig      `toml:"cache"`
	TaskMatch  TaskMatchConfig  `toml:"task_match"`
	ContextMgr ContextMgrConfig `toml:"context"`
	Progress   ProgressConfig   `toml:"progress"`
}

// ModelConfig configures the LLM provider adapters.
type ModelConfig struct {
	Provider       string `toml:"provider"` // "anthropic", "openai", or "bedrock"
	AnthropicKey   string `toml:"anthropic_api_key"`
	OpenAIKey      string `toml:"openai_api_key"`
	BedrockRegion  string `toml:"bedrock_region"`
	DefaultModel   string `toml:"default_model"`
	EmbeddingModel string `toml:"embedding_model"`
	// CompletionTimeout is the model-completion timeout (default 60s per
	// spec §5). It is loaded and defaulted only: no component reads it, so
	// completions are bounded by the caller's context alone.
	CompletionTimeout time.Duration `toml:"completion_timeout"`
	// EmbeddingTimeout is the embedding-fetch timeout (default 30s per
	// spec §5). It is loaded and defaulted only: no component reads it.
	EmbeddingTimeout time.Duration `toml:"embedding_timeout"`

	// RateLimit, when non-zero, wraps the provider adapter with an adaptive
	// tokens-per-minute limiter (modelclient/ratelimit).
	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig configures the adaptive model-client rate limiter.
type RateLimitConfig struct {
	InitialTPM float64 `toml:"initial_tpm"`
	MaxTPM     float64 `toml:"max_tpm"`
}

// EmbeddingConfig configures the embedding substrate.
type EmbeddingConfig struct {
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

// CacheConfig configures LLMAnalyzer/PromptCacheManager hygiene.
type CacheConfig struct {
	// MaxAge is the eviction age for cache entries (default 30 days).
	MaxAge time.Duration `toml:"max_age"`
	// MaxEntries bounds LRU eviction (default unbounded when zero).
	MaxEntries int `toml:"max_entries"`
	// SemanticThreshold is the default semantic-cache similarity threshold.
	SemanticThreshold float64 `toml:"semantic_threshold"`
}

// TaskMatchConfig holds TaskMatcher reuse thresholds. It is loaded and
// defaulted only: TaskMatcher and PlanGenerator do not read it, and plan
// reuse uses plangen's fixed 0.85 similarity threshold.
type TaskMatchConfig struct {
	ReuseThreshold    float64 `toml:"reuse_threshold"`
	RetrievalThreshold float64 `toml:"retrieval_threshold"`
	TopK              int     `toml:"top_k"`
}

// ContextMgrConfig configures ContextManager retention.
type ContextMgrConfig struct {
	TopK             int `toml:"top_k"`
	MaxEntriesPerClass int `toml:"max_entries_per_class"`
	PruneScoreThreshold int `toml:"prune_score_threshold"`
}

// ProgressConfig configures ProgressBus queue sizing.
type ProgressConfig struct {
	QueueSize          int           `toml:"queue_size"`
	InactivityTimeout  time.Duration `toml:"inactivity_timeout"`
}

// Default returns a Config populated with the defaults named throughout
// spec.md (similarity thresholds, cache TTLs, retention caps).
func Default() Config {
	return Config{
		WorkDir: "./planscope-data",
		Model: ModelConfig{
			Provider:          "anthropic",
			CompletionTimeout: 60 * time.Second,
			EmbeddingTimeout:  30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			RedisAddr: "127.0.0.1:6379",
		},
		Cache: CacheConfig{
			MaxAge:            30 * 24 * time.Hour,
			SemanticThreshold: 0.95,
		},
		TaskMatch: TaskMatchConfig{
			ReuseThreshold:     0.85,
			RetrievalThreshold: 0.80,
			TopK:               5,
		},
		ContextMgr: ContextMgrConfig{
			TopK:                5,
			MaxEntriesPerClass:  100,
			PruneScoreThreshold: -3,
		},
		Progress: ProgressConfig{
			QueueSize:         256,
			InactivityTimeout: 60 * time.Second,
		},
	}
}

// Load reads path (if non-empty and present) over the defaults, then applies
// environment variable overrides. A missing path is not an error: Load falls
// back to Default().
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PLANSCOPE_WORKDIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("PLANSCOPE_ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.AnthropicKey = v
	}
	if v := os.Getenv("PLANSCOPE_OPENAI_API_KEY"); v != "" {
		cfg.Model.OpenAIKey = v
	}
	if v := os.Getenv("PLANSCOPE_REDIS_ADDR"); v != "" {
		cfg.Embedding.RedisAddr = v
	}
}
