// Command planscopectl wires every planscope component together and
// drives one plan-generate/execute/reflect cycle from the command line.
// Grounded on the teacher's registry/cmd/registry for the
// environment-configured, Redis-backed composition root shape.
//
// # Configuration
//
// planscopectl reads a TOML file (first argument, optional) over built-in
// defaults, then applies environment overrides:
//
//	PLANSCOPE_WORKDIR            - work directory root (default: ./planscope-data)
//	PLANSCOPE_ANTHROPIC_API_KEY  - Anthropic API key
//	PLANSCOPE_OPENAI_API_KEY     - OpenAI API key
//	PLANSCOPE_REDIS_ADDR         - Redis address (default: 127.0.0.1:6379)
//
// # Example
//
//	PLANSCOPE_ANTHROPIC_API_KEY=sk-... planscopectl config.toml "summarize the attached report"
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"planscope/config"
	contextmgr "planscope/context"
	"planscope/embedding"
	"planscope/llmanalyzer"
	"planscope/modelclient"
	"planscope/modelclient/anthropic"
	"planscope/modelclient/bedrock"
	"planscope/modelclient/openai"
	"planscope/modelclient/ratelimit"
	"planscope/orchestrator"
	"planscope/progress"
	"planscope/promptcache"
	"planscope/recommender"
	"planscope/storage"
	"planscope/taskmatcher"
	"planscope/telemetry"
	"planscope/tools"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	ctx := context.Background()

	var cfgPath, description string
	switch len(args) {
	case 0:
		return fmt.Errorf("usage: planscopectl [config.toml] <task description>")
	case 1:
		description = args[0]
	default:
		cfgPath, description = args[0], args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.New(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	client, err := newModelClient(cfg.Model)
	if err != nil {
		return fmt.Errorf("init model client: %w", err)
	}

	embedCache, err := embedding.NewCache(store, client)
	if err != nil {
		return fmt.Errorf("init embedding cache: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Embedding.RedisAddr, DB: cfg.Embedding.RedisDB})
	defer rdb.Close()
	vectorIndex, err := embedding.NewVectorIndex(ctx, rdb)
	if err != nil {
		return fmt.Errorf("init vector index: %w", err)
	}

	analyzer, err := llmanalyzer.New(client, store, embedCache, llmanalyzer.Options{
		MaxAge: cfg.Cache.MaxAge, MaxEntries: cfg.Cache.MaxEntries, SemanticThreshold: cfg.Cache.SemanticThreshold,
	})
	if err != nil {
		return fmt.Errorf("init llm analyzer: %w", err)
	}

	logger, _, _ := telemetry.NewNoop()

	ctxMgr := contextmgr.New(store, embedCache, analyzer, contextmgr.Options{
		TopK: cfg.ContextMgr.TopK, MaxEntriesPerClass: cfg.ContextMgr.MaxEntriesPerClass, PruneScoreThreshold: cfg.ContextMgr.PruneScoreThreshold,
	})
	matcher := taskmatcher.New(store, embedCache, vectorIndex, logger)
	rec := recommender.New(client)
	prompts := promptcache.New(store, promptcache.Options{})
	pool := tools.NewPool()
	registry := tools.NewRegistry(pool)
	bus := progress.New(progress.Options{QueueSize: cfg.Progress.QueueSize, InactivityTimeout: cfg.Progress.InactivityTimeout})

	registerBuiltinTools(pool, client)

	orch := orchestrator.New(orchestrator.Deps{
		Store: store, Client: client, Analyzer: analyzer, Context: ctxMgr, Matcher: matcher,
		Recommender: rec, Prompts: prompts, Pool: pool, Registry: registry, Bus: bus, Logger: logger,
	})

	sessionID := uuid.New().String()
	result, err := orch.GeneratePlan(ctx, sessionID, description)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}
	fmt.Printf("flow_id=%s reused=%v\n", result.Plan.FlowID, result.Reused)

	trace, err := orch.Run(ctx, sessionID, description, result.Plan)
	if trace != nil {
		fmt.Printf("trace_id=%s success=%v steps=%d\n", trace.TraceID, trace.ExecutionResult.Success, len(trace.ExecutionResult.ExecutedSteps))
	}
	if err != nil {
		return fmt.Errorf("execute plan: %w", err)
	}

	_ = embedCache.Flush()
	return nil
}

func newModelClient(cfg config.ModelConfig) (modelclient.Client, error) {
	client, err := newProviderClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimit.InitialTPM > 0 || cfg.RateLimit.MaxTPM > 0 {
		client = ratelimit.New(cfg.RateLimit.InitialTPM, cfg.RateLimit.MaxTPM).Wrap(client)
	}
	return client, nil
}

func newProviderClient(cfg config.ModelConfig) (modelclient.Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return openai.NewFromAPIKey(cfg.OpenAIKey, cfg.DefaultModel, cfg.EmbeddingModel)
	case "anthropic":
		embedder, err := openai.NewFromAPIKey(cfg.OpenAIKey, cfg.DefaultModel, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("init embeddings provider for anthropic adapter: %w", err)
		}
		return anthropic.NewFromAPIKey(cfg.AnthropicKey, cfg.DefaultModel, embedder)
	case "bedrock":
		embedder, err := openai.NewFromAPIKey(cfg.OpenAIKey, cfg.DefaultModel, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("init embeddings provider for bedrock adapter: %w", err)
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config for bedrock adapter: %w", err)
		}
		return bedrock.NewFromConfig(awsCfg, cfg.DefaultModel, embedder)
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// registerBuiltinTools adds the one pure-function-shaped tool every
// deployment needs regardless of domain: a general-purpose text
// processor that forwards its prompt through the model as an llm-kind
// tool. Domain-specific tools are added by the host application before
// calling GeneratePlan; planscopectl only needs enough to exercise the
// pipeline end to end.
func registerBuiltinTools(pool *tools.Pool, client modelclient.Client) {
	handle := func(ctx context.Context, input map[string]any) (map[string]any, error) {
		prompt, _ := input["prompt"].(string)
		content, _ := input["content"].(string)
		text, err := client.Complete(ctx, prompt+"\n\n"+content, "", modelclient.Options{})
		if err != nil {
			return nil, err
		}
		return map[string]any{"content": text}, nil
	}
	_ = pool.Add(tools.Metadata{
		Name:        "general_llm_processor",
		Description: "Processes free-form text content through the model according to a prompt.",
		Kind:        tools.KindLLM,
		InputParameters: map[string]tools.Parameter{
			"prompt":  {Type: "string", Required: true, Description: "Instruction describing how to process the content."},
			"content": {Type: "string", Required: false, Description: "Text content to process, often a prior step's output."},
		},
		OutputSchema: []byte(`{"type":"object","properties":{"content":{"type":"string"}},"required":["content"]}`),
	}, handle)
}
