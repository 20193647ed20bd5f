package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	contextmgr "planscope/context"
	"planscope/embedding"
	"planscope/llmanalyzer"
	"planscope/modelclient"
	"planscope/plan"
	"planscope/progress"
	"planscope/promptcache"
	"planscope/recommender"
	"planscope/storage"
	"planscope/taskmatcher"
	"planscope/tools"
)

// Grounded on embedding/vectorindex_integration_test.go: a real Redis
// container backs taskmatcher's vector index here too, since
// Orchestrator.Run always calls SaveTaskMapping, and the index is a hard
// startup dependency rather than something the core falls back from.
var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("docker not available, skipping orchestrator integration tests: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else if port, err := testRedisContainer.MappedPort(ctx, "6379"); err != nil {
			skipIntegration = true
		} else {
			testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
			if err := testRedisClient.Ping(ctx).Err(); err != nil {
				skipIntegration = true
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())
	return testRedisClient
}

// routingClient answers CompleteJSON differently depending on which
// component's system prompt it was called with, letting one fake drive
// the recommender, the context classifier, plan generation, prompt
// synthesis, and reflection all at once.
type routingClient struct{}

func (routingClient) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	return "", nil
}

func (routingClient) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	switch {
	case strings.Contains(systemPrompt, "select tools"):
		return map[string]any{"tools": []any{"search"}, "reasoning": "search covers the request"}, nil
	case strings.Contains(systemPrompt, "category-subcategory"):
		return map[string]any{"task_class": "research-general"}, nil
	case strings.Contains(systemPrompt, "task planner"):
		return map[string]any{
			"steps": []any{
				map[string]any{
					"step_id":      float64(1),
					"description":  "search for the topic",
					"tool":         "search",
					"tool_input":   map[string]any{},
					"dependencies": []any{},
					"reasoning":    "need to search first",
				},
			},
			"overall_strategy": "single search step",
			"complexity_level": "simple",
		}, nil
	case strings.Contains(systemPrompt, "analyze workflow execution traces"):
		return map[string]any{"strategy": "a single search step satisfies this request"}, nil
	default:
		return map[string]any{"prompt": "synthesized instruction"}, nil
	}
}

func (routingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	rdb := getRedis(t)
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	client := routingClient{}

	embedCache, err := embedding.NewCache(store, client)
	require.NoError(t, err)
	index, err := embedding.NewVectorIndex(context.Background(), rdb)
	require.NoError(t, err)
	analyzer, err := llmanalyzer.New(client, store, embedCache, llmanalyzer.Options{})
	require.NoError(t, err)
	ctxMgr := contextmgr.New(store, embedCache, analyzer, contextmgr.Options{MaxEntriesPerClass: 100, PruneScoreThreshold: -3, TopK: 5})
	matcher := taskmatcher.New(store, embedCache, index, nil)

	pool := tools.NewPool()
	require.NoError(t, pool.Add(tools.Metadata{Name: "search", Description: "searches the web", Kind: tools.KindFunction}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"content": "found it"}, nil
	}))
	registry := tools.NewRegistry(pool)

	prompts := promptcache.New(store, promptcache.Options{})
	bus := progress.New(progress.Options{})

	return New(Deps{
		Store:       store,
		Client:      client,
		Analyzer:    analyzer,
		Context:     ctxMgr,
		Matcher:     matcher,
		Recommender: recommender.New(client),
		Prompts:     prompts,
		Pool:        pool,
		Registry:    registry,
		Bus:         bus,
	})
}

func TestGeneratePlanThenRunReflectsAndRecordsOutcome(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx := context.Background()

	result, err := orch.GeneratePlan(ctx, "session-1", "research the topic")
	require.NoError(t, err)
	require.Len(t, result.Plan.Steps, 1)

	trace, err := orch.Run(ctx, "session-1", "research the topic", result.Plan)
	require.NoError(t, err)
	require.True(t, trace.ExecutionResult.Success)

	entries, err := orch.context.Load("research-general")
	require.NoError(t, err)
	require.NotEmpty(t, entries, "a successful run should curate at least one context entry")

	history, err := orch.ListTaskHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.True(t, history[0].Success)
}

func TestRunSurfacesExecutionErrorAfterReflecting(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx := context.Background()

	badPlan := plan.Plan{
		FlowID:        "flow-bad",
		OriginalQuery: "research the topic",
		Steps:         []plan.Step{{StepID: 1, Tool: "missing-tool", ToolInput: map[string]any{}}},
	}

	trace, err := orch.Run(ctx, "session-1", "research the topic", badPlan)
	require.Error(t, err)
	require.NotNil(t, trace)
	require.False(t, trace.ExecutionResult.Success)

	history, err := orch.ListTaskHistory(10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.False(t, history[0].Success)
}

func TestReflectQualityCuratesOptimizedPromptEntry(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx := context.Background()

	result, err := orch.GeneratePlan(ctx, "session-1", "research the topic")
	require.NoError(t, err)
	trace, err := orch.Run(ctx, "session-1", "research the topic", result.Plan)
	require.NoError(t, err)

	require.NoError(t, orch.ReflectQuality(ctx, trace, 1, "the result omitted key findings"))

	entries, err := orch.context.Load("research-general")
	require.NoError(t, err)

	var found bool
	for _, e := range entries {
		if e.Type == contextmgr.TypeToolUsage && e.Metadata.Source == contextmgr.SourceQualityFeedback {
			found = true
		}
	}
	require.True(t, found)
}

func TestMarkEntryAdjustsScore(t *testing.T) {
	orch := newTestOrchestrator(t)
	ctx := context.Background()

	result, err := orch.GeneratePlan(ctx, "session-1", "research the topic")
	require.NoError(t, err)
	_, err = orch.Run(ctx, "session-1", "research the topic", result.Plan)
	require.NoError(t, err)

	entries, err := orch.context.Load("research-general")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	entryID := entries[0].EntryID
	scoreBefore := entries[0].Metadata.Score

	require.NoError(t, orch.MarkEntry("research-general", entryID, true))
	updated, err := orch.context.Load("research-general")
	require.NoError(t, err)
	for _, e := range updated {
		if e.EntryID == entryID {
			require.Equal(t, scoreBefore+1, e.Metadata.Score)
		}
	}
}
