package plangen

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
// container backs taskmatcher's vector index here too, since every
// GeneratePlan path ends in a persist() call that writes a task mapping
// through it, and the index is a hard startup dependency rather than
// something the core falls back from.
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
		fmt.Printf("docker not available, skipping plangen integration tests: %v\n", containerErr)
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
// component's system prompt it was called with, so a single fake can drive
// the tool recommender, the context manager's classifier, the plan
// generation call, and the default-prompt synthesizer.
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
					"tool_input":   map[string]any{"prompt": ""},
					"dependencies": []any{},
					"reasoning":    "need to search first",
				},
			},
			"overall_strategy": "single search step",
			"complexity_level": "simple",
		}, nil
	case strings.Contains(systemPrompt, "default instruction prompt"), strings.Contains(prompt, "Write a default instruction prompt"):
		return map[string]any{"prompt": "synthesized instruction"}, nil
	default:
		return map[string]any{"prompt": "synthesized instruction"}, nil
	}
}

func (routingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func newTestStore(t *testing.T) *storage.Manager {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return store
}

// newTestMatcher builds a taskmatcher.Matcher backed by store and a real
// (testcontainers) Redis vector index, so every GeneratePlan path's
// trailing persist() call can complete without the background
// SaveTaskMapping goroutine faulting on a nil index.
func newTestMatcher(t *testing.T, store *storage.Manager, client modelclient.Client, embedCache *embedding.Cache) *taskmatcher.Matcher {
	t.Helper()
	rdb := getRedis(t)
	index, err := embedding.NewVectorIndex(context.Background(), rdb)
	require.NoError(t, err)
	return taskmatcher.New(store, embedCache, index, nil)
}

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	store := newTestStore(t)
	client := routingClient{}

	embedCache, err := embedding.NewCache(store, client)
	require.NoError(t, err)
	analyzer, err := llmanalyzer.New(client, store, embedCache, llmanalyzer.Options{})
	require.NoError(t, err)
	ctxMgr := contextmgr.New(store, embedCache, analyzer, contextmgr.Options{MaxEntriesPerClass: 100, PruneScoreThreshold: -3, TopK: 5})
	matcher := newTestMatcher(t, store, client, embedCache)

	pool := tools.NewPool()
	require.NoError(t, pool.Add(tools.Metadata{Name: "search", Description: "searches the web", Kind: tools.KindFunction}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}))
	registry := tools.NewRegistry(pool)

	prompts := promptcache.New(store, promptcache.Options{})
	bus := progress.New(progress.Options{})

	return New(matcher, recommender.New(client), ctxMgr, client, analyzer, prompts, pool, registry, store, bus, nil)
}

func TestGenerateFreshBuildsAndPersistsAPlan(t *testing.T) {
	gen := newTestGenerator(t)

	result, err := gen.generateFresh(context.Background(), "session-1", "research the topic")
	require.NoError(t, err)
	require.False(t, result.Reused)
	require.Len(t, result.Plan.Steps, 1)
	require.Equal(t, "search", result.Plan.Steps[0].Tool)
	require.NotEmpty(t, result.Plan.ReflectionChainID)

	var persisted plan.Plan
	require.NoError(t, gen.store.LoadJSON(gen.store.PlanPath(result.Plan.FlowID), &persisted))
	require.Equal(t, result.Plan.FlowID, persisted.FlowID)
}

func TestGenerateFreshSynthesizesDefaultPromptWhenMissing(t *testing.T) {
	gen := newTestGenerator(t)

	result, err := gen.generateFresh(context.Background(), "session-1", "research the topic")
	require.NoError(t, err)
	require.Equal(t, "synthesized instruction", result.Plan.Steps[0].ToolInput["prompt"])

	cached, ok, err := gen.prompts.GetCached(result.Plan.FlowID, "search")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "synthesized instruction", cached.Prompt)
}

func TestGeneratePlanReusesExactMatchWithoutCallingTheModel(t *testing.T) {
	store := newTestStore(t)
	client := routingClient{}
	embedCache, err := embedding.NewCache(store, client)
	require.NoError(t, err)
	matcher := newTestMatcher(t, store, client, embedCache)
	bus := progress.New(progress.Options{})

	pool := tools.NewPool()
	require.NoError(t, pool.Add(tools.Metadata{Name: "search", Description: "searches the web", Kind: tools.KindFunction}, func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}))
	registry := tools.NewRegistry(pool)

	existing := plan.Plan{FlowID: "flow-1", OriginalQuery: "summarize the report", Steps: []plan.Step{{StepID: 1, Tool: "search"}}}
	require.NoError(t, store.SaveJSON(store.TaskPath("flow-1"), plan.TaskRecord{Plan: existing, Success: true}))
	require.NoError(t, store.SaveJSON(store.PlanPath("flow-1"), existing))

	gen := New(matcher, nil, nil, nil, nil, nil, pool, registry, store, bus, nil)

	result, err := gen.GeneratePlan(context.Background(), "session-1", "Summarize The Report")
	require.NoError(t, err)
	require.True(t, result.Reused)
	require.Equal(t, "flow-1", result.ReusedFrom)
	require.NotEqual(t, "flow-1", result.Plan.FlowID, "exact reuse must mint a fresh flow_id")
	require.NotEmpty(t, result.Plan.FlowID)

	_, enabled := registry.Get("search")
	require.True(t, enabled, "exact reuse must pull the reused plan's tools into the registry")
}
