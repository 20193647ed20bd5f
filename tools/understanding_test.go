package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"planscope/modelclient"
	"planscope/storage"
)

func newTestStore(t *testing.T) *storage.Manager {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestAnalyzeFallsBackToDeclaredMetadataWhenModelFails(t *testing.T) {
	store := newTestStore(t)
	agent := NewUnderstandingAgent(failingClient{}, store)

	metadata := Metadata{Name: "search", Description: "searches the web", Kind: KindFunction}
	manifest := agent.Analyze(context.Background(), metadata, "func Search() {}")

	require.Equal(t, "search", manifest.Name)
	require.Equal(t, "searches the web", manifest.ToolPurpose)
	require.Nil(t, manifest.Capabilities)
}

func TestAnalyzeAppliesModelAnswerOnSuccess(t *testing.T) {
	store := newTestStore(t)
	agent := NewUnderstandingAgent(answeringClient{
		answer: map[string]any{
			"capabilities": []any{"full text search"},
			"tool_purpose": "Finds relevant documents.",
		},
	}, store)

	metadata := Metadata{Name: "search", Description: "searches the web", Kind: KindFunction}
	manifest := agent.Analyze(context.Background(), metadata, "func Search() {}")

	require.Equal(t, []string{"full text search"}, manifest.Capabilities)
	require.Equal(t, "Finds relevant documents.", manifest.ToolPurpose)
}

func TestAnalyzeCachesBySourceHash(t *testing.T) {
	store := newTestStore(t)
	client := &countingClient{answer: map[string]any{"tool_purpose": "first"}}
	agent := NewUnderstandingAgent(client, store)
	metadata := Metadata{Name: "search", Description: "d", Kind: KindFunction}

	agent.Analyze(context.Background(), metadata, "same source")
	agent.Analyze(context.Background(), metadata, "same source")

	require.Equal(t, 1, client.calls, "unchanged source should hit the cache on the second call")
}

func TestAnalyzeRecomputesWhenSourceChanges(t *testing.T) {
	store := newTestStore(t)
	client := &countingClient{answer: map[string]any{"tool_purpose": "first"}}
	agent := NewUnderstandingAgent(client, store)
	metadata := Metadata{Name: "search", Description: "d", Kind: KindFunction}

	agent.Analyze(context.Background(), metadata, "source v1")
	agent.Analyze(context.Background(), metadata, "source v2")

	require.Equal(t, 2, client.calls)
}

type failingClient struct{}

func (failingClient) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	return "", nil
}
func (failingClient) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	return nil, context.Canceled
}
func (failingClient) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }

type answeringClient struct{ answer map[string]any }

func (a answeringClient) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	return "", nil
}
func (a answeringClient) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	return a.answer, nil
}
func (a answeringClient) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }

type countingClient struct {
	answer map[string]any
	calls  int
}

func (c *countingClient) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	return "", nil
}
func (c *countingClient) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	c.calls++
	return c.answer, nil
}
func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) { return nil, nil }
