package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"planscope/modelclient"
)

type fakeChatClient struct {
	resp *openai.ChatCompletion
	err  error
}

func (f fakeChatClient) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return f.resp, f.err
}

type fakeEmbeddingsClient struct {
	resp *openai.CreateEmbeddingResponse
	err  error
}

func (f fakeEmbeddingsClient) New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error) {
	return f.resp, f.err
}

func chatResponse(content string) *openai.ChatCompletion {
	resp := &openai.ChatCompletion{}
	resp.Choices = []openai.ChatCompletionChoice{{}}
	resp.Choices[0].Message.Content = content
	return resp
}

func TestNewRequiresChatClient(t *testing.T) {
	_, err := New(nil, nil, Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(fakeChatClient{}, nil, Options{})
	require.Error(t, err)
}

func TestCompleteReturnsFirstChoiceContent(t *testing.T) {
	c, err := New(fakeChatClient{resp: chatResponse("hello from gpt")}, nil, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "hi", "", modelclient.Options{})
	require.NoError(t, err)
	require.Equal(t, "hello from gpt", out)
}

func TestCompleteFailsOnEmptyChoices(t *testing.T) {
	c, err := New(fakeChatClient{resp: &openai.ChatCompletion{}}, nil, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "hi", "", modelclient.Options{})
	require.Error(t, err)
}

func TestCompleteWrapsUnderlyingError(t *testing.T) {
	c, err := New(fakeChatClient{err: errors.New("boom")}, nil, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "hi", "", modelclient.Options{})
	require.Error(t, err)
}

func TestCompleteJSONExtractsObjectFromResponseText(t *testing.T) {
	c, err := New(fakeChatClient{resp: chatResponse("{\"answer\": 42}")}, nil, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	got, err := c.CompleteJSON(context.Background(), "hi", "", modelclient.Options{})
	require.NoError(t, err)
	require.Equal(t, float64(42), got["answer"])
}

func TestEmbedWithoutConfiguredEmbedderFails(t *testing.T) {
	c, err := New(fakeChatClient{}, nil, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
}

func TestEmbedConvertsFloat64VectorToFloat32(t *testing.T) {
	resp := &openai.CreateEmbeddingResponse{}
	resp.Data = []openai.Embedding{{Embedding: []float64{1, 2, 3}}}
	c, err := New(fakeChatClient{}, fakeEmbeddingsClient{resp: resp}, Options{DefaultModel: "gpt-4o", EmbeddingModel: "text-embedding-3-small"})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3}, vec)
}

func TestEmbedFailsOnEmptyData(t *testing.T) {
	c, err := New(fakeChatClient{}, fakeEmbeddingsClient{resp: &openai.CreateEmbeddingResponse{}}, Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "text")
	require.Error(t, err)
}
