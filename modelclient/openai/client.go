// Package openai implements modelclient.Client on top of the OpenAI Chat
// Completions API via github.com/openai/openai-go, grounded on the teacher's
// features/model/openai adapter shape (a minimal ChatClient seam, translate
// request/response, best-effort JSON tool argument parsing) adapted from the
// sashabaranov SDK surface to the official openai-go client.
package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"planscope/errs"
	"planscope/modelclient"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so callers can substitute a mock in tests.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// EmbeddingsClient captures the embeddings endpoint used by Embed.
type EmbeddingsClient interface {
	New(ctx context.Context, params openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Options configures the adapter.
type Options struct {
	DefaultModel   string
	EmbeddingModel string
}

// Client implements modelclient.Client via OpenAI Chat Completions.
type Client struct {
	chat       ChatClient
	embeddings EmbeddingsClient
	model      string
	embedModel string
}

// New builds a Client from the provided chat and (optional) embeddings
// clients.
func New(chat ChatClient, embeddings EmbeddingsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, embeddings: embeddings, model: modelID, embedModel: opts.EmbeddingModel}, nil
}

// NewFromAPIKey constructs a Client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel, embeddingModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, &c.Embeddings, Options{DefaultModel: defaultModel, EmbeddingModel: embeddingModel})
}

// Complete issues a chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	params := c.buildParams(prompt, systemPrompt, opts)
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", errs.Wrap(errs.ModelClientErr, "openai: chat completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.New(errs.ModelClientErr, "openai: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON issues a completion and tolerantly extracts a JSON object via
// modelclient.ExtractJSON.
func (c *Client) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	text, err := c.Complete(ctx, prompt, systemPrompt, opts)
	if err != nil {
		return nil, err
	}
	return modelclient.ExtractJSON(text)
}

// Embed returns the embedding vector for text using the configured
// embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embeddings == nil {
		return nil, errs.New(errs.ModelClientErr, "openai: no embeddings client configured")
	}
	modelID := c.embedModel
	if modelID == "" {
		modelID = "text-embedding-3-small"
	}
	resp, err := c.embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(modelID),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, errs.Wrap(errs.ModelClientErr, "openai: embeddings failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, errs.New(errs.ModelClientErr, "openai: empty embeddings response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) buildParams(prompt, systemPrompt string, opts modelclient.Options) openai.ChatCompletionNewParams {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(prompt))
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	return params
}
