// Package anthropic implements modelclient.Client on top of the Anthropic
// Claude Messages API, grounded on the teacher's features/model/anthropic
// adapter: the same MessagesClient seam for testability and the same
// Options-with-defaults shape. Provider errors are not classified: every
// one is wrapped as an errs.ModelClientErr.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"planscope/errs"
	"planscope/modelclient"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so callers can substitute a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// EmbeddingsClient captures the embedding endpoint used by Embed. Anthropic
// does not offer a native embeddings API; deployments typically pair the
// Claude client with a dedicated embedding provider. Callers inject one here
// so Embed stays provider-agnostic at the call site.
type EmbeddingsClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures the adapter.
type Options struct {
	// DefaultModel is used when a call does not specify Options.Model.
	DefaultModel string
	// MaxTokens caps completion length when a call does not specify one.
	MaxTokens int
	// Temperature is used when a call does not specify one.
	Temperature float64
}

// Client implements modelclient.Client on top of Anthropic Messages.
type Client struct {
	msg          MessagesClient
	embed        EmbeddingsClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client from the provided Anthropic Messages client and an
// optional embeddings client (nil disables Embed).
func New(msg MessagesClient, embed EmbeddingsClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{
		msg:          msg,
		embed:        embed,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the default Anthropic HTTP client
// configured from apiKey.
func NewFromAPIKey(apiKey, defaultModel string, embed EmbeddingsClient) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, embed, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New request and returns the
// concatenated text content.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	params := c.buildParams(prompt, systemPrompt, opts)
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", translateErr(err)
	}
	return concatText(msg), nil
}

// CompleteJSON issues a completion and tolerantly extracts a JSON object
// from the response text via modelclient.ExtractJSON.
func (c *Client) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	text, err := c.Complete(ctx, prompt, systemPrompt, opts)
	if err != nil {
		return nil, err
	}
	return modelclient.ExtractJSON(text)
}

// Embed delegates to the configured embeddings client.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embed == nil {
		return nil, errs.New(errs.ModelClientErr, "anthropic: no embeddings client configured")
	}
	return c.embed.Embed(ctx, text)
}

func (c *Client) buildParams(prompt, systemPrompt string, opts modelclient.Options) sdk.MessageNewParams {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	temp := opts.Temperature
	if temp <= 0 {
		temp = c.temperature
	}
	if temp > 0 {
		params.Temperature = sdk.Float(temp)
	}
	return params
}

func concatText(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			out += block.Text
		}
	}
	return out
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(errs.ModelClientErr, fmt.Sprintf("anthropic: messages.new: %v", err), err)
}
