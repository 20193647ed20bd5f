// Package bedrock implements modelclient.Client on top of the AWS Bedrock
// Converse API via github.com/aws/aws-sdk-go-v2/service/bedrockruntime,
// grounded on the teacher's features/model/bedrock adapter: the same
// RuntimeClient seam for testability and the same ThrottlingException
// detection, reduced to planscope's narrower Complete/CompleteJSON/Embed
// surface (no tool_use/thinking/streaming, which planscope's core never
// drives).
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"planscope/errs"
	"planscope/modelclient"
)

// RuntimeClient captures the subset of the AWS Bedrock runtime client used by
// the adapter, so callers can substitute a mock in tests. Satisfied by
// *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// EmbeddingsClient captures the embedding endpoint used by Embed. Bedrock
// exposes embeddings through separate foundation models (e.g. Titan Text
// Embeddings) invoked via InvokeModel rather than Converse; callers inject an
// adapter for that call here so Embed stays provider-agnostic at the call
// site, mirroring the anthropic adapter's EmbeddingsClient seam.
type EmbeddingsClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures the adapter.
type Options struct {
	// DefaultModel is the Bedrock model identifier used when a call does not
	// specify one (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0").
	DefaultModel string
	// MaxTokens caps completion length when a call does not specify one.
	MaxTokens int
	// Temperature is used when a call does not specify one.
	Temperature float64
}

// Client implements modelclient.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	embed        EmbeddingsClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Client from the provided Bedrock runtime client and an
// optional embeddings client (nil disables Embed).
func New(runtime RuntimeClient, embed EmbeddingsClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{
		runtime:      runtime,
		embed:        embed,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromConfig constructs a Client using a *bedrockruntime.Client built from
// an already-loaded aws.Config, leaving credential resolution (env vars,
// shared config, IAM role) to the AWS SDK's default chain.
func NewFromConfig(cfg aws.Config, defaultModel string, embed EmbeddingsClient) (*Client, error) {
	return New(bedrockruntime.NewFromConfig(cfg), embed, Options{DefaultModel: defaultModel})
}

// Complete issues a Converse request and returns the concatenated text of
// the assistant's reply.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	input := c.buildInput(prompt, systemPrompt, opts)
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", translateErr(err)
	}
	return concatText(out), nil
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

// Embed delegates to the configured embeddings client.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.embed == nil {
		return nil, errs.New(errs.ModelClientErr, "bedrock: no embeddings client configured")
	}
	return c.embed.Embed(ctx, text)
}

func (c *Client) buildInput(prompt, systemPrompt string, opts modelclient.Options) *bedrockruntime.ConverseInput {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	temp := float32(opts.Temperature)
	if temp <= 0 {
		temp = float32(c.temperature)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	}
	if systemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: systemPrompt}}
	}
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		cfg.MaxTokens = &mt
	}
	if temp > 0 {
		cfg.Temperature = &temp
	}
	input.InferenceConfig = cfg
	return input
}

func concatText(out *bedrockruntime.ConverseOutput) string {
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ThrottlingException" {
		return errs.Wrap(errs.ModelClientErr, "bedrock: converse throttled, retry with backoff", err)
	}
	return errs.Wrap(errs.ModelClientErr, fmt.Sprintf("bedrock: converse: %v", err), err)
}
