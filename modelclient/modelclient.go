// Package modelclient defines the small capability surface planscope depends
// on from a language model: chat completion, tolerant JSON extraction, and
// embeddings. Concrete provider adapters live in modelclient/anthropic,
// modelclient/openai, and modelclient/bedrock.
package modelclient

import "context"

// Options configures a single Complete/CompleteJSON/Embed call.
type Options struct {
	// Model overrides the provider's default model identifier.
	Model string
	// MaxTokens caps the output length when the provider supports it.
	MaxTokens int
	// Temperature controls sampling when the provider supports it.
	Temperature float64
}

// Client is the capability set the core depends on. Implementations must be
// pure: no hidden state, no retries beyond what Options configure.
type Client interface {
	// Complete issues a chat completion and returns the raw text response.
	Complete(ctx context.Context, prompt, systemPrompt string, opts Options) (string, error)

	// CompleteJSON issues a chat completion and tolerantly extracts a JSON
	// value from the response: accepting raw JSON, stripping Markdown
	// fences, extracting the first balanced object, and repairing truncated
	// objects by counting unmatched braces/brackets and appending the
	// missing closers. Returns an errs.ModelClientErr error only after
	// every strategy fails.
	CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts Options) (map[string]any, error)

	// Embed returns a deterministic-dimensionality vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Observer receives a report of every completion the client issues, so
// callers can forward the observation into logs and a reflection chain
// without the client itself holding state.
type Observer interface {
	ObserveCompletion(ctx context.Context, report CompletionReport)
}

// CompletionReport summarizes one Complete/CompleteJSON call for
// observability: duration plus truncated prompt/response text.
type CompletionReport struct {
	Model            string
	DurationSeconds  float64
	PromptPreview    string
	ResponsePreview  string
	Err              error
}

const previewLimit = 500

// Preview truncates s to previewLimit runes for inclusion in a
// CompletionReport, appending an ellipsis marker when truncated.
func Preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit]) + "…"
}
