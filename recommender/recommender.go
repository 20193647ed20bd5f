// Package recommender implements ToolRecommender: a single model call that
// selects 2-5 pool tools for a request and explains why. Grounded on the
// teacher's tool-selection prompting shape in runtime/agent/planner, here
// reduced to the one-shot recommendation this system needs rather than an
// iterative planning loop.
package recommender

import (
	"context"
	"fmt"
	"strings"

	"planscope/errs"
	"planscope/modelclient"
	"planscope/tools"
)

// Recommendation is the model's tool selection and its rationale.
type Recommendation struct {
	Tools     []string `json:"tools"`
	Reasoning string   `json:"reasoning"`
}

// Recommender selects tools for a request from the pool.
type Recommender struct {
	client modelclient.Client
}

// New returns a Recommender.
func New(client modelclient.Client) *Recommender {
	return &Recommender{client: client}
}

const minTools, maxTools = 2, 5

const systemPrompt = "You select tools for a task planning system. Choose between 2 and 5 tools " +
	"from the catalogue that are most likely needed to satisfy the request. Respond with a single " +
	"JSON object: {\"tools\": [\"tool_name\", ...], \"reasoning\": \"...\"}."

// Recommend asks the model to choose tools from pool for description.
func (r *Recommender) Recommend(ctx context.Context, description string, pool *tools.Pool) (Recommendation, error) {
	prompt := buildPrompt(description, pool)
	answer, err := r.client.CompleteJSON(ctx, prompt, systemPrompt, modelclient.Options{})
	if err != nil {
		return Recommendation{}, err
	}

	names := stringList(answer["tools"])
	reasoning, _ := answer["reasoning"].(string)

	valid := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := pool.Get(name); ok {
			valid = append(valid, name)
		}
	}
	if len(valid) == 0 {
		return Recommendation{}, errs.New(errs.ToolNotFound, "recommender: model selected no valid pool tools")
	}
	return Recommendation{Tools: valid, Reasoning: reasoning}, nil
}

func buildPrompt(description string, pool *tools.Pool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nAvailable tools:\n", description)
	for _, entry := range pool.All() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", entry.Metadata.Name, entry.Metadata.Kind, entry.Metadata.Description)
	}
	fmt.Fprintf(&b, "\nChoose between %d and %d tools.\n", minTools, maxTools)
	return b.String()
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
