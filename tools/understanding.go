package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"planscope/modelclient"
	"planscope/storage"
)

// Manifest is the enriched description persisted alongside a tool's
// declared metadata: model-derived capabilities, limitations, best
// practices, use cases, and a one-line purpose statement, merged with the
// declared input_parameters and output_schema.
type Manifest struct {
	Name            string               `json:"name"`
	SourceHash      string               `json:"source_hash"`
	Capabilities    []string             `json:"capabilities"`
	Limitations     []string             `json:"limitations"`
	BestPractices   []string             `json:"best_practices"`
	UseCases        []string             `json:"use_cases"`
	ToolPurpose     string               `json:"tool_purpose"`
	InputParameters map[string]Parameter `json:"input_parameters"`
	OutputSchema    json.RawMessage      `json:"output_schema,omitempty"`
}

// UnderstandingAgent produces and persists Manifests for pool tools,
// caching one manifest file per tool name, valid while the sha256 of the
// tool's name and source is unchanged, so an unchanged tool skips the
// model call. Grounded on the teacher's runtime/registry/cache.go disk
// cache; a renamed tool does not reuse its old manifest.
type UnderstandingAgent struct {
	client modelclient.Client
	store  *storage.Manager
}

// NewUnderstandingAgent returns an UnderstandingAgent.
func NewUnderstandingAgent(client modelclient.Client, store *storage.Manager) *UnderstandingAgent {
	return &UnderstandingAgent{client: client, store: store}
}

// Analyze returns the manifest for metadata, optionally informed by the
// tool's source text. A cache hit on the sha256 of name and source skips
// the model call.
// If the model call fails, Analyze falls back to a manifest built from
// declared metadata only — registration never fails because analysis did.
func (a *UnderstandingAgent) Analyze(ctx context.Context, metadata Metadata, source string) Manifest {
	hash := sourceHash(metadata.Name, source)

	var cached Manifest
	if err := a.store.LoadJSON(a.store.ToolMetadataPath(metadata.Name), &cached); err == nil && cached.SourceHash == hash {
		return cached
	}

	manifest := a.declaredOnly(metadata, hash)

	prompt := buildUnderstandingPrompt(metadata, source)
	answer, err := a.client.CompleteJSON(ctx, prompt, understandingSystemPrompt, modelclient.Options{})
	if err == nil {
		applyModelAnswer(&manifest, answer)
	}

	_ = a.store.SaveJSON(a.store.ToolMetadataPath(metadata.Name), manifest)
	return manifest
}

func (a *UnderstandingAgent) declaredOnly(metadata Metadata, hash string) Manifest {
	return Manifest{
		Name:            metadata.Name,
		SourceHash:      hash,
		ToolPurpose:     metadata.Description,
		InputParameters: metadata.InputParameters,
		OutputSchema:    metadata.OutputSchema,
	}
}

func sourceHash(name, source string) string {
	sum := sha256.Sum256([]byte(name + "\x00" + source))
	return hex.EncodeToString(sum[:])
}

const understandingSystemPrompt = "You analyze tool definitions for a planning system. " +
	"Respond with a single JSON object with keys capabilities, limitations, best_practices, " +
	"use_cases (each a list of short strings), and tool_purpose (a one-sentence string)."

func buildUnderstandingPrompt(metadata Metadata, source string) string {
	p := fmt.Sprintf("Tool name: %s\nKind: %s\nDescription: %s\n", metadata.Name, metadata.Kind, metadata.Description)
	if source != "" {
		p += "Source:\n" + source + "\n"
	}
	return p
}

func applyModelAnswer(m *Manifest, answer map[string]any) {
	m.Capabilities = stringList(answer["capabilities"])
	m.Limitations = stringList(answer["limitations"])
	m.BestPractices = stringList(answer["best_practices"])
	m.UseCases = stringList(answer["use_cases"])
	if purpose, ok := answer["tool_purpose"].(string); ok && purpose != "" {
		m.ToolPurpose = purpose
	}
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
